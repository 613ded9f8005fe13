package raster

import (
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
)

func TestDTypeSizes(t *testing.T) {
	for dtype, want := range map[DType]int{
		U8:   1,
		I16:  2,
		U16:  2,
		I32:  4,
		U32:  4,
		F32:  4,
		F64:  8,
		CI16: 4,
		CI32: 8,
		CF32: 8,
		CF64: 16,
	} {
		expect.EQ(t, dtype.Size(), want, "dtype:", dtype)
		expect.True(t, dtype.Valid())
	}
	expect.False(t, InvalidDType.Valid())
	expect.EQ(t, InvalidDType.Size(), 0)
}

func TestDTypeComplexDoublesWidth(t *testing.T) {
	expect.EQ(t, CI16.Size(), 2*I16.Size())
	expect.EQ(t, CI32.Size(), 2*I32.Size())
	expect.EQ(t, CF32.Size(), 2*F32.Size())
	expect.EQ(t, CF64.Size(), 2*F64.Size())
}

func TestParseDType(t *testing.T) {
	for dtype, name := range dtypeNames {
		got, err := ParseDType(name)
		assert.NoError(t, err)
		assert.Equal(t, dtype, got)
		assert.Equal(t, name, got.String())
		expect.True(t, got.IsComplex() == (name[0] == 'c'))
	}
	_, err := ParseDType("uint64")
	assert.Error(t, err)
	_, err = ParseDType("")
	assert.Error(t, err)
}
