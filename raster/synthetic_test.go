package raster

import (
	"encoding/binary"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticCoverage(t *testing.T) {
	s := NewSynthetic(100, 100, 1)
	s.AddNoData(Rect{X0: 0, Y0: 0, X1: 50, Y1: 100})

	cov, err := s.CoverageStatus(0, 0, 50, 50)
	assert.NoError(t, err)
	expect.EQ(t, cov, CoverageEmpty)

	cov, err = s.CoverageStatus(0, 0, 100, 100)
	assert.NoError(t, err)
	expect.EQ(t, cov, CoveragePartial)

	cov, err = s.CoverageStatus(50, 0, 50, 50)
	assert.NoError(t, err)
	expect.EQ(t, cov, CoverageFull)

	_, err = s.CoverageStatus(50, 50, 100, 100)
	assert.Error(t, err, "window extends past the raster")
}

func TestSyntheticReadWindowInterleavesBands(t *testing.T) {
	s := NewSynthetic(64, 64, 3)
	bands := []int{3, 1, 2}
	buf := make([]byte, U16.Size()*len(bands)*2*2)
	require.NoError(t, s.ReadWindow(10, 20, 2, 2, U16, bands, buf))

	i := 0
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			for _, b := range bands {
				got := binary.LittleEndian.Uint16(buf[i*2:])
				expect.EQ(t, got, uint16(Sample(10+dx, 20+dy, b)), "pixel", dx, dy, "band", b)
				i++
			}
		}
	}
}

func TestSyntheticReadWindowTruncatesU8(t *testing.T) {
	s := NewSynthetic(1000, 1000, 1)
	buf := make([]byte, 1)
	require.NoError(t, s.ReadWindow(999, 999, 1, 1, U8, []int{1}, buf))
	expect.EQ(t, buf[0], uint8(Sample(999, 999, 1)))
}

func TestSyntheticNoDataReadsZero(t *testing.T) {
	s := NewSynthetic(100, 100, 1)
	s.AddNoData(Rect{X0: 10, Y0: 10, X1: 20, Y1: 20})
	buf := make([]byte, 4)
	require.NoError(t, s.ReadWindow(9, 9, 2, 2, U8, []int{1}, buf))
	// Window straddles the nodata corner: (9,9) valid, (10,10) masked.
	expect.EQ(t, buf[0], uint8(Sample(9, 9, 1)))
	expect.EQ(t, buf[3], uint8(0))
}

func TestSyntheticReadWindowValidation(t *testing.T) {
	s := NewSynthetic(100, 100, 2)
	buf := make([]byte, 100)
	assert.Error(t, s.ReadWindow(0, 0, 10, 10, U8, []int{3}, buf), "band out of range")
	assert.Error(t, s.ReadWindow(0, 0, 10, 10, U8, []int{1}, buf[:99]), "short buffer")
	assert.Error(t, s.ReadWindow(95, 95, 10, 10, U8, []int{1}, buf), "window out of bounds")
	assert.Error(t, s.ReadWindow(0, 0, 10, 10, InvalidDType, []int{1}, buf), "invalid dtype")
}

func TestSyntheticFailReads(t *testing.T) {
	s := NewSynthetic(100, 100, 1)
	s.SetFailReads(2)
	buf := make([]byte, 1)
	assert.Error(t, s.ReadWindow(0, 0, 1, 1, U8, []int{1}, buf))
	assert.Error(t, s.ReadWindow(0, 0, 1, 1, U8, []int{1}, buf))
	assert.NoError(t, s.ReadWindow(0, 0, 1, 1, U8, []int{1}, buf))
}

func TestParseSyntheticSpec(t *testing.T) {
	s, err := ParseSyntheticSpec("synth://700x700")
	require.NoError(t, err)
	expect.EQ(t, s.Width(), 700)
	expect.EQ(t, s.Height(), 700)
	expect.EQ(t, s.Bands(), 1)

	s, err = ParseSyntheticSpec("synth://512x256x4?nodata=0,0,64,64&nodata=100,100,200,200&failreads=2")
	require.NoError(t, err)
	expect.EQ(t, s.Bands(), 4)
	cov, err := s.CoverageStatus(0, 0, 64, 64)
	assert.NoError(t, err)
	expect.EQ(t, cov, CoverageEmpty)
	buf := make([]byte, 1)
	assert.Error(t, s.ReadWindow(0, 0, 1, 1, U8, []int{1}, buf))
	assert.Error(t, s.ReadWindow(0, 0, 1, 1, U8, []int{1}, buf))
	assert.NoError(t, s.ReadWindow(0, 0, 1, 1, U8, []int{1}, buf))

	for _, bad := range []string{
		"synth://",
		"synth://700",
		"synth://0x700",
		"synth://700x700x1x1",
		"synth://700x700?nodata=1,2,3",
		"synth://700x700?failreads=-1",
	} {
		_, err := ParseSyntheticSpec(bad)
		expect.True(t, err != nil, "spec:", bad)
	}
}

func TestOpenDispatchesSynthetic(t *testing.T) {
	src, err := Open("synth://128x64x2")
	require.NoError(t, err)
	expect.EQ(t, src.Width(), 128)
	expect.EQ(t, src.Height(), 64)
	expect.EQ(t, src.Bands(), 2)
	assert.NoError(t, src.Close())

	_, err = Open("")
	assert.Error(t, err)
}
