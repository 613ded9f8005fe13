package raster

import (
	"github.com/grailbio/base/errors"
)

// DType enumerates the pixel data types a window can be read as. Complex
// variants store two components per pixel, so their byte width is double the
// component width.
type DType int

const (
	InvalidDType DType = iota
	U8
	I16
	U16
	I32
	U32
	F32
	F64
	CI16
	CI32
	CF32
	CF64
)

var dtypeNames = map[DType]string{
	U8:   "uint8",
	I16:  "int16",
	U16:  "uint16",
	I32:  "int32",
	U32:  "uint32",
	F32:  "float32",
	F64:  "float64",
	CI16: "cint16",
	CI32: "cint32",
	CF32: "cfloat32",
	CF64: "cfloat64",
}

var dtypeSizes = map[DType]int{
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
}

// Size returns the number of bytes one pixel of this type occupies.
func (d DType) Size() int {
	return dtypeSizes[d]
}

// Valid reports whether d is one of the enumerated pixel types.
func (d DType) Valid() bool {
	_, ok := dtypeSizes[d]
	return ok
}

func (d DType) String() string {
	if s, ok := dtypeNames[d]; ok {
		return s
	}
	return "invalid"
}

// IsComplex reports whether d stores two components per pixel.
func (d DType) IsComplex() bool {
	return d == CI16 || d == CI32 || d == CF32 || d == CF64
}

// ParseDType converts a name as accepted by command-line flags ("uint8",
// "cfloat32", ...) into a DType.
func ParseDType(s string) (DType, error) {
	for d, name := range dtypeNames {
		if name == s {
			return d, nil
		}
	}
	return InvalidDType, errors.New("unknown pixel type: " + s)
}
