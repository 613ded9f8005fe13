package raster

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

// Rect is a half-open pixel rectangle [X0,X1) x [Y0,Y1).
type Rect struct {
	X0, Y0, X1, Y1 int
}

func (r Rect) contains(x, y int) bool {
	return x >= r.X0 && x < r.X1 && y >= r.Y0 && y < r.Y1
}

// Synthetic is a deterministic in-memory raster source. Pixel values are
// produced by Sample, except inside the configured nodata rectangles, which
// read as zero and are reported as masked by CoverageStatus.
//
// Synthetic exists for unittests and for chip-gendat; it implements the same
// interface as the GDAL-backed source.
type Synthetic struct {
	width, height, bands int
	nodata               []Rect
	failReads            int
}

// NewSynthetic creates a synthetic raster of the given dimensions.
func NewSynthetic(width, height, bands int) *Synthetic {
	return &Synthetic{width: width, height: height, bands: bands}
}

// AddNoData marks a rectangle as nodata. Rectangles must not overlap each
// other; coverage classification assumes their areas are disjoint.
func (s *Synthetic) AddNoData(r Rect) {
	s.nodata = append(s.nodata, r)
}

// SetFailReads makes the next n ReadWindow calls on this handle return an
// error, for exercising retry paths.
func (s *Synthetic) SetFailReads(n int) {
	s.failReads = n
}

// Sample is the synthetic pixel function: the value of pixel (x, y) on the
// 1-based band. It is exported so tests and chip-gendat can predict buffer
// contents; narrower pixel types observe the value truncated to their width.
func Sample(x, y, band int) uint64 {
	return uint64(x) + 7*uint64(y) + 100003*uint64(band)
}

// Width implements T.
func (s *Synthetic) Width() int { return s.width }

// Height implements T.
func (s *Synthetic) Height() int { return s.height }

// Bands implements T.
func (s *Synthetic) Bands() int { return s.bands }

// Close implements T.
func (s *Synthetic) Close() error { return nil }

// CoverageStatus implements T.
func (s *Synthetic) CoverageStatus(x, y, w, h int) (Coverage, error) {
	if err := s.checkWindow(x, y, w, h); err != nil {
		return CoverageEmpty, err
	}
	masked := 0
	for _, r := range s.nodata {
		x0, y0 := max(x, r.X0), max(y, r.Y0)
		x1, y1 := min(x+w, r.X1), min(y+h, r.Y1)
		if x0 < x1 && y0 < y1 {
			masked += (x1 - x0) * (y1 - y0)
		}
	}
	switch {
	case masked == 0:
		return CoverageFull, nil
	case masked >= w*h:
		return CoverageEmpty, nil
	}
	return CoveragePartial, nil
}

// ReadWindow implements T.
func (s *Synthetic) ReadWindow(x, y, w, h int, dtype DType, bands []int, out []byte) error {
	if err := s.checkWindow(x, y, w, h); err != nil {
		return err
	}
	if !dtype.Valid() {
		return errors.New("synthetic: invalid pixel type")
	}
	for _, b := range bands {
		if b < 1 || b > s.bands {
			return errors.New(fmt.Sprintf("synthetic: band %d out of range [1,%d]", b, s.bands))
		}
	}
	if want := dtype.Size() * len(bands) * w * h; len(out) != want {
		return errors.New(fmt.Sprintf("synthetic: buffer is %d bytes, window needs %d", len(out), want))
	}
	if s.failReads > 0 {
		s.failReads--
		return errors.New("synthetic: injected read failure")
	}
	word := dtype.Size()
	off := 0
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			px, py := x+dx, y+dy
			for _, b := range bands {
				var v uint64
				if !s.masked(px, py) {
					v = Sample(px, py, b)
				}
				putValue(out[off:off+word], dtype, v)
				off += word
			}
		}
	}
	return nil
}

func (s *Synthetic) masked(x, y int) bool {
	for _, r := range s.nodata {
		if r.contains(x, y) {
			return true
		}
	}
	return false
}

func (s *Synthetic) checkWindow(x, y, w, h int) error {
	if w <= 0 || h <= 0 || x < 0 || y < 0 || x+w > s.width || y+h > s.height {
		return errors.New(fmt.Sprintf("synthetic: window (%d,%d,%d,%d) outside %dx%d raster",
			x, y, w, h, s.width, s.height))
	}
	return nil
}

// putValue encodes v into dst as one pixel of the given type, little endian.
// Complex types carry v in the real component and zero in the imaginary one.
func putValue(dst []byte, dtype DType, v uint64) {
	switch dtype {
	case U8:
		dst[0] = uint8(v)
	case I16, U16:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case I32, U32:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	case F32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	case F64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(float64(v)))
	case CI16:
		binary.LittleEndian.PutUint16(dst, uint16(v))
		binary.LittleEndian.PutUint16(dst[2:], 0)
	case CI32:
		binary.LittleEndian.PutUint32(dst, uint32(v))
		binary.LittleEndian.PutUint32(dst[4:], 0)
	case CF32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
		binary.LittleEndian.PutUint32(dst[4:], 0)
	case CF64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(float64(v)))
		binary.LittleEndian.PutUint64(dst[8:], 0)
	}
}

// ParseSyntheticSpec builds a Synthetic from a spec string of the form
//
//	synth://WIDTHxHEIGHT[xBANDS][?nodata=x0,y0,x1,y1&...&failreads=N]
//
// The nodata parameter may repeat; rectangles are absolute half-open pixel
// coordinates.
func ParseSyntheticSpec(spec string) (*Synthetic, error) {
	u, err := url.Parse(spec)
	if err != nil {
		return nil, errors.E(err, "bad synthetic raster spec:", spec)
	}
	if u.Scheme != "synth" {
		return nil, errors.New("not a synthetic raster spec: " + spec)
	}
	dims := strings.Split(u.Host, "x")
	if len(dims) != 2 && len(dims) != 3 {
		return nil, errors.New("synthetic spec needs WxH or WxHxB dimensions: " + spec)
	}
	var n [3]int
	n[2] = 1
	for i, d := range dims {
		if n[i], err = strconv.Atoi(d); err != nil || n[i] < 1 {
			return nil, errors.New("bad synthetic dimension " + d + " in " + spec)
		}
	}
	s := NewSynthetic(n[0], n[1], n[2])
	q := u.Query()
	for _, nd := range q["nodata"] {
		var r Rect
		if _, err := fmt.Sscanf(nd, "%d,%d,%d,%d", &r.X0, &r.Y0, &r.X1, &r.Y1); err != nil {
			return nil, errors.E(err, "bad nodata rectangle:", nd)
		}
		s.AddNoData(r)
	}
	if f := q.Get("failreads"); f != "" {
		k, err := strconv.Atoi(f)
		if err != nil || k < 0 {
			return nil, errors.New("bad failreads count: " + f)
		}
		s.SetFailReads(k)
	}
	return s, nil
}
