package raster

import (
	"sync"
	"unsafe"

	"github.com/airbusgeo/godal"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
)

var (
	registerMu sync.Mutex
	registered bool
)

// Register performs the one-time GDAL driver registration. It is idempotent
// and safe to call from multiple goroutines.
func Register() {
	registerMu.Lock()
	defer registerMu.Unlock()
	if registered {
		return
	}
	godal.RegisterAll()
	registered = true
	log.Debug.Printf("raster: GDAL drivers registered")
}

// Deregister is the teardown pair of Register. GDAL's driver manager is only
// truly destroyed at process exit; this just re-arms Register.
func Deregister() {
	registerMu.Lock()
	defer registerMu.Unlock()
	registered = false
}

// gdalSource reads windows through godal. Like all GDAL dataset handles it
// is confined to one goroutine.
type gdalSource struct {
	path                 string
	ds                   *godal.Dataset
	width, height, bands int

	// Scratch buffers, grown on first use so the steady-state read path does
	// not allocate.
	maskBuf []byte
	bandBuf []byte
}

// OpenGDAL opens path as a GDAL dataset.
func OpenGDAL(path string) (T, error) {
	Register()
	ds, err := godal.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open raster %s", path)
	}
	st := ds.Structure()
	if st.NBands == 0 {
		if cerr := ds.Close(); cerr != nil {
			log.Error.Printf("%s: close after empty open: %v", path, cerr)
		}
		return nil, errors.Errorf("%s: raster has no bands", path)
	}
	return &gdalSource{
		path:   path,
		ds:     ds,
		width:  st.SizeX,
		height: st.SizeY,
		bands:  st.NBands,
	}, nil
}

// Width implements T.
func (g *gdalSource) Width() int { return g.width }

// Height implements T.
func (g *gdalSource) Height() int { return g.height }

// Bands implements T.
func (g *gdalSource) Bands() int { return g.bands }

// Close implements T.
func (g *gdalSource) Close() error {
	if g.ds == nil {
		return nil
	}
	err := g.ds.Close()
	g.ds = nil
	return errors.Wrapf(err, "close raster %s", g.path)
}

// CoverageStatus implements T. Coverage derives from the first band's mask
// band: an all-zero mask window is empty, an all-255 window full.
func (g *gdalSource) CoverageStatus(x, y, w, h int) (Coverage, error) {
	mask := g.ds.Bands()[0].MaskBand()
	if cap(g.maskBuf) < w*h {
		g.maskBuf = make([]byte, w*h)
	}
	buf := g.maskBuf[:w*h]
	if err := mask.Read(x, y, buf, w, h); err != nil {
		return CoverageEmpty, errors.Wrapf(err, "%s: mask read (%d,%d,%d,%d)", g.path, x, y, w, h)
	}
	valid := 0
	for _, m := range buf {
		if m != 0 {
			valid++
		}
	}
	switch valid {
	case 0:
		return CoverageEmpty, nil
	case w * h:
		return CoverageFull, nil
	}
	return CoveragePartial, nil
}

// ReadWindow implements T. Each requested band is read separately and the
// results are interleaved per pixel in list order.
func (g *gdalSource) ReadWindow(x, y, w, h int, dtype DType, bands []int, out []byte) error {
	word := dtype.Size()
	if want := word * len(bands) * w * h; len(out) != want {
		return errors.Errorf("%s: buffer is %d bytes, window needs %d", g.path, len(out), want)
	}
	n := w * h
	if cap(g.bandBuf) < word*n {
		g.bandBuf = make([]byte, word*n)
	}
	scratch := g.bandBuf[:word*n]
	allBands := g.ds.Bands()
	for bi, b := range bands {
		if b < 1 || b > g.bands {
			return errors.Errorf("%s: band %d out of range [1,%d]", g.path, b, g.bands)
		}
		view, err := typedView(scratch, dtype, n)
		if err != nil {
			return err
		}
		if err := allBands[b-1].Read(x, y, view, w, h); err != nil {
			return errors.Wrapf(err, "%s: band %d read (%d,%d,%d,%d)", g.path, b, x, y, w, h)
		}
		for px := 0; px < n; px++ {
			copy(out[(px*len(bands)+bi)*word:], scratch[px*word:(px+1)*word])
		}
	}
	return nil
}

// typedView reinterprets buf as the slice type godal's buffer interface
// expects for dtype. The complex integer types have no Go buffer
// representation in godal; read those rasters as cfloat32/cfloat64 instead.
func typedView(buf []byte, dtype DType, n int) (interface{}, error) {
	p := unsafe.Pointer(&buf[0])
	switch dtype {
	case U8:
		return buf[:n], nil
	case I16:
		return unsafe.Slice((*int16)(p), n), nil
	case U16:
		return unsafe.Slice((*uint16)(p), n), nil
	case I32:
		return unsafe.Slice((*int32)(p), n), nil
	case U32:
		return unsafe.Slice((*uint32)(p), n), nil
	case F32:
		return unsafe.Slice((*float32)(p), n), nil
	case F64:
		return unsafe.Slice((*float64)(p), n), nil
	case CF32:
		return unsafe.Slice((*complex64)(p), n), nil
	case CF64:
		return unsafe.Slice((*complex128)(p), n), nil
	}
	return nil, errors.Errorf("pixel type %v is not readable through GDAL", dtype)
}
