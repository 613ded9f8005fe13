package chipper

import (
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/chip/raster"
	"v.io/x/lib/vlog"
)

// ErrStopped is returned by GetNext once the reader has been stopped.
var ErrStopped = errors.New("chipper: reader is stopped")

// Width returns the imagery raster width in pixels, cached at Start.
func (r *Reader) Width() int { return r.width }

// Height returns the imagery raster height in pixels, cached at Start.
func (r *Reader) Height() int { return r.height }

// ImageryBytes returns the exact size of the imagery buffer GetNext and
// GetInferenceChip expect.
func (r *Reader) ImageryBytes() int { return r.imageryBytes }

// LabelBytes returns the exact size of the label buffer GetNext expects, or
// 0 when the reader has no label source.
func (r *Reader) LabelBytes() int { return r.labelBytes }

// GetNext blocks until a prefetched chip is available, copies its imagery
// into imagery and, if label is non-nil, its label into label, and frees the
// slot. Delivery order is round-robin over the slot ring, not production
// order. A nil label suppresses the label copy and is the only valid choice
// when the reader has no label source.
//
// GetNext returns ErrStopped once Stop has run, so a consumer blocked on a
// starved ring is released at shutdown.
func (r *Reader) GetNext(imagery, label []byte) error {
	if len(imagery) != r.imageryBytes {
		return errors.New(fmt.Sprintf("chipper: imagery buffer is %d bytes, want %d", len(imagery), r.imageryBytes))
	}
	if label != nil && r.labelBytes == 0 {
		r.warnLabelOnce.Do(func() {
			vlog.Errorf("chipper: label buffer passed to a reader with no label source; ignored")
		})
		label = nil
	}
	if label != nil && len(label) != r.labelBytes {
		return errors.New(fmt.Sprintf("chipper: label buffer is %d bytes, want %d", len(label), r.labelBytes))
	}
	misses := 0
	for {
		switch mode := r.currentMode(); {
		case mode == Idle:
			return ErrStopped
		case !mode.sampling():
			return errors.New("chipper: GetNext requires training or evaluation mode")
		}
		sl := &r.slots[int((r.cursor.Add(1)-1)%uint64(len(r.slots)))]
		if sl.mu.TryLock() {
			if sl.ready {
				copy(imagery, sl.imagery)
				if label != nil {
					copy(label, sl.label)
				}
				sl.ready = false
				sl.mu.Unlock()
				return nil
			}
			sl.mu.Unlock()
		}
		if misses++; misses >= len(r.slots) {
			misses = 0
			time.Sleep(slotYield)
		}
	}
}

// GetInferenceChip synchronously reads the chip containing pixel (x, y) into
// imagery, making at most attempts reads in total. It reports false, with
// imagery zero-filled, when the reader is not in Inference mode, when the
// window's coverage is empty, or when every attempt fails.
func (r *Reader) GetInferenceChip(imagery []byte, x, y, attempts int) bool {
	if len(imagery) != r.imageryBytes {
		return false
	}
	if r.currentMode() != Inference {
		zeroFill(imagery)
		return false
	}
	ws := r.opts.WindowSize
	cx, cy := (x/ws)*ws, (y/ws)*ws

	r.primaryMu.Lock()
	defer r.primaryMu.Unlock()
	if r.primary == nil { // stopped while we waited for the lock
		zeroFill(imagery)
		return false
	}
	cov, err := r.primary.CoverageStatus(cx, cy, ws, ws)
	if err != nil || cov == raster.CoverageEmpty {
		if err != nil {
			vlog.VI(1).Infof("chipper: inference coverage probe (%d,%d): %v", cx, cy, err)
		}
		zeroFill(imagery)
		return false
	}
	for a := 0; a < attempts; a++ {
		err := r.primary.ReadWindow(cx, cy, ws, ws, r.opts.ImageryDType, r.bands, imagery)
		if err == nil {
			return true
		}
		vlog.VI(1).Infof("chipper: inference read (%d,%d) attempt %d: %v", cx, cy, a+1, err)
	}
	zeroFill(imagery)
	return false
}

func zeroFill(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
