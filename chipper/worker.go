package chipper

import (
	"math/rand"
	"time"

	"github.com/grailbio/chip/raster"
	"v.io/x/lib/vlog"
)

// labelBand is the band list for label reads. Labels are always one band.
var labelBand = []int{1}

// worker is one prefetch task. It owns its raster handles and RNG outright;
// nothing here is shared except the Reader's slot ring and mode flag.
type worker struct {
	id     int
	r      *Reader
	src    raster.T
	labels raster.T // nil when there is no label source
	rng    *rand.Rand
}

// run loops until the mode leaves Training/Evaluation: select an admissible
// window, then park its pixels in a free slot. Read failures are strictly
// transient; the worker backs off and moves to a fresh window.
func (w *worker) run() {
	defer w.r.wg.Done()
	vlog.VI(1).Infof("chipper: worker %d starting", w.id)
	for {
		x, y, ok := w.r.selectWindow(w.rng, w.src)
		if !ok {
			break
		}
		w.fill(x, y)
	}
	vlog.VI(1).Infof("chipper: worker %d exiting", w.id)
}

// fill walks the slot ring from a random start looking for a free slot, and
// reads the window at (x, y) into it. Every slot probe is a try-lock; a busy
// or filled slot just advances the walk after a short yield. The mode flag
// is re-checked on every step so a Stop during the walk is observed
// promptly, and any held lock is released before return.
func (w *worker) fill(x, y int) {
	r := w.r
	s := w.rng.Intn(len(r.slots))
	for {
		if !r.currentMode().sampling() {
			return
		}
		sl := &r.slots[s]
		if sl.mu.TryLock() {
			if !sl.ready {
				if err := w.read(sl, x, y); err != nil {
					sl.mu.Unlock()
					vlog.VI(1).Infof("chipper: worker %d read (%d,%d): %v", w.id, x, y, err)
					time.Sleep(readBackoff)
					return
				}
				sl.ready = true
				sl.mu.Unlock()
				time.Sleep(slotYield)
				return
			}
			sl.mu.Unlock()
		}
		if s++; s == len(r.slots) {
			s = 0
		}
		time.Sleep(slotYield)
	}
}

// read fills the slot's buffers from the window at (x, y). The slot lock is
// held across the reads, exactly as long as the reads themselves.
func (w *worker) read(sl *slot, x, y int) error {
	ws := w.r.opts.WindowSize
	if err := w.src.ReadWindow(x, y, ws, ws, w.r.opts.ImageryDType, w.r.bands, sl.imagery); err != nil {
		return err
	}
	if w.labels != nil {
		return w.labels.ReadWindow(x, y, ws, ws, w.r.opts.LabelDType, labelBand, sl.label)
	}
	return nil
}
