// Copyright 2019 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chipper

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/chip/raster"
	"v.io/x/lib/vlog"
)

// Mode controls what a Reader does. Training and Evaluation run prefetch
// workers; Inference serves synchronous reads only; Idle is the terminal
// state entered by Stop.
type Mode int32

const (
	Idle Mode = iota
	Training
	Evaluation
	Inference
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Training:
		return "training"
	case Evaluation:
		return "evaluation"
	case Inference:
		return "inference"
	}
	return "invalid"
}

// sampling reports whether the mode runs prefetch workers.
func (m Mode) sampling() bool { return m == Training || m == Evaluation }

const (
	// slotYield is how long a task sleeps after finding a slot busy.
	slotYield = 100 * time.Microsecond
	// readBackoff is how long a worker sleeps after a failed raster read.
	readBackoff = time.Millisecond
)

// Opts configures Start. All fields are copied; the configuration is frozen
// until Stop.
type Opts struct {
	// Workers is the number of prefetch goroutines (N). It must be at least
	// 1 in every mode; Inference mode starts no workers.
	Workers int
	// Slots is the size of the prefetch ring (M).
	Slots int
	// ImageryPath names the imagery raster.
	ImageryPath string
	// LabelPath names the label raster. Empty means no labels; labels are
	// always read as a single band.
	LabelPath string
	// ImageryDType is the pixel type imagery windows are read as.
	ImageryDType raster.DType
	// LabelDType is the pixel type label windows are read as. Consulted only
	// when LabelPath is set.
	LabelDType raster.DType
	// Mode must be Training, Evaluation or Inference.
	Mode Mode
	// WindowSize is the chip edge length in pixels. Chip origins are integer
	// multiples of WindowSize; trailing remainders of the raster are ignored.
	WindowSize int
	// Bands lists the 1-based imagery band indices, in the order they appear
	// interleaved in delivered buffers.
	Bands []int
	// DeterministicEval makes evaluation workers enumerate the admissible
	// grid in row-major order instead of sampling with replacement. Only
	// legal in Evaluation mode.
	DeterministicEval bool
}

// Reader is a running chip reader. Create one with Start; it owns all state
// for the run, so multiple independent Readers may coexist in a process.
type Reader struct {
	opts  Opts
	bands []int

	width, height        int
	chipsWide, chipsHigh int
	imageryBytes         int
	labelBytes           int // 0 when there is no label source

	mode  atomic.Int32
	slots []slot

	// cursor indexes the consumer's round-robin walk over the slot ring.
	cursor atomic.Uint64

	// evalCursor and evalTotal drive the deterministic evaluation
	// enumeration when Opts.DeterministicEval is set.
	evalCursor atomic.Uint64
	evalTotal  int

	// primary is opened first, caches the raster dimensions, and serves
	// GetInferenceChip. Raster handles are not thread safe, so primaryMu
	// serializes inference reads.
	primary   raster.T
	primaryMu sync.Mutex

	workers []*worker
	wg      sync.WaitGroup

	warnLabelOnce sync.Once
}

// Init performs the one-time raster backend registration. Idempotent.
func Init() {
	raster.Register()
}

// Deinit tears down the raster backend registration. Idempotent.
func Deinit() {
	raster.Deregister()
}

// Start validates opts, opens the raster handles, allocates the slot ring
// and, in Training or Evaluation mode, spawns the prefetch workers. On any
// failure it releases everything it opened and returns the error with no
// workers running.
func Start(opts Opts) (*Reader, error) {
	if err := validateOpts(&opts); err != nil {
		return nil, err
	}
	r := &Reader{
		opts:  opts,
		bands: append([]int(nil), opts.Bands...),
	}
	primary, err := raster.Open(opts.ImageryPath)
	if err != nil {
		return nil, errors.E(err, "chipper: open imagery", opts.ImageryPath)
	}
	r.primary = primary
	r.width, r.height = primary.Width(), primary.Height()
	r.chipsWide = r.width / opts.WindowSize
	r.chipsHigh = r.height / opts.WindowSize
	if r.chipsWide < 1 || r.chipsHigh < 1 {
		r.releaseHandles()
		return nil, errors.New(fmt.Sprintf(
			"chipper: window size %d exceeds raster dimensions %dx%d",
			opts.WindowSize, r.width, r.height))
	}
	r.imageryBytes = opts.ImageryDType.Size() * len(r.bands) * opts.WindowSize * opts.WindowSize
	if opts.LabelPath != "" {
		r.labelBytes = opts.LabelDType.Size() * opts.WindowSize * opts.WindowSize
	}
	r.slots = newSlots(opts.Slots, r.imageryBytes, r.labelBytes)
	r.evalTotal = countEvalOrigins(r.chipsWide, r.chipsHigh)

	if opts.Mode.sampling() {
		for i := 0; i < opts.Workers; i++ {
			w, err := r.newWorker(i)
			if err != nil {
				r.releaseHandles()
				return nil, err
			}
			r.workers = append(r.workers, w)
		}
	}
	r.mode.Store(int32(opts.Mode))
	for _, w := range r.workers {
		r.wg.Add(1)
		go w.run()
	}
	vlog.VI(1).Infof("chipper: started %v reader on %s (%dx%d, %d workers, %d slots)",
		opts.Mode, opts.ImageryPath, r.width, r.height, len(r.workers), opts.Slots)
	return r, nil
}

// newWorker opens the per-worker raster handles and builds worker i.
func (r *Reader) newWorker(i int) (*worker, error) {
	src, err := raster.Open(r.opts.ImageryPath)
	if err != nil {
		return nil, errors.E(err, fmt.Sprintf("chipper: open imagery for worker %d", i))
	}
	w := &worker{id: i, r: r, src: src, rng: rand.New(rand.NewSource(workerSeed(r.opts.ImageryPath, i)))}
	if r.opts.LabelPath != "" {
		if w.labels, err = raster.Open(r.opts.LabelPath); err != nil {
			if cerr := src.Close(); cerr != nil {
				vlog.Errorf("chipper: close imagery for worker %d: %v", i, cerr)
			}
			return nil, errors.E(err, fmt.Sprintf("chipper: open labels for worker %d", i))
		}
	}
	return w, nil
}

// Stop signals termination, joins the workers, and releases every resource
// Start acquired. Workers observe the mode flag at their next try-lock
// attempt, so Stop's latency is bounded by the slowest in-flight raster
// read; reads are not forcibly cancelled.
//
// REQUIRES: called at most once per Start.
func (r *Reader) Stop() error {
	r.mode.Store(int32(Idle))
	r.wg.Wait()
	err := r.releaseHandles()
	vlog.VI(1).Infof("chipper: stopped reader on %s", r.opts.ImageryPath)
	return err
}

func (r *Reader) releaseHandles() error {
	e := errors.Once{}
	for _, w := range r.workers {
		e.Set(w.src.Close())
		if w.labels != nil {
			e.Set(w.labels.Close())
		}
	}
	r.workers = nil
	// The primary handle may be mid-read in a concurrent GetInferenceChip;
	// take its mutex before closing.
	r.primaryMu.Lock()
	if r.primary != nil {
		e.Set(r.primary.Close())
		r.primary = nil
	}
	r.primaryMu.Unlock()
	return e.Err()
}

func (r *Reader) currentMode() Mode {
	return Mode(r.mode.Load())
}

func validateOpts(opts *Opts) error {
	switch {
	case !opts.Mode.sampling() && opts.Mode != Inference:
		return errors.New(fmt.Sprintf("chipper: cannot start in mode %v", opts.Mode))
	case opts.Workers < 1:
		return errors.New("chipper: need at least one worker")
	case opts.Slots < 1:
		return errors.New("chipper: need at least one slot")
	case opts.WindowSize < 1:
		return errors.New("chipper: window size must be positive")
	case !opts.ImageryDType.Valid():
		return errors.New("chipper: invalid imagery pixel type")
	case opts.LabelPath != "" && !opts.LabelDType.Valid():
		return errors.New("chipper: invalid label pixel type")
	case len(opts.Bands) == 0:
		return errors.New("chipper: need at least one band")
	case opts.DeterministicEval && opts.Mode != Evaluation:
		return errors.New("chipper: deterministic enumeration requires evaluation mode")
	}
	for _, b := range opts.Bands {
		if b < 1 {
			return errors.New(fmt.Sprintf("chipper: band indices are 1-based, got %d", b))
		}
	}
	return nil
}
