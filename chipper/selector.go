package chipper

import (
	"math/rand"
	"runtime"
	"time"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/chip/raster"
	"v.io/x/lib/vlog"
)

// admissible reports whether chip origin (i, j) belongs to the mode's
// partition of the grid. The two predicates are disjoint and together cover
// every origin, so training and evaluation chips can never coincide.
func admissible(mode Mode, i, j int) bool {
	switch mode {
	case Training:
		return (i+j)%7 != 0
	case Evaluation:
		return (i+j)%7 == 0
	}
	return false
}

// workerSeed derives a deterministic, per-worker RNG seed so workers explore
// distinct but reproducible window sequences.
func workerSeed(path string, worker int) int64 {
	return int64(seahash.Sum64([]byte(path)) ^ uint64(worker))
}

// selectWindow draws chip origins until one is admissible for the current
// mode and not wholly masked out, and returns its pixel coordinates.
// Sampling is with replacement; no attempt is made at uniqueness. It returns
// ok=false as soon as the mode leaves Training/Evaluation, which is how an
// all-nodata raster still terminates promptly on Stop.
func (r *Reader) selectWindow(rng *rand.Rand, src raster.T) (x, y int, ok bool) {
	ws := r.opts.WindowSize
	for {
		mode := r.currentMode()
		if !mode.sampling() {
			return 0, 0, false
		}
		var i, j int
		if mode == Evaluation && r.opts.DeterministicEval {
			i, j = r.nextEvalOrigin()
		} else {
			i, j = rng.Intn(r.chipsWide), rng.Intn(r.chipsHigh)
			if !admissible(mode, i, j) {
				runtime.Gosched()
				continue
			}
		}
		cov, err := src.CoverageStatus(i*ws, j*ws, ws, ws)
		if err != nil {
			vlog.VI(1).Infof("chipper: coverage probe (%d,%d): %v", i*ws, j*ws, err)
			time.Sleep(readBackoff)
			continue
		}
		if cov == raster.CoverageEmpty {
			time.Sleep(slotYield)
			continue
		}
		return i * ws, j * ws, true
	}
}

// countEvalOrigins returns the number of evaluation-admissible origins in a
// chipsWide x chipsHigh grid. Always at least 1, since (0,0) is admissible.
func countEvalOrigins(chipsWide, chipsHigh int) int {
	total := 0
	for j := 0; j < chipsHigh; j++ {
		total += evalRowCount(chipsWide, j)
	}
	return total
}

// evalRowCount returns how many i in [0, chipsWide) satisfy (i+j)%7 == 0.
func evalRowCount(chipsWide, j int) int {
	i0 := (7 - j%7) % 7
	if i0 >= chipsWide {
		return 0
	}
	return (chipsWide - i0 + 6) / 7
}

// nextEvalOrigin maps a shared monotonic counter to the k-th
// evaluation-admissible origin in row-major order, wrapping at the end of
// the grid.
func (r *Reader) nextEvalOrigin() (int, int) {
	k := int((r.evalCursor.Add(1) - 1) % uint64(r.evalTotal))
	for j := 0; j < r.chipsHigh; j++ {
		n := evalRowCount(r.chipsWide, j)
		if k < n {
			return (7-j%7)%7 + 7*k, j
		}
		k -= n
	}
	vlog.Fatalf("chipper: evaluation cursor walked off a %dx%d grid", r.chipsWide, r.chipsHigh)
	return 0, 0
}
