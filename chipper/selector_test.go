package chipper

import (
	"math/rand"
	"testing"
	"time"

	"github.com/grailbio/chip/raster"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionDisjointAndTotal(t *testing.T) {
	for i := 0; i < 50; i++ {
		for j := 0; j < 50; j++ {
			train := admissible(Training, i, j)
			eval := admissible(Evaluation, i, j)
			expect.True(t, train != eval, "origin:", i, j)
		}
	}
	// The split runs along anti-diagonals: roughly 6/7 training, 1/7 eval.
	expect.False(t, admissible(Training, 0, 0))
	expect.True(t, admissible(Evaluation, 0, 0))
	expect.True(t, admissible(Training, 1, 0))
	expect.True(t, admissible(Evaluation, 3, 4))
}

func TestAdmissibleOutsideSamplingModes(t *testing.T) {
	expect.False(t, admissible(Idle, 1, 0))
	expect.False(t, admissible(Inference, 1, 0))
}

func TestCountEvalOrigins(t *testing.T) {
	for cw := 1; cw <= 15; cw++ {
		for ch := 1; ch <= 15; ch++ {
			want := 0
			for j := 0; j < ch; j++ {
				for i := 0; i < cw; i++ {
					if (i+j)%7 == 0 {
						want++
					}
				}
			}
			expect.EQ(t, countEvalOrigins(cw, ch), want, "grid:", cw, ch)
		}
	}
}

func TestNextEvalOriginEnumeratesRowMajor(t *testing.T) {
	r := &Reader{chipsWide: 7, chipsHigh: 7, evalTotal: countEvalOrigins(7, 7)}
	require.Equal(t, 7, r.evalTotal)
	want := [][2]int{{0, 0}, {6, 1}, {5, 2}, {4, 3}, {3, 4}, {2, 5}, {1, 6}}
	for round := 0; round < 2; round++ { // wraps after one pass
		for _, w := range want {
			i, j := r.nextEvalOrigin()
			expect.EQ(t, [2]int{i, j}, w)
			expect.True(t, admissible(Evaluation, i, j))
		}
	}
}

func TestWorkerSeeds(t *testing.T) {
	expect.EQ(t, workerSeed("a.tif", 3), workerSeed("a.tif", 3))
	expect.True(t, workerSeed("a.tif", 0) != workerSeed("a.tif", 1))
	expect.True(t, workerSeed("a.tif", 0) != workerSeed("b.tif", 0))
}

func selectorReader(t *testing.T, spec string, window int, mode Mode) (*Reader, raster.T) {
	src, err := raster.Open(spec)
	require.NoError(t, err)
	r := &Reader{
		opts:      Opts{WindowSize: window, Mode: mode},
		width:     src.Width(),
		height:    src.Height(),
		chipsWide: src.Width() / window,
		chipsHigh: src.Height() / window,
	}
	r.mode.Store(int32(mode))
	return r, src
}

func TestSelectWindowHonorsPartitionAndCoverage(t *testing.T) {
	// The top-left chip column is fully masked; no origin with i == 0 may
	// ever be selected.
	r, src := selectorReader(t, "synth://700x700x1?nodata=0,0,100,700", 100, Training)
	rng := rand.New(rand.NewSource(1))
	for n := 0; n < 200; n++ {
		x, y, ok := r.selectWindow(rng, src)
		require.True(t, ok)
		expect.EQ(t, x%100, 0)
		expect.EQ(t, y%100, 0)
		i, j := x/100, y/100
		expect.True(t, admissible(Training, i, j), "origin:", i, j)
		expect.True(t, i != 0, "masked column was selected")
	}
	assert.NoError(t, src.Close())
}

func TestSelectWindowStopsWhenIdle(t *testing.T) {
	r, src := selectorReader(t, "synth://700x700x1", 100, Training)
	r.mode.Store(int32(Idle))
	_, _, ok := r.selectWindow(rand.New(rand.NewSource(1)), src)
	expect.False(t, ok)
	assert.NoError(t, src.Close())
}

func TestSelectWindowTerminatesOnAllEmptyRaster(t *testing.T) {
	// Every window is masked, so the selector can never return an origin.
	// It must still notice the mode flip and give up.
	r, src := selectorReader(t, "synth://700x700x1?nodata=0,0,700,700", 100, Training)
	done := make(chan bool)
	go func() {
		_, _, ok := r.selectWindow(rand.New(rand.NewSource(1)), src)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	r.mode.Store(int32(Idle))
	select {
	case ok := <-done:
		expect.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("selector did not observe the mode flip")
	}
	assert.NoError(t, src.Close())
}
