// Package chipper extracts fixed-size square windows ("chips") from a large
// georeferenced raster and hands them to a training loop through a blocking
// pull interface.
//
// A Reader owns a ring of pre-allocated slots. Worker goroutines pick
// admissible windows, read them from per-worker raster handles, and park the
// pixels in a free slot; GetNext drains filled slots round-robin. The window
// partition is deterministic: training mode samples chip origins (i, j) with
// (i+j) mod 7 != 0, evaluation mode the complement, so the two sets never
// overlap.
//
// All slot access uses non-blocking try-locks, so a slow producer never
// stalls the consumer and a stalled consumer never wedges the producers.
package chipper
