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

package raster

import (
	"strings"

	"github.com/grailbio/base/errors"
)

// Coverage classifies how much of a pixel window carries data, per the
// backend's nodata mask.
type Coverage int

const (
	// CoverageEmpty means every pixel in the window is masked out.
	CoverageEmpty Coverage = iota
	// CoveragePartial means the window mixes valid and masked pixels.
	CoveragePartial
	// CoverageFull means every pixel in the window is valid.
	CoverageFull
)

func (c Coverage) String() string {
	switch c {
	case CoverageEmpty:
		return "empty"
	case CoveragePartial:
		return "partial"
	case CoverageFull:
		return "full"
	}
	return "invalid"
}

// T is an open raster source. Implementations are not thread safe; open one
// handle per goroutine.
type T interface {
	// Width returns the raster width in pixels.
	Width() int
	// Height returns the raster height in pixels.
	Height() int
	// Bands returns the number of bands in the source.
	Bands() int

	// CoverageStatus classifies the data coverage of the given pixel window.
	//
	// REQUIRES: the window lies inside the raster.
	CoverageStatus(x, y, w, h int) (Coverage, error)

	// ReadWindow reads the given pixel window for the listed 1-based bands
	// into out, converted to dtype. Bands are interleaved per pixel in list
	// order with natural stride, so out must hold exactly
	// dtype.Size()*len(bands)*w*h bytes.
	//
	// REQUIRES: the window lies inside the raster.
	ReadWindow(x, y, w, h int, dtype DType, bands []int, out []byte) error

	// Close releases the handle. No methods may be called afterwards.
	Close() error
}

const syntheticScheme = "synth://"

// Open opens a raster source. Paths starting with "synth://" describe a
// deterministic in-memory raster (see ParseSyntheticSpec); anything else is
// handed to GDAL.
func Open(path string) (T, error) {
	if path == "" {
		return nil, errors.New("raster.Open: empty path")
	}
	if strings.HasPrefix(path, syntheticScheme) {
		return ParseSyntheticSpec(path)
	}
	return OpenGDAL(path)
}
