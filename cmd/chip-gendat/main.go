// Copyright 2020 Grail Inc.
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
package main

/*
chip-gendat writes a deterministic GeoTIFF whose pixels follow the synthetic
raster's Sample function, for integration-testing the GDAL read path against
known contents. Alongside the TIFF it writes a gzip'd TSV census of the chip
grid: per grid row, how many origins fall in the training and evaluation
partitions and how many are wholly nodata.
*/

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/chip/raster"
	"github.com/klauspost/compress/gzip"
)

var (
	outFlag    = flag.String("out", "", "Output GeoTIFF path; the census is written to <out>.census.tsv.gz")
	widthFlag  = flag.Int("width", 700, "Raster width in pixels")
	heightFlag = flag.Int("height", 700, "Raster height in pixels")
	bandsFlag  = flag.Int("bands", 1, "Number of bands")
	windowFlag = flag.Int("window", 100, "Chip edge length used for the census")
	nodataFlag = flag.String("nodata", "", "Semicolon-separated nodata rectangles, each x0,y0,x1,y1 (half-open)")
)

func parseRects(s string) ([]raster.Rect, error) {
	if s == "" {
		return nil, nil
	}
	var rects []raster.Rect
	for _, f := range strings.Split(s, ";") {
		var r raster.Rect
		if _, err := fmt.Sscanf(f, "%d,%d,%d,%d", &r.X0, &r.Y0, &r.X1, &r.Y1); err != nil {
			return nil, err
		}
		rects = append(rects, r)
	}
	return rects, nil
}

func writeTIFF(path string, width, height, bands int, nodata []raster.Rect) error {
	godal.RegisterAll()
	ds, err := godal.Create(godal.GTiff, path, bands, godal.Byte, width, height)
	if err != nil {
		return err
	}
	row := make([]byte, width)
	for bi, band := range ds.Bands() {
		if err := band.SetNoData(0); err != nil {
			return err
		}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				row[x] = byte(raster.Sample(x, y, bi+1))
				for _, r := range nodata {
					if x >= r.X0 && x < r.X1 && y >= r.Y0 && y < r.Y1 {
						row[x] = 0
						break
					}
				}
			}
			if err := band.Write(0, y, row, width, 1); err != nil {
				return err
			}
		}
	}
	return ds.Close()
}

// censusRow summarizes one row of the chip grid.
type censusRow struct {
	train, eval, empty int
}

func writeCensus(path string, width, height, window int, nodata []raster.Rect) error {
	synth := raster.NewSynthetic(width, height, 1)
	for _, r := range nodata {
		synth.AddNoData(r)
	}
	chipsWide, chipsHigh := width/window, height/window
	rows := make([]censusRow, chipsHigh)
	err := traverse.Each(chipsHigh, func(j int) error {
		for i := 0; i < chipsWide; i++ {
			cov, err := synth.CoverageStatus(i*window, j*window, window, window)
			if err != nil {
				return err
			}
			switch {
			case cov == raster.CoverageEmpty:
				rows[j].empty++
			case (i+j)%7 != 0:
				rows[j].train++
			default:
				rows[j].eval++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	w := tsv.NewWriter(gz)
	for j, row := range rows {
		w.WriteUint32(uint32(j))
		w.WriteUint32(uint32(row.train))
		w.WriteUint32(uint32(row.eval))
		w.WriteUint32(uint32(row.empty))
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Close()
}

func main() {
	shutdown := grail.Init()
	defer shutdown()
	if *outFlag == "" {
		fmt.Printf("Usage: %s -out <path.tif> [OPTIONS]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}
	nodata, err := parseRects(*nodataFlag)
	if err != nil {
		log.Fatalf("chip-gendat: bad -nodata %q: %v", *nodataFlag, err)
	}
	if err := writeTIFF(*outFlag, *widthFlag, *heightFlag, *bandsFlag, nodata); err != nil {
		log.Fatalf("chip-gendat: write %s: %v", *outFlag, err)
	}
	censusPath := *outFlag + ".census.tsv.gz"
	if err := writeCensus(censusPath, *widthFlag, *heightFlag, *windowFlag, nodata); err != nil {
		log.Fatalf("chip-gendat: write %s: %v", censusPath, err)
	}
	log.Printf("chip-gendat: wrote %dx%dx%d raster to %s", *widthFlag, *heightFlag, *bandsFlag, *outFlag)
}
