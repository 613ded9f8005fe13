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
chip-dump drains chips from a raster through the chipper prefetch ring and
writes them to a recordio file, one imagery payload per record, with a TSV
index of per-chip farmhash digests alongside. It exists to exercise the
reader the way a trainer would and to snapshot chip streams for offline
inspection. Output paths may be s3:// URLs.
*/

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/dgryski/go-farm"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/chip/chipper"
	"github.com/grailbio/chip/raster"
)

var (
	imageryFlag    = flag.String("imagery", "", "Input imagery raster path (GDAL path or synth:// spec)")
	labelFlag      = flag.String("label", "", "Optional label raster path")
	dtypeFlag      = flag.String("dtype", "uint8", "Imagery pixel type")
	labelDtypeFlag = flag.String("label-dtype", "uint8", "Label pixel type")
	modeFlag       = flag.String("mode", "training", "Partition to sample: 'training' or 'evaluation'")
	windowFlag     = flag.Int("window", 256, "Chip edge length in pixels")
	bandsFlag      = flag.String("bands", "1", "Comma-separated 1-based band indices, in output order")
	workersFlag    = flag.Int("workers", 4, "Number of prefetch workers")
	slotsFlag      = flag.Int("slots", 8, "Prefetch ring size")
	countFlag      = flag.Int("count", 1000, "Number of chips to dump")
	outFlag        = flag.String("out", "", "Output recordio path; the TSV index is written to <out>.tsv")
)

func chipDumpUsage() {
	fmt.Printf("Usage: %s -imagery <raster> -out <path> [OPTIONS]\n", os.Args[0])
	flag.PrintDefaults()
}

func parseBands(s string) ([]int, error) {
	var bands []int
	for _, f := range strings.Split(s, ",") {
		b, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		bands = append(bands, b)
	}
	return bands, nil
}

func main() {
	flag.Usage = chipDumpUsage
	shutdown := grail.Init()
	defer shutdown()
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
	recordiozstd.Init()

	if *imageryFlag == "" || *outFlag == "" {
		flag.Usage()
		os.Exit(1)
	}
	dtype, err := raster.ParseDType(*dtypeFlag)
	if err != nil {
		log.Fatalf("chip-dump: %v", err)
	}
	labelDtype, err := raster.ParseDType(*labelDtypeFlag)
	if err != nil {
		log.Fatalf("chip-dump: %v", err)
	}
	bands, err := parseBands(*bandsFlag)
	if err != nil {
		log.Fatalf("chip-dump: bad -bands %q: %v", *bandsFlag, err)
	}
	var mode chipper.Mode
	switch *modeFlag {
	case "training":
		mode = chipper.Training
	case "evaluation":
		mode = chipper.Evaluation
	default:
		log.Fatalf("chip-dump: bad -mode %q", *modeFlag)
	}

	chipper.Init()
	r, err := chipper.Start(chipper.Opts{
		Workers:      *workersFlag,
		Slots:        *slotsFlag,
		ImageryPath:  *imageryFlag,
		LabelPath:    *labelFlag,
		ImageryDType: dtype,
		LabelDType:   labelDtype,
		Mode:         mode,
		WindowSize:   *windowFlag,
		Bands:        bands,
	})
	if err != nil {
		log.Fatalf("chip-dump: %v", err)
	}

	// Drain first, then digest in parallel: GetNext is a single-cursor
	// interface, but hashing the payloads is embarrassingly parallel.
	chips := make([][]byte, *countFlag)
	var label []byte
	if *labelFlag != "" {
		label = make([]byte, r.LabelBytes())
	}
	for i := range chips {
		chips[i] = make([]byte, r.ImageryBytes())
		if err := r.GetNext(chips[i], label); err != nil {
			log.Fatalf("chip-dump: GetNext: %v", err)
		}
	}
	if err := r.Stop(); err != nil {
		log.Error.Printf("chip-dump: stop: %v", err)
	}
	digests := make([]uint64, len(chips))
	_ = traverse.Each(len(chips), func(i int) error {
		digests[i] = farm.Hash64(chips[i])
		return nil
	})

	ctx := vcontext.Background()
	out, err := file.Create(ctx, *outFlag)
	if err != nil {
		log.Fatalf("chip-dump: create %s: %v", *outFlag, err)
	}
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Marshal:      func(scratch []byte, v interface{}) ([]byte, error) { return v.([]byte), nil },
		Transformers: []string{recordiozstd.Name},
	})
	for i := range chips {
		w.Append(chips[i])
	}
	if err := w.Finish(); err != nil {
		log.Fatalf("chip-dump: write %s: %v", *outFlag, err)
	}
	if err := out.Close(ctx); err != nil {
		log.Fatalf("chip-dump: close %s: %v", *outFlag, err)
	}

	idxPath := *outFlag + ".tsv"
	idx, err := file.Create(ctx, idxPath)
	if err != nil {
		log.Fatalf("chip-dump: create %s: %v", idxPath, err)
	}
	idxTSV := tsv.NewWriter(idx.Writer(ctx))
	for i, d := range digests {
		idxTSV.WriteUint32(uint32(i))
		idxTSV.WriteString(fmt.Sprintf("%016x", d))
		if err := idxTSV.EndLine(); err != nil {
			log.Fatalf("chip-dump: write %s: %v", idxPath, err)
		}
	}
	if err := idxTSV.Flush(); err != nil {
		log.Fatalf("chip-dump: flush %s: %v", idxPath, err)
	}
	if err := idx.Close(ctx); err != nil {
		log.Fatalf("chip-dump: close %s: %v", idxPath, err)
	}
	log.Printf("chip-dump: wrote %d chips to %s", len(chips), *outFlag)
}
