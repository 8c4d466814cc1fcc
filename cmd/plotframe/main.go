package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"ccdreduce/pkg/fitsfile"
	"ccdreduce/pkg/visualization"

	"gonum.org/v1/plot/vg"
)

func main() {
	intrinsic := flag.Bool("i", false, "Also plot with percentile scaling for examining intrinsic CCD problems")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "Usage: plotframe [-i] fitsfile")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)

	im, err := fitsfile.ReadImage(path, fitsfile.Primary)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", path, err)
	}
	frames, rows, cols, err := im.Dims()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s: BITPIX %d, %d frame(s) of %dx%d, %d header cards\n", path, im.Bitpix, frames, rows, cols, len(im.Cards))
	frame := im.Data[:rows*cols]

	base := strings.TrimSuffix(path, filepath.Ext(path))
	out := base + ".png"
	if err := visualization.PlotFrame(frame, rows, cols, out, visualization.FrameOptions{Gray: true, Width: 11 * vg.Inch}); err != nil {
		log.Fatalf("Failed to plot %s: %v", path, err)
	}
	fmt.Printf("Saved %s\n", out)

	if *intrinsic {
		out := base + "_intrinsic_search.png"
		opts := visualization.FrameOptions{Intrinsic: true, Width: 7 * vg.Inch, Height: 7 * vg.Inch}
		if err := visualization.PlotFrame(frame, rows, cols, out, opts); err != nil {
			log.Fatalf("Failed to plot %s: %v", path, err)
		}
		fmt.Printf("Saved %s\n", out)
	}
}
