package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"ccdreduce/pkg/fitsfile"
	"ccdreduce/pkg/loader"
	"ccdreduce/pkg/visualization"
)

func main() {
	output := flag.String("out", "", "Output file name, .gif is appended")
	cmap := flag.String("cmap", "gray", "Colour map for the frames: gray or heat")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "Usage: framemovie -out name [-cmap gray|heat] filelist")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 || *output == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *cmap != "gray" && *cmap != "heat" {
		log.Fatalf("Unknown colour map %q", *cmap)
	}

	files, err := loader.ReadList(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}

	tmp, err := os.MkdirTemp("", "framemovie-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmp)

	var frames []string
	for i, f := range files {
		fmt.Println(f, i)
		im, err := fitsfile.ReadImage(f, fitsfile.Primary)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", f, err)
		}
		_, rows, cols, err := im.Dims()
		if err != nil {
			log.Fatalf("%s: %v", f, err)
		}

		png := filepath.Join(tmp, fmt.Sprintf("frame_%04d.png", i))
		opts := visualization.FrameOptions{Title: filepath.Base(f), Gray: *cmap == "gray"}
		if err := visualization.PlotFrame(im.Data[:rows*cols], rows, cols, png, opts); err != nil {
			log.Fatalf("Failed to plot %s: %v", f, err)
		}
		frames = append(frames, png)
	}

	gif := strings.TrimSuffix(*output, ".gif") + ".gif"
	// one frame per second
	if err := visualization.SaveMovieFromFiles(frames, gif, 100); err != nil {
		log.Fatalf("Failed to save %s: %v", gif, err)
	}
	fmt.Printf("GIF created successfully: %s\n", gif)
}
