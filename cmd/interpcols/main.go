package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"ccdreduce/pkg/interpolation"
	"ccdreduce/pkg/loader"
)

func main() {
	colInfo := flag.String("colinfo", "", "File of bad columns, one \"column rowstart rowstop\" per line")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "Usage: interpcols -colinfo columns.txt filelist outputfolder")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 || *colInfo == "" {
		flag.Usage()
		os.Exit(1)
	}
	fileList, outputDir := flag.Arg(0), flag.Arg(1)

	f, err := os.Open(*colInfo)
	if err != nil {
		log.Fatalf("Failed to open column info: %v", err)
	}
	specs, err := interpolation.ParseColumnSpec(f)
	f.Close()
	if err != nil {
		log.Fatalf("Failed to parse %s: %v", *colInfo, err)
	}

	files, err := loader.ReadList(fileList)
	if err != nil {
		log.Fatal(err)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		log.Fatalf("Failed to create %s: %v", outputDir, err)
	}

	for _, in := range files {
		out := filepath.Join(outputDir, filepath.Base(in))
		fmt.Printf("Interpolate %s\n", filepath.Base(in))
		if _, err := interpolation.RepairFile(in, out, specs); err != nil {
			log.Fatalf("Interpolation failed: %v", err)
		}
	}
}
