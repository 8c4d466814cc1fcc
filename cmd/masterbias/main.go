package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"ccdreduce/internal/prompt"
	"ccdreduce/pkg/calibration"
	"ccdreduce/pkg/fitsfile"
	"ccdreduce/pkg/loader"
	"ccdreduce/pkg/visualization"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("masterbias", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() {
		fmt.Fprintln(stdout, "Usage: masterbias -inst EFOSC|ACAM [flags] biaslist")
		fs.PrintDefaults()
	}
	verbose := fs.Bool("v", false, "Plot each bias frame before combining it")
	instName := fs.String("inst", "", "Instrument, either ACAM or EFOSC")
	clobber := fs.Bool("c", false, "Save the master bias, overwriting any existing one")
	eyeball := fs.Bool("e", false, "Sort the bias frames into good and bad lists and stop")
	saveGIF := fs.Bool("s", false, "Save the bias frame plots as a gif (needs -v)")
	outDir := fs.String("out", "bias", "Directory for the master bias and plots")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	biasList := fs.Arg(0)

	if *saveGIF && !*verbose {
		fmt.Fprintln(stdout, "Attention: You must put verbose=True to store the files!")
		return 1
	}
	inst, err := calibration.ParseInstrument(*instName)
	if err != nil {
		log.Print(err)
		return 1
	}

	masterPath := filepath.Join(*outDir, "master_bias.fits")
	if _, err := os.Stat(masterPath); err == nil && !*clobber {
		fmt.Fprintln(stdout, "Attention: The master_bias.fits file will not be updated. Redo the task with clobber!")
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Printf("Failed to create %s: %v", *outDir, err)
		return 1
	}

	files, err := loader.ReadList(biasList)
	if err != nil {
		log.Print(err)
		return 1
	}

	if *eyeball {
		if err := sortFrames(files, biasList, inst, *outDir, prompt.NewConsole(stdin, stdout), stdout); err != nil {
			log.Printf("Eyeballing failed: %v", err)
			if errors.Is(err, prompt.ErrAborted) {
				return 4
			}
			return 5
		}
		return 0
	}

	var plots []string
	visit := func(info calibration.FrameInfo) error {
		if !*verbose {
			return nil
		}
		filename := filepath.Join(*outDir, fmt.Sprintf("%s_w%d.png", strings.TrimSuffix(filepath.Base(info.Path), filepath.Ext(info.Path)), info.Window))
		if err := plotWindow(info.Image, filename, fmt.Sprintf("#%d/%d ; %s", info.Number, info.Total, filepath.Base(info.Path))); err != nil {
			return err
		}
		plots = append(plots, filename)
		return nil
	}

	master, err := calibration.CombineWindows(files, inst, visit)
	if err != nil {
		log.Printf("Failed to combine biases: %v", err)
		return 5
	}

	if *saveGIF && len(plots) > 0 {
		movie := filepath.Join(*outDir, "bias_movie.gif")
		if err := visualization.SaveMovieFromFiles(plots, movie, 50); err != nil {
			log.Printf("Failed to save %s: %v", movie, err)
			return 5
		}
		for _, p := range plots {
			os.Remove(p)
		}
		fmt.Fprintf(stdout, "Saved %s\n", movie)
	}

	if !*clobber {
		return 0
	}
	if err := fitsfile.WriteImage(masterPath, master.Image()); err != nil {
		log.Printf("Failed to save master bias: %v", err)
		return 5
	}
	fmt.Fprintf(stdout, "Saved %s\n", masterPath)

	for w := 0; w < master.Windows; w++ {
		filename := filepath.Join(*outDir, "master_bias.png")
		if master.Windows > 1 {
			filename = filepath.Join(*outDir, fmt.Sprintf("master_bias_w%d.png", w+1))
		}
		opts := visualization.FrameOptions{Title: "Master Bias", Intrinsic: true}
		if err := visualization.PlotFrame(master.Plane(w), master.Rows, master.Cols, filename, opts); err != nil {
			log.Printf("Failed to plot master bias: %v", err)
			return 5
		}
	}
	return 0
}

func plotWindow(im *fitsfile.Image, filename, title string) error {
	_, rows, cols, err := im.Dims()
	if err != nil {
		return err
	}
	return visualization.PlotFrame(im.Data, rows, cols, filename, visualization.FrameOptions{Title: title, Intrinsic: true})
}

// sortFrames plots the first window of every frame and asks whether it is
// good, then writes <list>_GOOD and <list>_BAD
func sortFrames(files []string, list string, inst calibration.Instrument, outDir string, console *prompt.Console, stdout io.Writer) error {
	n := 0
	sorted, err := calibration.Sort(files, func(path string) (bool, error) {
		n++
		windows, err := calibration.ReadWindows(path, inst)
		if err != nil {
			return false, err
		}
		stats := calibration.FrameStats(windows[0].Data)
		fmt.Fprintf(stdout, "File #%d/%d ; %s ; Mean = %.1f ; Variance = %.1f ; var/mean = %.2f\n",
			n, len(files), filepath.Base(path), stats.Mean, stats.Variance, stats.Ratio)

		filename := filepath.Join(outDir, "eyeball.png")
		if err := plotWindow(windows[0], filename, fmt.Sprintf("#%d/%d ; %s", n, len(files), filepath.Base(path))); err != nil {
			return false, err
		}
		answer, err := console.Choose(fmt.Sprintf("%s good/bad?", filename), "g", "b")
		if err != nil {
			return false, err
		}
		return answer == "g", nil
	})
	if err != nil {
		return err
	}

	good, bad, err := sorted.WriteLists(list)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d good frames in %s, %d bad frames in %s\n", len(sorted.Good), good, len(sorted.Bad), bad)
	return nil
}
