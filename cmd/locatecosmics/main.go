package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"ccdreduce/internal/prompt"
	"ccdreduce/pkg/config"
	"ccdreduce/pkg/cosmics"
	"ccdreduce/pkg/loader"
	"ccdreduce/pkg/reduction"
)

// Exit codes
const (
	exitOK = iota
	exitUsage
	exitLoad
	exitShape
	exitAborted
	exitFailed
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

// options mirrors the command line before it is merged with the config file
type options struct {
	bias, mask        string
	rows, cols        string
	pixelClip         float64
	frameClip         float64
	verbose           bool
	saveCosmics       bool
	saveFrames        bool
	jwst              bool
	configPath        string
	audit, replace    string
	cores             int
	ledger            string
	report            bool
	maxPlots          int
	workDir, cleanDir string
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	defaults := config.DefaultConfig()

	fs := flag.NewFlagSet("locatecosmics", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() {
		fmt.Fprintln(stdout, "Usage: locatecosmics [flags] sciencelist")
		fs.PrintDefaults()
	}

	var o options
	fs.StringVar(&o.bias, "b", "", "Bias frame subtracted from every science frame")
	fs.StringVar(&o.bias, "bias", "", "Same as -b")
	fs.StringVar(&o.mask, "mask", "", "Bad pixel mask; flagged pixels are ignored")
	fs.StringVar(&o.rows, "row", "", "Comma separated rows of pixels to examine; needs -col")
	fs.StringVar(&o.cols, "col", "", "Comma separated columns of pixels to examine; needs -row")
	fs.Float64Var(&o.pixelClip, "pixel_clip", defaults.Detection.PixelClip, "Sigma threshold for flagging a pixel")
	fs.Float64Var(&o.frameClip, "frame_clip", defaults.Detection.FrameClip, "Multiple of the median cosmic count that sends a frame to review")
	fs.BoolVar(&o.verbose, "v", false, "Collect pixel diagnostics and render the mask frames")
	fs.BoolVar(&o.saveCosmics, "save_cosmics", false, "Save the pixel diagnostics (needs -v)")
	fs.BoolVar(&o.saveFrames, "save_frames", false, "Save frame images and movies")
	fs.BoolVar(&o.jwst, "jwst", false, "Read stacked integrations from the SCI extension")
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&o.audit, "audit", defaults.Review.Audit, "Suspect frame policy: prompt, keep or reset")
	fs.StringVar(&o.replace, "replace", defaults.Review.Replace, "Write cleaned science files: prompt, yes or no")
	fs.IntVar(&o.cores, "cores", defaults.Detection.NumCores, "Number of CPU cores to use")
	fs.StringVar(&o.ledger, "ledger", defaults.Output.LedgerPath, "SQLite run ledger, empty to disable")
	fs.BoolVar(&o.report, "report", defaults.Output.Report, "Write an HTML report of cosmics per frame")
	fs.IntVar(&o.maxPlots, "max_plots", defaults.Detection.MaxPlots, "Maximum number of pixel diagnostics collected")
	fs.StringVar(&o.workDir, "out", defaults.Output.WorkDir, "Directory for the mask, plots and report")
	fs.StringVar(&o.cleanDir, "cleaned", defaults.Output.CleanedDir, "Directory for the cleaned science files")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return exitUsage
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	merge(cfg, &o, set)
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid options: %v", err)
		return exitUsage
	}

	pixels, err := parsePixels(o.rows, o.cols)
	if err != nil {
		log.Printf("Invalid -row/-col: %v", err)
		return exitUsage
	}

	console := prompt.NewConsole(stdin, stdout)
	params := &reduction.Params{
		ScienceList:      fs.Arg(0),
		BiasFrame:        cfg.Input.BiasFrame,
		BadPixelMask:     cfg.Input.BadPixelMask,
		MultiIntegration: cfg.Input.MultiIntegration,
		Extension:        cfg.Input.Extension,
		PixelClip:        cfg.Detection.PixelClip,
		FrameClip:        cfg.Detection.FrameClip,
		NumCores:         cfg.Detection.NumCores,
		Pixels:           pixels,
		Verbose:          cfg.Output.Verbose,
		MaxPlots:         cfg.Detection.MaxPlots,
		SaveCosmics:      cfg.Output.SaveCosmics,
		SaveFrames:       cfg.Output.SaveFrames,
		Report:           cfg.Output.Report,
		WorkDir:          cfg.Output.WorkDir,
		CleanedDir:       cfg.Output.CleanedDir,
		LedgerPath:       cfg.Output.LedgerPath,
		Review:           reviewPolicy(cfg.Review.Audit, console),
		ReviewImages:     cfg.Review.Audit == config.AuditPrompt,
		ConfirmReplace:   replacePolicy(cfg.Review.Replace, console),
	}

	fmt.Fprintln(stdout, "================================")
	fmt.Fprintln(stdout, "COSMIC RAY LOCATION IN TIME SERIES OF CCD FRAMES")
	fmt.Fprintln(stdout, "================================")

	startTime := time.Now()
	summary, err := reduction.NewLocator(params).Process()
	if err != nil {
		log.Printf("Cosmic location failed: %v", err)
		return exitCode(err)
	}

	fmt.Fprintf(stdout, "\nCompleted in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Fprintf(stdout, "Frames: %d of %dx%d pixels\n", summary.Frames, summary.Rows, summary.Cols)
	if len(pixels) > 0 {
		for _, res := range summary.Diagnostics {
			fmt.Fprintf(stdout, "Pixel (%d,%d): std %.3f, %d frames flagged\n", res.Row, res.Col, res.Std, countFlags(res.Flags))
		}
		return exitOK
	}

	fmt.Fprintf(stdout, "Flagged pixels: %d\n", summary.Flagged)
	fmt.Fprintf(stdout, "Mask saved to: %s\n", summary.MaskPath)
	if summary.Audit != nil && len(summary.Audit.Reset) > 0 {
		fmt.Fprintf(stdout, "Reset frames: %v\n", summary.Audit.Reset)
	}
	if summary.ReportPath != "" {
		fmt.Fprintf(stdout, "Report: %s\n", summary.ReportPath)
	}
	if summary.RunID != "" {
		fmt.Fprintf(stdout, "Run id: %s\n", summary.RunID)
	}
	if len(summary.Cleaned) > 0 {
		fmt.Fprintf(stdout, "Wrote %d cleaned files to %s\n", len(summary.Cleaned), cfg.Output.CleanedDir)
	}
	return exitOK
}

// merge copies explicitly set flags over the config file values
func merge(cfg *config.Config, o *options, set map[string]bool) {
	if set["b"] || set["bias"] {
		cfg.Input.BiasFrame = o.bias
	}
	if set["mask"] {
		cfg.Input.BadPixelMask = o.mask
	}
	if set["jwst"] {
		cfg.Input.MultiIntegration = o.jwst
	}
	if set["pixel_clip"] {
		cfg.Detection.PixelClip = o.pixelClip
	}
	if set["frame_clip"] {
		cfg.Detection.FrameClip = o.frameClip
	}
	if set["cores"] {
		cfg.Detection.NumCores = o.cores
	}
	if set["max_plots"] {
		cfg.Detection.MaxPlots = o.maxPlots
	}
	if set["v"] {
		cfg.Output.Verbose = o.verbose
	}
	if set["save_cosmics"] {
		cfg.Output.SaveCosmics = o.saveCosmics
	}
	if set["save_frames"] {
		cfg.Output.SaveFrames = o.saveFrames
	}
	if set["report"] {
		cfg.Output.Report = o.report
	}
	if set["ledger"] {
		cfg.Output.LedgerPath = o.ledger
	}
	if set["out"] {
		cfg.Output.WorkDir = o.workDir
	}
	if set["cleaned"] {
		cfg.Output.CleanedDir = o.cleanDir
	}
	if set["audit"] {
		cfg.Review.Audit = o.audit
	}
	if set["replace"] {
		cfg.Review.Replace = o.replace
	}
}

func parseInts(list string) ([]int, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var out []int
	for _, f := range strings.Split(list, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parsePixels(rows, cols string) ([]cosmics.Pixel, error) {
	r, err := parseInts(rows)
	if err != nil {
		return nil, err
	}
	c, err := parseInts(cols)
	if err != nil {
		return nil, err
	}
	return cosmics.ParsePixels(r, c)
}

func reviewPolicy(policy string, console *prompt.Console) cosmics.DecisionFunc {
	switch policy {
	case config.AuditKeep:
		return cosmics.KeepAll
	case config.AuditReset:
		return cosmics.ResetAll
	}
	return func(r cosmics.FrameReview) (cosmics.Decision, error) {
		reset, err := console.YesNo(fmt.Sprintf("Reset mask for integration %d?", r.Frame+1))
		if err != nil {
			return cosmics.Keep, err
		}
		if reset {
			return cosmics.Reset, nil
		}
		return cosmics.Keep, nil
	}
}

func replacePolicy(policy string, console *prompt.Console) func() (bool, error) {
	switch policy {
	case config.ReplaceYes:
		return func() (bool, error) { return true, nil }
	case config.ReplaceNo:
		return nil
	}
	return func() (bool, error) {
		return console.YesNo("Replace cosmic values with median and save to new fits?")
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, loader.ErrShapeMismatch):
		return exitShape
	case errors.Is(err, loader.ErrLoad):
		return exitLoad
	case errors.Is(err, prompt.ErrAborted):
		return exitAborted
	default:
		return exitFailed
	}
}

func countFlags(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
