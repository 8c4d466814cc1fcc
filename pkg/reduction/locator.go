// Package reduction drives the cosmic-ray location pipeline: load the
// science frames, scan every pixel, audit suspicious frames, persist the
// mask and optionally write cleaned copies of the science files.
package reduction

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ccdreduce/internal/monitoring"
	"ccdreduce/pkg/cosmics"
	"ccdreduce/pkg/fitsfile"
	"ccdreduce/pkg/ledger"
	"ccdreduce/pkg/loader"
	"ccdreduce/pkg/maskfile"
	"ccdreduce/pkg/visualization"
)

// Params holds the settings of one run
type Params struct {
	// ScienceList is the text file naming the science frames in acquisition
	// order. Files overrides it when set.
	ScienceList string
	Files       []string

	// BiasFrame is subtracted from every frame when set
	BiasFrame string

	// BadPixelMask marks pixels excluded from detection in every frame
	BadPixelMask string

	// MultiIntegration reads stacks of integrations from Extension
	MultiIntegration bool
	Extension        string

	// PixelClip is the outlier threshold in residual standard deviations
	PixelClip float64

	// FrameClip is the multiple of the median flagged count above which a
	// frame is sent for review
	FrameClip float64

	// NumCores is the number of goroutines scanning the grid
	NumCores int

	// Pixels switches to diagnostic mode: only these pixels are examined,
	// their plots are written and the run stops without a mask
	Pixels []cosmics.Pixel

	// Verbose collects up to MaxPlots flagged pixel diagnostics and renders
	// every frame of the mask
	Verbose  bool
	MaxPlots int

	// SaveCosmics writes the collected pixel diagnostics as PNG files
	SaveCosmics bool

	// SaveFrames writes frame images, review images and the movies
	SaveFrames bool

	// Report writes an HTML chart of the flagged pixels per frame
	Report bool

	// WorkDir receives the mask, plots and report
	WorkDir string

	// CleanedDir receives the cleaned copies of the science files
	CleanedDir string

	// LedgerPath is the run database; empty disables it
	LedgerPath string

	// Review decides the fate of each suspect frame
	Review cosmics.DecisionFunc

	// ReviewImages writes the before/after image of each suspect frame
	// ahead of the decision. SaveFrames implies it.
	ReviewImages bool

	// ConfirmReplace is asked before cleaned copies are written; nil skips them
	ConfirmReplace func() (bool, error)
}

// Summary describes a finished run
type Summary struct {
	RunID string

	Frames int
	Rows   int
	Cols   int

	// Flagged is the number of flagged pixels after the audit
	Flagged int

	MaskPath   string
	ReportPath string

	Audit *cosmics.AuditReport

	// Diagnostics are the pixel results of diagnostic mode, or the
	// collected flagged pixels in verbose mode
	Diagnostics []cosmics.PixelResult

	// Plots lists every image and movie written
	Plots []string

	// Cleaned lists the cleaned science files written
	Cleaned []string
}

// Locator runs the pipeline for one set of science frames
type Locator struct {
	// params stores the run configuration
	params *Params

	// data is the loaded cube with its frame index
	data *loader.Result

	// agg holds the mask and running medians of the full scan
	agg *cosmics.Aggregation

	summary *Summary
}

// NewLocator creates a locator for params. Zero clip values take the usual
// defaults of 5 and 3.
func NewLocator(params *Params) *Locator {
	if params.PixelClip == 0 {
		params.PixelClip = 5
	}
	if params.FrameClip == 0 {
		params.FrameClip = 3
	}
	if params.WorkDir == "" {
		params.WorkDir = "locate_cosmics"
	}
	if params.Review == nil {
		params.Review = cosmics.KeepAll
	}
	return &Locator{params: params, summary: &Summary{}}
}

// Process runs the complete pipeline. The mask is written only once every
// earlier step has succeeded.
func (l *Locator) Process() (*Summary, error) {
	started := time.Now()
	p := l.params

	if err := os.MkdirAll(p.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	if p.SaveCosmics && !p.Verbose && len(p.Pixels) == 0 {
		monitoring.Logf("Attention: cosmic plots are only collected in verbose mode, rerun with -v to save them")
	}

	// Step 1: Load the science frames
	monitoring.Logf("Step 1: Loading science frames...")
	if err := l.load(); err != nil {
		return nil, err
	}
	cube := l.data.Cube
	l.summary.Frames, l.summary.Rows, l.summary.Cols = cube.Frames, cube.Rows, cube.Cols

	// Diagnostic mode stops after the selected pixels
	if len(p.Pixels) > 0 {
		monitoring.Logf("Step 2: Examining %d selected pixels...", len(p.Pixels))
		if err := l.diagnose(); err != nil {
			return nil, err
		}
		return l.summary, nil
	}

	// Step 2: Scan every pixel
	monitoring.Logf("Step 2: Locating cosmics in %d rows with %.1f sigma clipping...", cube.Rows, p.PixelClip)
	var collector *cosmics.Collector
	if p.Verbose {
		collector = cosmics.NewCollector(p.MaxPlots)
	}
	aggregator := &cosmics.Aggregator{
		Sigma:     p.PixelClip,
		Workers:   p.NumCores,
		Collector: collector,
		Progress: func(done, total int) {
			if done%100 == 0 || done == total {
				monitoring.Logf("Calculated medians for row %d of %d", done, total)
			}
		},
	}
	l.agg = aggregator.Run(cube)
	monitoring.Logf("Flagged %d pixels", l.agg.Mask.Total())

	// Step 3: Verbose renders
	if p.Verbose {
		monitoring.Logf("Step 3: Rendering cosmic-masked frames...")
		if err := l.renderVerbose(collector); err != nil {
			return nil, err
		}
	}

	// Step 4: Audit frames with too many flags
	monitoring.Logf("Step 4: Checking frames with a high number of cosmics...")
	report, err := l.audit()
	if err != nil {
		return nil, err
	}
	l.summary.Audit = report

	// Step 5: Persist the mask
	monitoring.Logf("Step 5: Saving the cosmic mask...")
	l.summary.MaskPath = filepath.Join(p.WorkDir, maskfile.Filename(p.PixelClip))
	if err := maskfile.Write(l.summary.MaskPath, l.agg.Mask, p.PixelClip); err != nil {
		return nil, err
	}
	l.summary.Flagged = l.agg.Mask.Total()
	monitoring.Logf("Saved %s", l.summary.MaskPath)

	if p.Report {
		l.summary.ReportPath = filepath.Join(p.WorkDir, "cosmics_report.html")
		if err := visualization.WriteReport(l.summary.ReportPath, report, p.PixelClip); err != nil {
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
	}

	// Step 6: Record the run
	var runs *ledger.Ledger
	if p.LedgerPath != "" {
		monitoring.Logf("Step 6: Recording the run in %s...", p.LedgerPath)
		runs, err = ledger.Open(p.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		defer runs.Close()

		l.summary.RunID, err = runs.RecordRun(l.runRecord(started, report))
		if err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	// Step 7: Optionally write cleaned copies
	if p.ConfirmReplace != nil {
		replace, err := p.ConfirmReplace()
		if err != nil {
			return nil, err
		}
		if replace {
			monitoring.Logf("Step 7: Replacing cosmics with median values...")
			if err := l.replace(); err != nil {
				return nil, err
			}
			if runs != nil {
				if err := runs.MarkCleaned(l.summary.RunID); err != nil {
					return nil, err
				}
			}
		}
	}

	monitoring.Logf("Finished in %s", time.Since(started).Round(time.Millisecond))
	return l.summary, nil
}

// GetAggregation returns the mask and median cube, nil before a full run
func (l *Locator) GetAggregation() *cosmics.Aggregation {
	return l.agg
}

func (l *Locator) load() error {
	p := l.params
	files := p.Files
	if len(files) == 0 {
		var err error
		files, err = loader.ReadList(p.ScienceList)
		if err != nil {
			return err
		}
	}

	data, err := loader.Load(loader.Options{
		Files:            files,
		BiasFrame:        p.BiasFrame,
		BadPixelMask:     p.BadPixelMask,
		MultiIntegration: p.MultiIntegration,
		Extension:        p.Extension,
	})
	if err != nil {
		return fmt.Errorf("failed to load science frames: %w", err)
	}
	l.data = data
	return nil
}

func (l *Locator) diagnose() error {
	p := l.params
	aggregator := &cosmics.Aggregator{Sigma: p.PixelClip}
	results, err := aggregator.Diagnose(l.data.Cube, p.Pixels)
	if err != nil {
		return fmt.Errorf("failed to examine pixels: %w", err)
	}
	l.summary.Diagnostics = results

	for _, res := range results {
		monitoring.Logf("Pixel [%d,%d]: std %.3f, cut %.3f, flagged frames %v", res.Row, res.Col, res.Std, res.Cut, res.Flagged())

		filename := filepath.Join(p.WorkDir, fmt.Sprintf("pixel_%d_%d.png", res.Row, res.Col))
		if err := visualization.PlotPixel(res, filename); err != nil {
			return fmt.Errorf("failed to plot pixel [%d,%d]: %w", res.Row, res.Col, err)
		}
		l.summary.Plots = append(l.summary.Plots, filename)
	}
	return nil
}

func (l *Locator) renderVerbose(collector *cosmics.Collector) error {
	p := l.params
	l.summary.Diagnostics = collector.Results()
	monitoring.Logf("Collected %d of %d flagged pixel series", len(l.summary.Diagnostics), collector.Seen())

	if p.SaveCosmics {
		dir := filepath.Join(p.WorkDir, "single_cosmics")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		for i, res := range l.summary.Diagnostics {
			filename := filepath.Join(dir, fmt.Sprintf("pixel_over_time_%d.png", i+1))
			if err := visualization.PlotPixel(res, filename); err != nil {
				return fmt.Errorf("failed to plot pixel [%d,%d]: %w", res.Row, res.Col, err)
			}
			l.summary.Plots = append(l.summary.Plots, filename)
		}
	}

	if p.SaveFrames {
		viewer := visualization.NewViewer(l.agg.Mask)
		frames, err := viewer.SaveFrameSequence(p.WorkDir, "Frame")
		if err != nil {
			return fmt.Errorf("failed to save frames: %w", err)
		}
		l.summary.Plots = append(l.summary.Plots, frames...)

		movie := filepath.Join(p.WorkDir, "cosmics_movie.gif")
		if err := visualization.SaveMovieFromFiles(frames, movie, 100); err != nil {
			return fmt.Errorf("failed to save movie: %w", err)
		}
		l.summary.Plots = append(l.summary.Plots, movie)
	}
	return nil
}

func (l *Locator) audit() (*cosmics.AuditReport, error) {
	p := l.params
	detected := l.agg.Mask.Clone()
	viewer := visualization.NewViewer(detected)

	var reviews []string
	decide := func(r cosmics.FrameReview) (cosmics.Decision, error) {
		if p.SaveFrames || p.ReviewImages {
			preview := r.Mask.Clone()
			preview.ClearFrame(r.Frame)
			filename := filepath.Join(p.WorkDir, fmt.Sprintf("review_frame_%d.png", r.Frame+1))
			if err := viewer.SaveComparison(r.Frame, preview, filename); err != nil {
				return cosmics.Keep, fmt.Errorf("failed to save review image: %w", err)
			}
			monitoring.Logf("Review image for frame %d: %s", r.Frame+1, filename)
			reviews = append(reviews, filename)
			l.summary.Plots = append(l.summary.Plots, filename)
		}
		return p.Review(r)
	}

	report, err := cosmics.Audit(l.agg.Mask, p.FrameClip, decide)
	if err != nil {
		return nil, err
	}

	if p.SaveFrames && len(reviews) >= 2 {
		movie := filepath.Join(p.WorkDir, "cosmics_corr_movie.gif")
		if err := visualization.SaveMovieFromFiles(reviews, movie, 50); err != nil {
			return nil, fmt.Errorf("failed to save movie: %w", err)
		}
		l.summary.Plots = append(l.summary.Plots, movie)
	}
	return report, nil
}

func (l *Locator) replace() error {
	p := l.params
	sel := fitsfile.Primary
	if p.MultiIntegration {
		ext := p.Extension
		if ext == "" {
			ext = loader.DefaultExtension
		}
		sel = fitsfile.Extension(ext)
	}

	replacer := &cosmics.Replacer{
		OutputDir: p.CleanedDir,
		HDU:       sel,
		Offset:    l.data.Bias,
	}
	written, err := replacer.Replace(l.agg.Mask, l.agg.Median, l.data.Index)
	if err != nil {
		return fmt.Errorf("failed to write cleaned files: %w", err)
	}
	l.summary.Cleaned = written
	return nil
}

func (l *Locator) runRecord(started time.Time, report *cosmics.AuditReport) *ledger.Run {
	p := l.params
	mask := l.agg.Mask

	suspect := make(map[int]bool, len(report.Suspects))
	for _, f := range report.Suspects {
		suspect[f] = true
	}
	reset := make(map[int]bool, len(report.Reset))
	for _, f := range report.Reset {
		reset[f] = true
	}

	counts := mask.Counts()
	frames := make([]ledger.FrameCount, len(counts))
	for f, n := range counts {
		frames[f] = ledger.FrameCount{Frame: f, Flagged: n, Suspect: suspect[f], Reset: reset[f]}
	}

	return &ledger.Run{
		StartedAt:   started,
		FinishedAt:  time.Now(),
		ScienceList: p.ScienceList,
		PixelClip:   p.PixelClip,
		FrameClip:   p.FrameClip,
		Frames:      mask.Frames,
		Rows:        mask.Rows,
		Cols:        mask.Cols,
		Flagged:     mask.Total(),
		MaskPath:    l.summary.MaskPath,
		FrameCounts: frames,
	}
}
