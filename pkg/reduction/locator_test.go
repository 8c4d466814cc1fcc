package reduction

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ccdreduce/internal/fitstest"
	"ccdreduce/internal/monitoring"
	"ccdreduce/internal/prompt"
	"ccdreduce/pkg/cosmics"
	"ccdreduce/pkg/fitsfile"
	"ccdreduce/pkg/ledger"
	"ccdreduce/pkg/loader"
	"ccdreduce/pkg/maskfile"
)

func init() {
	monitoring.SetLogger(nil)
}

const (
	testFrames = 12
	testRows   = 4
	testCols   = 5
)

// hit is a cosmic injected into the test frames
type hit struct {
	frame, row, col int
}

// createScienceFrames writes one FITS file per frame with a gentle
// per-pixel pattern, the injected hits and a science list naming them
func createScienceFrames(t *testing.T, dir string, hits []hit) string {
	t.Helper()

	var names []string
	for f := 0; f < testFrames; f++ {
		data := make([]float64, testRows*testCols)
		for i := range data {
			data[i] = 1000 + float64(i) + float64(f%3)
		}
		for _, h := range hits {
			if h.frame == f {
				data[h.row*testCols+h.col] += 5000
			}
		}
		hdu := fitstest.Frame(testRows, testCols, data)
		hdu.Cards = [][2]string{{"OBJECT", "WASP-52"}}
		names = append(names, fitstest.WriteFile(t, dir, frameName(f), hdu))
	}

	list := filepath.Join(dir, "science_list")
	if err := os.WriteFile(list, []byte(strings.Join(names, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("Failed to write science list: %v", err)
	}
	return list
}

func frameName(f int) string {
	return "r" + string(rune('a'+f)) + ".fits"
}

// TestBasicLocator runs the full pipeline on generated frames
func TestBasicLocator(t *testing.T) {
	tmpDir := t.TempDir()
	hits := []hit{{frame: 2, row: 1, col: 1}, {frame: 7, row: 3, col: 4}}
	list := createScienceFrames(t, tmpDir, hits)

	params := &Params{
		ScienceList:    list,
		PixelClip:      3,
		FrameClip:      3,
		NumCores:       2,
		Verbose:        true,
		MaxPlots:       5,
		SaveCosmics:    true,
		SaveFrames:     true,
		Report:         true,
		WorkDir:        filepath.Join(tmpDir, "locate_cosmics"),
		CleanedDir:     filepath.Join(tmpDir, "cleaned"),
		LedgerPath:     filepath.Join(tmpDir, "locate_cosmics", "runs.db"),
		Review:         cosmics.KeepAll,
		ConfirmReplace: func() (bool, error) { return true, nil },
	}

	summary, err := NewLocator(params).Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if summary.Flagged != len(hits) {
		t.Errorf("Expected %d flagged pixels, got %d", len(hits), summary.Flagged)
	}
	if filepath.Base(summary.MaskPath) != "cosmic_pixel_mask_30sigma_clip.fits" {
		t.Errorf("Unexpected mask name %s", summary.MaskPath)
	}

	mask, err := maskfile.Read(summary.MaskPath)
	if err != nil {
		t.Fatalf("Failed to read mask: %v", err)
	}
	for _, h := range hits {
		if !mask.At(h.frame, h.row, h.col) {
			t.Errorf("Hit %+v missing from the saved mask", h)
		}
	}

	// One diagnostic per flagged pixel, frame images, movie and report
	if len(summary.Diagnostics) != len(hits) {
		t.Errorf("Expected %d diagnostics, got %d", len(hits), len(summary.Diagnostics))
	}
	for _, p := range append(summary.Plots, summary.ReportPath) {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("Missing output %s: %v", p, err)
		}
	}
	if _, err := os.Stat(filepath.Join(params.WorkDir, "cosmics_movie.gif")); err != nil {
		t.Errorf("Missing movie: %v", err)
	}

	// Cleaned copies carry the median in place of the hits
	if len(summary.Cleaned) != testFrames {
		t.Fatalf("Expected %d cleaned files, got %d", testFrames, len(summary.Cleaned))
	}
	h := hits[0]
	img, err := fitsfile.ReadImage(summary.Cleaned[h.frame], fitsfile.Primary)
	if err != nil {
		t.Fatalf("Failed to read cleaned file: %v", err)
	}
	if got := img.Data[h.row*testCols+h.col]; got > 2000 {
		t.Errorf("Hit not replaced, pixel is %v", got)
	}
	if c := img.Card("OBJECT"); c == nil {
		t.Error("Header card lost in the cleaned copy")
	}

	// The run is in the ledger and marked as cleaned
	runs, err := ledger.Open(params.LedgerPath)
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	defer runs.Close()
	recorded, err := runs.Runs()
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(recorded) != 1 || recorded[0].ID != summary.RunID || !recorded[0].Cleaned {
		t.Errorf("Unexpected ledger contents: %+v", recorded)
	}
}

// TestLocatorAuditReset resets a frame with far too many flags
func TestLocatorAuditReset(t *testing.T) {
	tmpDir := t.TempDir()
	var hits []hit
	for r := 0; r < testRows; r++ {
		for c := 0; c < testCols; c++ {
			// (0,0) keeps a single hit so it stands out of its own series
			if r == 0 && c == 0 {
				continue
			}
			hits = append(hits, hit{frame: 5, row: r, col: c})
		}
	}
	hits = append(hits, hit{frame: 9, row: 0, col: 0})
	list := createScienceFrames(t, tmpDir, hits)

	var reviewed []int
	params := &Params{
		ScienceList:  list,
		PixelClip:    3,
		WorkDir:      filepath.Join(tmpDir, "work"),
		ReviewImages: true,
		Review: func(r cosmics.FrameReview) (cosmics.Decision, error) {
			if _, err := os.Stat(filepath.Join(tmpDir, "work", fmt.Sprintf("review_frame_%d.png", r.Frame+1))); err != nil {
				t.Errorf("Review image missing before the decision: %v", err)
			}
			reviewed = append(reviewed, r.Frame)
			return cosmics.Reset, nil
		},
	}

	summary, err := NewLocator(params).Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(reviewed) != 1 || reviewed[0] != 5 {
		t.Errorf("Expected only frame 5 to be reviewed, got %v", reviewed)
	}

	mask, err := maskfile.Read(summary.MaskPath)
	if err != nil {
		t.Fatalf("Failed to read mask: %v", err)
	}
	if mask.Count(5) != 0 {
		t.Errorf("Frame 5 should be cleared, has %d flags", mask.Count(5))
	}
	if !mask.At(9, 0, 0) {
		t.Error("Hit in frame 10 lost")
	}
	if summary.Cleaned != nil {
		t.Error("No cleaned files expected without confirmation")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "work", "cosmics_corr_movie.gif")); !os.IsNotExist(err) {
		t.Error("Corrected movie is only written with SaveFrames")
	}
}

// TestLocatorDiagnosticMode examines selected pixels and writes no mask
func TestLocatorDiagnosticMode(t *testing.T) {
	tmpDir := t.TempDir()
	list := createScienceFrames(t, tmpDir, []hit{{frame: 4, row: 2, col: 2}})

	params := &Params{
		ScienceList: list,
		PixelClip:   3,
		WorkDir:     filepath.Join(tmpDir, "work"),
		Pixels:      []cosmics.Pixel{{Row: 2, Col: 2}, {Row: 0, Col: 0}},
	}
	summary, err := NewLocator(params).Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(summary.Diagnostics) != 2 {
		t.Fatalf("Expected 2 diagnostics, got %d", len(summary.Diagnostics))
	}
	if got := summary.Diagnostics[0].Flagged(); len(got) != 1 || got[0] != 4 {
		t.Errorf("Expected frame 4 flagged, got %v", got)
	}
	if summary.MaskPath != "" {
		t.Error("Diagnostic mode must not write a mask")
	}
	matches, _ := filepath.Glob(filepath.Join(params.WorkDir, "cosmic_pixel_mask_*"))
	if len(matches) != 0 {
		t.Errorf("Unexpected mask files %v", matches)
	}
	if len(summary.Plots) != 2 {
		t.Errorf("Expected 2 pixel plots, got %d", len(summary.Plots))
	}
}

// TestLocatorAbort leaves no mask behind when the operator quits
func TestLocatorAbort(t *testing.T) {
	tmpDir := t.TempDir()
	var hits []hit
	for c := 0; c < testCols; c++ {
		hits = append(hits, hit{frame: 3, row: 0, col: c}, hit{frame: 3, row: 1, col: c})
	}
	list := createScienceFrames(t, tmpDir, hits)

	params := &Params{
		ScienceList: list,
		PixelClip:   3,
		WorkDir:     filepath.Join(tmpDir, "work"),
		Review: func(cosmics.FrameReview) (cosmics.Decision, error) {
			return cosmics.Keep, prompt.ErrAborted
		},
	}
	if _, err := NewLocator(params).Process(); !errors.Is(err, prompt.ErrAborted) {
		t.Fatalf("Expected ErrAborted, got %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(params.WorkDir, "*.fits"))
	if len(matches) != 0 {
		t.Errorf("Mask written despite abort: %v", matches)
	}
}

// TestLocatorLoadFailure reports missing files as load errors
func TestLocatorLoadFailure(t *testing.T) {
	tmpDir := t.TempDir()
	list := filepath.Join(tmpDir, "science_list")
	if err := os.WriteFile(list, []byte(filepath.Join(tmpDir, "missing.fits")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := NewLocator(&Params{ScienceList: list, WorkDir: filepath.Join(tmpDir, "work")}).Process()
	if !errors.Is(err, loader.ErrLoad) {
		t.Errorf("Expected ErrLoad, got %v", err)
	}
}

// TestLocatorBiasRestoredInCleanedFiles adds the bias back to replacements
func TestLocatorBiasRestoredInCleanedFiles(t *testing.T) {
	tmpDir := t.TempDir()
	h := hit{frame: 6, row: 2, col: 3}
	list := createScienceFrames(t, tmpDir, []hit{h})

	bias := make([]float64, testRows*testCols)
	for i := range bias {
		bias[i] = 500
	}
	biasPath := fitstest.WriteFile(t, tmpDir, "master_bias.fits", fitstest.Frame(testRows, testCols, bias))

	params := &Params{
		ScienceList:    list,
		BiasFrame:      biasPath,
		PixelClip:      3,
		WorkDir:        filepath.Join(tmpDir, "work"),
		CleanedDir:     filepath.Join(tmpDir, "cleaned"),
		ConfirmReplace: func() (bool, error) { return true, nil },
	}
	summary, err := NewLocator(params).Process()
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	img, err := fitsfile.ReadImage(summary.Cleaned[h.frame], fitsfile.Primary)
	if err != nil {
		t.Fatal(err)
	}
	got := img.Data[h.row*testCols+h.col]
	// neighbours in time are 1000 + pixel index + 0..2 in raw counts
	want := 1000 + float64(h.row*testCols+h.col)
	if math.Abs(got-want) > 3 {
		t.Errorf("Expected cleaned value near %v in raw counts, got %v", want, got)
	}
}
