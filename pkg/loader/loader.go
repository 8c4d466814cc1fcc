// Package loader assembles the exposure cube from a list of science files.
package loader

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"ccdreduce/internal/models"
	"ccdreduce/internal/monitoring"
	"ccdreduce/pkg/fitsfile"
	"ccdreduce/pkg/maskfile"
)

var (
	// ErrLoad covers missing, unreadable or unsupported input files
	ErrLoad = errors.New("load failure")

	// ErrShapeMismatch is returned when frames, bias or mask disagree in shape
	ErrShapeMismatch = errors.New("shape mismatch")
)

// DefaultExtension holds the integrations of multi-integration files
const DefaultExtension = "SCI"

// Options describes what to load
type Options struct {
	Files        []string
	BiasFrame    string
	BadPixelMask string

	// MultiIntegration reads a stack of integrations from Extension in
	// every file instead of a single frame from the primary HDU
	MultiIntegration bool
	Extension        string
}

// Result is the assembled cube and the map from frames back to files
type Result struct {
	Cube  *models.Cube
	Index *models.FrameIndex

	// Bias is the subtracted bias frame, nil when none was given
	Bias []float64
}

// ReadList reads a science list: one path per line, blank lines and lines
// starting with # ignored
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	defer f.Close()

	var files []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		files = append(files, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrLoad, path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s lists no files", ErrLoad, path)
	}
	return files, nil
}

// Load reads every file in order, applies the bias and bad-pixel mask, and
// returns the cube. Nothing is returned unless every file loads.
func Load(opts Options) (*Result, error) {
	if len(opts.Files) == 0 {
		return nil, fmt.Errorf("%w: no science files given", ErrLoad)
	}

	sel := fitsfile.Primary
	if opts.MultiIntegration {
		ext := opts.Extension
		if ext == "" {
			ext = DefaultExtension
		}
		sel = fitsfile.Extension(ext)
	}

	var (
		data       []float64
		counts     = make([]int, 0, len(opts.Files))
		rows, cols int
	)
	for i, path := range opts.Files {
		frames, r, c, pixels, err := readFrames(path, sel, opts.MultiIntegration)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			rows, cols = r, c
		} else if r != rows || c != cols {
			return nil, fmt.Errorf("%w: %s is %dx%d, expected %dx%d like %s",
				ErrShapeMismatch, path, r, c, rows, cols, opts.Files[0])
		}
		data = append(data, pixels...)
		counts = append(counts, frames)
	}

	index, err := models.NewFrameIndex(opts.Files, counts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	cube := &models.Cube{Data: data, Frames: index.Total(), Rows: rows, Cols: cols}
	res := &Result{Cube: cube, Index: index}

	if opts.BiasFrame != "" {
		bias, err := readPlane(opts.BiasFrame, rows, cols, "bias frame")
		if err != nil {
			return nil, err
		}
		for f := 0; f < cube.Frames; f++ {
			frame := cube.Frame(f)
			for p := range frame {
				frame[p] -= bias[p]
			}
		}
		res.Bias = bias
	}

	if opts.BadPixelMask != "" {
		r, c, bad, err := maskfile.ReadPixelMask(opts.BadPixelMask)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoad, err)
		}
		if r != rows || c != cols {
			return nil, fmt.Errorf("%w: bad pixel mask %s is %dx%d, science frames are %dx%d",
				ErrShapeMismatch, opts.BadPixelMask, r, c, rows, cols)
		}
		masked := 0
		for p, isBad := range bad {
			if !isBad {
				continue
			}
			masked++
			for f := 0; f < cube.Frames; f++ {
				cube.Data[f*cube.FrameSize()+p] = math.NaN()
			}
		}
		monitoring.Logf("Masked %d bad pixels in every frame", masked)
	}

	monitoring.Logf("Loaded %d frames of %dx%d pixels from %d files", cube.Frames, rows, cols, len(opts.Files))

	return res, nil
}

// readFrames returns the frames of one file and its frame count
func readFrames(path string, sel fitsfile.Selector, multi bool) (frames, rows, cols int, data []float64, err error) {
	img, err := fitsfile.ReadImage(path, sel)
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}
	if len(img.Data) == 0 {
		if !multi {
			return 0, 0, 0, nil, fmt.Errorf("%w: %s has no image data in the primary HDU; multi-integration files need the -jwst flag", ErrLoad, path)
		}
		return 0, 0, 0, nil, fmt.Errorf("%w: %s: HDU %s has no image data", ErrLoad, path, sel)
	}

	frames, rows, cols, err = img.Dims()
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
	}
	if !multi && frames != 1 {
		return 0, 0, 0, nil, fmt.Errorf("%w: %s holds %d integrations; multi-integration files need the -jwst flag", ErrLoad, path, frames)
	}
	return frames, rows, cols, img.Data, nil
}

// readPlane loads a 2D calibration image that must match the science frames
func readPlane(path string, rows, cols int, what string) ([]float64, error) {
	img, err := fitsfile.ReadImage(path, fitsfile.Primary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrLoad, what, path, err)
	}
	frames, r, c, err := img.Dims()
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrLoad, what, path, err)
	}
	if frames != 1 || r != rows || c != cols {
		return nil, fmt.Errorf("%w: %s %s is %dx%dx%d, science frames are %dx%d",
			ErrShapeMismatch, what, path, frames, r, c, rows, cols)
	}
	return img.Data, nil
}
