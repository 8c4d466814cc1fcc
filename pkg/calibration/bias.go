// Package calibration builds master bias frames from lists of raw bias
// exposures.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"ccdreduce/internal/monitoring"
	"ccdreduce/pkg/fitsfile"

	"gonum.org/v1/gonum/stat"
)

// Instrument selects where the bias windows live in each file
type Instrument string

const (
	// EFOSC stores a single window in the primary array
	EFOSC Instrument = "EFOSC"
	// ACAM stores one window per image extension
	ACAM Instrument = "ACAM"
)

// ErrNoFrames is returned when there is nothing to combine
var ErrNoFrames = errors.New("no bias frames to combine")

// ParseInstrument accepts an instrument name in any case
func ParseInstrument(name string) (Instrument, error) {
	switch inst := Instrument(strings.ToUpper(strings.TrimSpace(name))); inst {
	case EFOSC, ACAM:
		return inst, nil
	}
	return "", fmt.Errorf("currently only set up to deal with ACAM or EFOSC data, got %q", name)
}

// Stats summarises one bias frame
type Stats struct {
	Mean     float64
	Variance float64

	// Ratio is Variance/Mean, close to the read noise over gain for a clean bias
	Ratio float64
}

// FrameStats computes population statistics over the finite pixels
func FrameStats(data []float64) Stats {
	finite := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return Stats{Mean: math.NaN(), Variance: math.NaN(), Ratio: math.NaN()}
	}

	mean, variance := stat.PopMeanVariance(finite, nil)
	return Stats{Mean: mean, Variance: variance, Ratio: variance / mean}
}

// CombineBias median-combines frames pixel by pixel. NaN pixels are ignored;
// a pixel that is NaN in every frame stays NaN.
func CombineBias(frames [][]float64) ([]float64, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	size := len(frames[0])
	for i, f := range frames {
		if len(f) != size {
			return nil, fmt.Errorf("frame %d has %d pixels, expected %d", i, len(f), size)
		}
	}

	out := make([]float64, size)
	column := make([]float64, 0, len(frames))
	for p := range out {
		column = column[:0]
		for _, f := range frames {
			if !math.IsNaN(f[p]) {
				column = append(column, f[p])
			}
		}
		out[p] = median(column)
	}
	return out, nil
}

func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sort.Float64s(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// ReadWindows returns the bias windows of one file
func ReadWindows(path string, inst Instrument) ([]*fitsfile.Image, error) {
	switch inst {
	case EFOSC:
		im, err := fitsfile.ReadImage(path, fitsfile.Primary)
		if err != nil {
			return nil, err
		}
		return []*fitsfile.Image{im}, nil
	case ACAM:
		images, err := fitsfile.ReadImages(path)
		if err != nil {
			return nil, err
		}
		var windows []*fitsfile.Image
		for _, im := range images {
			if len(im.Axes) == 2 {
				windows = append(windows, im)
			}
		}
		if len(windows) == 0 {
			return nil, fmt.Errorf("%s has no image extensions", path)
		}
		return windows, nil
	default:
		return nil, fmt.Errorf("unknown instrument %q", inst)
	}
}

// FrameInfo is reported once per window as the files are read
type FrameInfo struct {
	Path   string
	Number int
	Total  int
	Window int
	Image  *fitsfile.Image
	Stats  Stats
}

// Master is a combined bias with one plane per window
type Master struct {
	Rows, Cols int
	Windows    int

	// Data holds Windows planes of Rows×Cols pixels
	Data []float64
}

// Image returns the master bias as a frame, or a stack for several windows
func (m *Master) Image() *fitsfile.Image {
	axes := []int{m.Cols, m.Rows}
	if m.Windows > 1 {
		axes = append(axes, m.Windows)
	}
	return fitsfile.New(-64, axes, m.Data)
}

// Plane returns window w
func (m *Master) Plane(w int) []float64 {
	size := m.Rows * m.Cols
	return m.Data[w*size : (w+1)*size]
}

// CombineWindows reads every file, reports each window through visit and
// median-combines each window separately. All windows must share one shape
// so that the result can be stored as a single stack.
func CombineWindows(files []string, inst Instrument, visit func(FrameInfo) error) (*Master, error) {
	if len(files) == 0 {
		return nil, ErrNoFrames
	}

	var (
		planes     [][][]float64
		rows, cols int
	)
	for n, path := range files {
		windows, err := ReadWindows(path, inst)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if planes == nil {
			planes = make([][][]float64, len(windows))
		} else if len(windows) != len(planes) {
			return nil, fmt.Errorf("%s has %d windows, expected %d", path, len(windows), len(planes))
		}

		for w, im := range windows {
			_, r, c, err := im.Dims()
			if err != nil {
				return nil, fmt.Errorf("%s window %d: %w", path, w+1, err)
			}
			if rows == 0 {
				rows, cols = r, c
			} else if r != rows || c != cols {
				return nil, fmt.Errorf("%s window %d is %dx%d, expected %dx%d", path, w+1, r, c, rows, cols)
			}

			info := FrameInfo{Path: path, Number: n + 1, Total: len(files), Window: w + 1, Image: im, Stats: FrameStats(im.Data)}
			monitoring.Logf("File #%d/%d ; %s ; window %d ; Mean = %.1f ; Variance = %.1f ; var/mean = %.2f",
				info.Number, info.Total, path, info.Window, info.Stats.Mean, info.Stats.Variance, info.Stats.Ratio)
			if visit != nil {
				if err := visit(info); err != nil {
					return nil, err
				}
			}
			planes[w] = append(planes[w], im.Data)
		}
	}

	master := &Master{Rows: rows, Cols: cols, Windows: len(planes)}
	for w, frames := range planes {
		combined, err := CombineBias(frames)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", w+1, err)
		}
		master.Data = append(master.Data, combined...)
	}
	return master, nil
}
