// Package cosmics locates cosmic-ray hits in a stack of exposures. Each pixel
// is compared against a running median along the frame axis and frames whose
// residual stands out from the pixel's own residual scatter are flagged.
package cosmics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ccdreduce/internal/models"
)

// Pixel is a (row, column) location on the detector
type Pixel struct {
	Row int
	Col int
}

// PixelResult holds everything computed for one pixel series
type PixelResult struct {
	Pixel

	Series    []float64
	Median    []float64
	Residuals []float64

	// Std is the sample standard deviation (n-1) of the finite residuals.
	// numpy.nanstd divides by n, which gives a slightly tighter cut.
	Std float64

	// Cut is the residual magnitude a frame has to exceed to be flagged
	Cut float64

	Flags []bool
}

// Flagged lists the flagged frame numbers in order
func (r PixelResult) Flagged() []int {
	var frames []int
	for f, bad := range r.Flags {
		if bad {
			frames = append(frames, f)
		}
	}
	return frames
}

// Detect runs the detector on the series at (row, col). The cube is not
// modified and the result depends only on the series and sigma.
func Detect(cube *models.Cube, row, col int, sigma float64) PixelResult {
	var d detector
	d.load(cube, row, col)
	d.run(sigma)
	return d.result(row, col)
}

// DetectSeries flags the outliers of a single series and returns the
// running median used as their replacement
func DetectSeries(series []float64, sigma float64) (flags []bool, median []float64) {
	var d detector
	d.series = append(d.series[:0], series...)
	d.run(sigma)
	return d.flags, d.median
}

// RunningMedian is a centered three-frame median that ignores NaN. The end
// frames combine their own value with the neighbouring running median.
func RunningMedian(series []float64) []float64 {
	out := make([]float64, len(series))
	runningMedian(series, out)
	return out
}

func runningMedian(x, m []float64) {
	n := len(x)
	switch n {
	case 0:
		return
	case 1:
		m[0] = x[0]
		return
	case 2:
		v := nanMedian(x[0], x[1])
		m[0], m[1] = v, v
		return
	}

	for i := 1; i < n-1; i++ {
		m[i] = nanMedian(x[i-1], x[i], x[i+1])
	}
	m[0] = nanMedian(x[0], m[1])
	m[n-1] = nanMedian(x[n-1], m[n-2])
}

// detector holds the per-pixel buffers so that workers can reuse them
type detector struct {
	series []float64
	median []float64
	resid  []float64
	finite []float64
	flags  []bool
	std    float64
	cut    float64
}

func (d *detector) load(cube *models.Cube, row, col int) {
	d.series = cube.Series(row, col, d.series)
}

func (d *detector) run(sigma float64) {
	n := len(d.series)
	d.median = resize(d.median, n)
	d.resid = resize(d.resid, n)
	if cap(d.flags) < n {
		d.flags = make([]bool, n)
	}
	d.flags = d.flags[:n]
	for i := range d.flags {
		d.flags[i] = false
	}

	runningMedian(d.series, d.median)
	floats.SubTo(d.resid, d.series, d.median)

	d.finite = d.finite[:0]
	for _, r := range d.resid {
		if !math.IsNaN(r) && !math.IsInf(r, 0) {
			d.finite = append(d.finite, r)
		}
	}

	d.std, d.cut = 0, 0
	if len(d.finite) < 2 {
		return
	}
	d.std = stat.StdDev(d.finite, nil)
	d.cut = sigma * d.std

	// a flat residual series has nothing to stand out from
	if !(d.std > 0) {
		return
	}
	for i, r := range d.resid {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		if math.Abs(r) > d.cut {
			d.flags[i] = true
		}
	}
}

func (d *detector) any() bool {
	for _, f := range d.flags {
		if f {
			return true
		}
	}
	return false
}

// result copies the buffers into a PixelResult
func (d *detector) result(row, col int) PixelResult {
	return PixelResult{
		Pixel:     Pixel{Row: row, Col: col},
		Series:    append([]float64(nil), d.series...),
		Median:    append([]float64(nil), d.median...),
		Residuals: append([]float64(nil), d.resid...),
		Std:       d.std,
		Cut:       d.cut,
		Flags:     append([]bool(nil), d.flags...),
	}
}

func resize(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	return s[:n]
}

// nanMedian returns the median of the non-NaN values, NaN if there are none
func nanMedian(values ...float64) float64 {
	var buf [3]float64
	kept := buf[:0]
	for _, v := range values {
		if !math.IsNaN(v) {
			kept = append(kept, v)
		}
	}
	return median(kept)
}

// median calculates the median value of a slice of float64 values
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}

	// Sort a copy so the caller's order is kept
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
