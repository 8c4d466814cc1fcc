package cosmics

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"ccdreduce/internal/models"
)

func seriesCube(series []float64) *models.Cube {
	return &models.Cube{Data: append([]float64(nil), series...), Frames: len(series), Rows: 1, Cols: 1}
}

func flat(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// TestRunningMedian checks interior windows and the end-frame rule
func TestRunningMedian(t *testing.T) {
	tests := []struct {
		name   string
		series []float64
		want   []float64
	}{
		{"empty", nil, []float64{}},
		{"single", []float64{4}, []float64{4}},
		{"pair", []float64{2, 6}, []float64{4, 4}},
		{"spike", []float64{10, 10, 50, 10, 10}, []float64{10, 10, 10, 10, 10}},
		{"ramp", []float64{1, 2, 3, 4}, []float64{1.5, 2, 3, 3.5}},
		{"edge spike", []float64{50, 10, 10, 10}, []float64{30, 10, 10, 10}},
		{"nan ignored", []float64{1, math.NaN(), 3, 5}, []float64{1.5, 2, 4, 4.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RunningMedian(tt.series)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("running median mismatch (-want +got):\n%s", diff)
			}
		})
	}

	all := RunningMedian([]float64{math.NaN(), math.NaN(), math.NaN()})
	for i, v := range all {
		if !math.IsNaN(v) {
			t.Errorf("frame %d: expected NaN for an all-NaN window, got %v", i, v)
		}
	}
}

// TestDetectSingleSpike flags the spike of a five-frame series. With five
// samples the spike's residual is 2.24 sample deviations, so it is caught
// at a clip of 2 and missed at 3.
func TestDetectSingleSpike(t *testing.T) {
	cube := seriesCube([]float64{10, 10, 50, 10, 10})

	res := Detect(cube, 0, 0, 2)
	if diff := cmp.Diff([]int{2}, res.Flagged()); diff != "" {
		t.Errorf("flagged frames mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(flat(5, 10), res.Median); diff != "" {
		t.Errorf("median mismatch (-want +got):\n%s", diff)
	}
	if math.Abs(res.Std-math.Sqrt(320)) > 1e-12 {
		t.Errorf("expected sample std %v, got %v", math.Sqrt(320), res.Std)
	}

	if got := Detect(cube, 0, 0, 3).Flagged(); len(got) != 0 {
		t.Errorf("expected no flags at sigma 3, got %v", got)
	}
}

// TestDetectSpikeLongSeries flags exactly the spike at the default-style clip
func TestDetectSpikeLongSeries(t *testing.T) {
	series := flat(20, 10)
	series[7] = 50

	flags, median := DetectSeries(series, 3)
	for f, bad := range flags {
		if bad != (f == 7) {
			t.Errorf("frame %d: flagged=%v", f, bad)
		}
	}
	if median[7] != 10 {
		t.Errorf("expected replacement value 10, got %v", median[7])
	}
}

// TestDetectNaNNeverFlagged covers the NaN exclusion rule
func TestDetectNaNNeverFlagged(t *testing.T) {
	series := []float64{10, 10, math.NaN(), 10, 10}
	for _, sigma := range []float64{0, 0.5, 3} {
		flags, _ := DetectSeries(series, sigma)
		for f, bad := range flags {
			if bad {
				t.Errorf("sigma %v: frame %d flagged", sigma, f)
			}
		}
	}

	// a NaN elsewhere in the series is excluded but the spike is still found
	long := flat(20, 10)
	long[3] = math.NaN()
	long[12] = 60
	flags, _ := DetectSeries(long, 3)
	if flags[3] {
		t.Error("NaN frame flagged")
	}
	if !flags[12] {
		t.Error("spike next to a NaN frame not flagged")
	}
}

// TestDetectZeroVariance never flags a series with flat residuals
func TestDetectZeroVariance(t *testing.T) {
	for _, series := range [][]float64{
		flat(6, 5),
		{2, 2},
		{math.NaN(), math.NaN(), math.NaN()},
		{7},
	} {
		flags, _ := DetectSeries(series, 0)
		for f, bad := range flags {
			if bad {
				t.Errorf("series %v: frame %d flagged", series, f)
			}
		}
	}
}

// TestDetectIdempotent runs the detector twice on the same series
func TestDetectIdempotent(t *testing.T) {
	series := []float64{3, 8, 2, 40, 5, math.NaN(), 4, 6, 3, 90, 2}
	cube := seriesCube(series)

	first := Detect(cube, 0, 0, 1.5)
	second := Detect(cube, 0, 0, 1.5)
	if diff := cmp.Diff(first, second, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("results differ between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(series, cube.Data, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("cube modified (-want +got):\n%s", diff)
	}
}
