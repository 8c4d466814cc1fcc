package cosmics

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"ccdreduce/internal/models"
)

// spikyCube is a flat cube with a spike at each of the given pixels
func spikyCube(frames, rows, cols int, spikes map[Pixel]int) *models.Cube {
	cube := models.NewCube(frames, rows, cols)
	for i := range cube.Data {
		cube.Data[i] = 100
	}
	for p, f := range spikes {
		cube.Set(f, p.Row, p.Col, 500)
	}
	return cube
}

// TestAggregatorRun builds the mask and median cube over the full grid
func TestAggregatorRun(t *testing.T) {
	spikes := map[Pixel]int{{0, 1}: 4, {2, 3}: 11, {1, 0}: 8}
	cube := spikyCube(16, 3, 4, spikes)

	var calls []int
	agg := (&Aggregator{Sigma: 3, Workers: 1, Progress: func(done, total int) {
		if total != 3 {
			t.Errorf("expected total 3, got %d", total)
		}
		calls = append(calls, done)
	}}).Run(cube)

	if diff := cmp.Diff([]int{1, 2, 3}, calls); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if got := agg.Mask.Total(); got != len(spikes) {
		t.Errorf("expected %d flagged pixels, got %d", len(spikes), got)
	}
	for p, f := range spikes {
		if !agg.Mask.At(f, p.Row, p.Col) {
			t.Errorf("spike at %v frame %d not flagged", p, f)
		}
		if got := agg.Median.At(f, p.Row, p.Col); got != 100 {
			t.Errorf("median at %v frame %d = %v, want 100", p, f, got)
		}
	}
}

// TestAggregatorWorkersAgree compares serial and parallel scans
func TestAggregatorWorkersAgree(t *testing.T) {
	cube := models.NewCube(12, 7, 5)
	for i := range cube.Data {
		// deterministic texture with occasional hits
		cube.Data[i] = float64((i*7919)%97) / 10
		if i%53 == 0 {
			cube.Data[i] += 80
		}
	}

	serial := (&Aggregator{Sigma: 2.5, Workers: 1}).Run(cube)
	for _, workers := range []int{2, 3, 7, 16} {
		parallel := (&Aggregator{Sigma: 2.5, Workers: workers}).Run(cube)
		if !serial.Mask.Equal(parallel.Mask) {
			t.Errorf("%d workers: mask differs from the serial scan", workers)
		}
		if diff := cmp.Diff(serial.Median.Data, parallel.Median.Data); diff != "" {
			t.Errorf("%d workers: median differs (-serial +parallel):\n%s", workers, diff)
		}
	}
}

// TestCollectorBounded keeps the first flagged pixels in row-major order
func TestCollectorBounded(t *testing.T) {
	spikes := map[Pixel]int{{2, 2}: 3, {0, 3}: 5, {1, 1}: 9, {0, 0}: 1}
	cube := spikyCube(16, 3, 4, spikes)

	collector := NewCollector(2)
	(&Aggregator{Sigma: 3, Workers: 3, Collector: collector}).Run(cube)

	var got []Pixel
	for _, r := range collector.Results() {
		got = append(got, r.Pixel)
	}
	if diff := cmp.Diff([]Pixel{{0, 0}, {0, 3}}, got); diff != "" {
		t.Errorf("collected pixels mismatch (-want +got):\n%s", diff)
	}

	var none *Collector
	none.Offer(PixelResult{Flags: []bool{true}})
	if none.Results() != nil {
		t.Error("nil collector should hold nothing")
	}
}

// TestDiagnose runs selected pixels and rejects coordinates off the frame
func TestDiagnose(t *testing.T) {
	cube := spikyCube(16, 3, 4, map[Pixel]int{{1, 2}: 6})
	a := &Aggregator{Sigma: 3}

	pixels, err := ParsePixels([]int{1, 0}, []int{2, 0})
	if err != nil {
		t.Fatalf("ParsePixels failed: %v", err)
	}
	results, err := a.Diagnose(cube, pixels)
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}
	if diff := cmp.Diff([]int{6}, results[0].Flagged()); diff != "" {
		t.Errorf("flagged mismatch (-want +got):\n%s", diff)
	}
	if len(results[1].Flagged()) != 0 {
		t.Errorf("quiet pixel flagged: %v", results[1].Flagged())
	}

	if _, err := a.Diagnose(cube, []Pixel{{3, 0}}); err == nil {
		t.Error("expected an error for a row outside the frame")
	}
	if _, err := ParsePixels([]int{1, 2}, []int{1}); err == nil {
		t.Error("expected an error for unpaired coordinates")
	}
}
