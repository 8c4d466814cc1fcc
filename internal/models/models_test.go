package models

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestCubeSeriesRoundTrip checks that a pixel series is read and written along the frame axis
func TestCubeSeriesRoundTrip(t *testing.T) {
	c := NewCube(4, 2, 3)
	for i := range c.Data {
		c.Data[i] = float64(i)
	}

	got := c.Series(1, 2, nil)
	want := []float64{5, 11, 17, 23}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Series mismatch (-want +got):\n%s", diff)
	}

	c.SetSeries(1, 2, []float64{-1, -2, -3, -4})
	if c.At(2, 1, 2) != -3 {
		t.Errorf("Expected -3 at (2,1,2), got %f", c.At(2, 1, 2))
	}
	if c.At(2, 1, 1) != 16 {
		t.Errorf("Neighbouring pixel changed: got %f", c.At(2, 1, 1))
	}
}

func TestCubeFrameIsView(t *testing.T) {
	c := NewCube(2, 2, 2)
	c.Frame(1)[3] = math.NaN()
	if !math.IsNaN(c.At(1, 1, 1)) {
		t.Fatal("Frame should share storage with the cube")
	}
	if c.CountNaN() != 1 {
		t.Errorf("Expected 1 NaN, got %d", c.CountNaN())
	}
}

func TestMaskCountsAndClear(t *testing.T) {
	m := NewMask(3, 2, 2)
	m.Set(0, 0, 0, true)
	m.Set(1, 0, 1, true)
	m.Set(1, 1, 1, true)

	if diff := cmp.Diff([]int{1, 2, 0}, m.Counts()); diff != "" {
		t.Fatalf("Counts mismatch (-want +got):\n%s", diff)
	}

	before := m.Clone()
	m.ClearFrame(1)
	if m.Count(1) != 0 || m.Count(0) != 1 {
		t.Errorf("ClearFrame touched the wrong frame: counts=%v", m.Counts())
	}
	if !m.SubsetOf(before) {
		t.Error("Cleared mask should be a subset of the original")
	}
	if before.SubsetOf(m) {
		t.Error("Original mask should not be a subset of the cleared one")
	}
	if m.Equal(before) {
		t.Error("Masks should differ after clearing")
	}
	if !before.Equal(before.Clone()) {
		t.Error("Clone should be equal to its source")
	}
}

func TestFrameIndex(t *testing.T) {
	files := []string{"a.fits", "b.fits", "c.fits"}
	fi, err := NewFrameIndex(files, []int{3, 1, 2})
	if err != nil {
		t.Fatalf("NewFrameIndex failed: %v", err)
	}
	if fi.Total() != 6 {
		t.Fatalf("Expected 6 frames, got %d", fi.Total())
	}

	tests := []struct {
		frame, file, local int
	}{
		{0, 0, 0},
		{2, 0, 2},
		{3, 1, 0},
		{4, 2, 0},
		{5, 2, 1},
	}
	for _, tt := range tests {
		file, local, err := fi.Locate(tt.frame)
		if err != nil {
			t.Fatalf("Locate(%d) failed: %v", tt.frame, err)
		}
		if file != tt.file || local != tt.local {
			t.Errorf("Locate(%d) = (%d,%d), want (%d,%d)", tt.frame, file, local, tt.file, tt.local)
		}
	}

	if _, _, err := fi.Locate(6); err == nil {
		t.Error("Expected out-of-range error")
	}

	start, end := fi.Range(2)
	if start != 4 || end != 6 {
		t.Errorf("Range(2) = [%d,%d), want [4,6)", start, end)
	}
}

func TestFrameIndexRejectsEmptyFile(t *testing.T) {
	if _, err := NewFrameIndex([]string{"a"}, []int{0}); err == nil {
		t.Fatal("Expected error for a file with no frames")
	}
	if _, err := NewFrameIndex([]string{"a", "b"}, []int{1}); err == nil {
		t.Fatal("Expected error for mismatched lengths")
	}
}
