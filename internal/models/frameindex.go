package models

import (
	"fmt"
	"sort"
)

// FrameIndex maps a global frame number onto the source file it was read
// from and the integration slot inside that file. Files holding a single
// 2D exposure contribute one frame; multi-integration files contribute one
// frame per integration.
type FrameIndex struct {
	// Files are the source paths in acquisition order
	Files []string

	// cumulative[i] is the number of frames in Files[0..i]
	cumulative []int
}

// NewFrameIndex builds the index from per-file integration counts
func NewFrameIndex(files []string, counts []int) (*FrameIndex, error) {
	if len(files) != len(counts) {
		return nil, fmt.Errorf("frame index: %d files but %d counts", len(files), len(counts))
	}
	cumulative := make([]int, len(counts))
	total := 0
	for i, n := range counts {
		if n < 1 {
			return nil, fmt.Errorf("frame index: %s contributes %d frames", files[i], n)
		}
		total += n
		cumulative[i] = total
	}
	names := make([]string, len(files))
	copy(names, files)
	return &FrameIndex{Files: names, cumulative: cumulative}, nil
}

// Total is the number of frames across all files
func (fi *FrameIndex) Total() int {
	if len(fi.cumulative) == 0 {
		return 0
	}
	return fi.cumulative[len(fi.cumulative)-1]
}

// Len is the number of source files
func (fi *FrameIndex) Len() int { return len(fi.Files) }

// Locate returns the file number and local integration index of a global frame
func (fi *FrameIndex) Locate(frame int) (file, local int, err error) {
	if frame < 0 || frame >= fi.Total() {
		return 0, 0, fmt.Errorf("frame %d out of range [0,%d)", frame, fi.Total())
	}
	file = sort.Search(len(fi.cumulative), func(i int) bool { return fi.cumulative[i] > frame })
	start, _ := fi.Range(file)
	return file, frame - start, nil
}

// Range returns the half-open global frame interval belonging to a file
func (fi *FrameIndex) Range(file int) (start, end int) {
	if file > 0 {
		start = fi.cumulative[file-1]
	}
	return start, fi.cumulative[file]
}
