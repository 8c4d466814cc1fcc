package models

import "math"

// Cube represents a stack of 2D exposures as a frame × row × column volume
type Cube struct {
	// Data is the cube as a 1D array, frame-major then row-major
	Data []float64

	// Frames is the number of exposures along the acquisition axis
	Frames int

	// Rows is the height of each frame in pixels
	Rows int

	// Cols is the width of each frame in pixels
	Cols int
}

// NewCube allocates a zero-filled cube
func NewCube(frames, rows, cols int) *Cube {
	return &Cube{
		Data:   make([]float64, frames*rows*cols),
		Frames: frames,
		Rows:   rows,
		Cols:   cols,
	}
}

// FrameSize is the number of pixels in one frame
func (c *Cube) FrameSize() int { return c.Rows * c.Cols }

// Index returns the flat offset of (frame, row, col)
func (c *Cube) Index(frame, row, col int) int {
	return frame*c.Rows*c.Cols + row*c.Cols + col
}

func (c *Cube) At(frame, row, col int) float64     { return c.Data[c.Index(frame, row, col)] }
func (c *Cube) Set(frame, row, col int, v float64) { c.Data[c.Index(frame, row, col)] = v }

// Frame returns a view of one frame; writes go through to the cube
func (c *Cube) Frame(frame int) []float64 {
	size := c.FrameSize()
	return c.Data[frame*size : (frame+1)*size]
}

// Series copies the time series of one pixel into dst, allocating if dst is too short
func (c *Cube) Series(row, col int, dst []float64) []float64 {
	if cap(dst) < c.Frames {
		dst = make([]float64, c.Frames)
	}
	dst = dst[:c.Frames]
	size := c.FrameSize()
	offset := row*c.Cols + col
	for f := 0; f < c.Frames; f++ {
		dst[f] = c.Data[f*size+offset]
	}
	return dst
}

// SetSeries writes a pixel time series back into the cube
func (c *Cube) SetSeries(row, col int, src []float64) {
	size := c.FrameSize()
	offset := row*c.Cols + col
	for f := 0; f < c.Frames && f < len(src); f++ {
		c.Data[f*size+offset] = src[f]
	}
}

// SameShape reports whether two cubes have identical dimensions
func (c *Cube) SameShape(frames, rows, cols int) bool {
	return c.Frames == frames && c.Rows == rows && c.Cols == cols
}

// CountNaN counts non-finite pixels, used for load-time diagnostics
func (c *Cube) CountNaN() int {
	n := 0
	for _, v := range c.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			n++
		}
	}
	return n
}
