package models

// Mask is a boolean cube with the same layout as Cube. A true value marks
// a pixel of a frame that was hit by a cosmic ray or another transient.
type Mask struct {
	Data   []bool
	Frames int
	Rows   int
	Cols   int
}

// NewMask allocates an all-false mask
func NewMask(frames, rows, cols int) *Mask {
	return &Mask{
		Data:   make([]bool, frames*rows*cols),
		Frames: frames,
		Rows:   rows,
		Cols:   cols,
	}
}

func (m *Mask) FrameSize() int { return m.Rows * m.Cols }

func (m *Mask) Index(frame, row, col int) int {
	return frame*m.Rows*m.Cols + row*m.Cols + col
}

func (m *Mask) At(frame, row, col int) bool     { return m.Data[m.Index(frame, row, col)] }
func (m *Mask) Set(frame, row, col int, v bool) { m.Data[m.Index(frame, row, col)] = v }

// Frame returns a view of one frame of the mask
func (m *Mask) Frame(frame int) []bool {
	size := m.FrameSize()
	return m.Data[frame*size : (frame+1)*size]
}

// Count returns the number of flagged pixels in a frame
func (m *Mask) Count(frame int) int {
	n := 0
	for _, v := range m.Frame(frame) {
		if v {
			n++
		}
	}
	return n
}

// Counts returns the flagged-pixel count of every frame
func (m *Mask) Counts() []int {
	counts := make([]int, m.Frames)
	for f := range counts {
		counts[f] = m.Count(f)
	}
	return counts
}

// Total returns the number of flagged pixels in the whole cube
func (m *Mask) Total() int {
	n := 0
	for _, v := range m.Data {
		if v {
			n++
		}
	}
	return n
}

// ClearFrame resets every flag of one frame
func (m *Mask) ClearFrame(frame int) {
	f := m.Frame(frame)
	for i := range f {
		f[i] = false
	}
}

// Clone returns a deep copy
func (m *Mask) Clone() *Mask {
	c := &Mask{
		Data:   make([]bool, len(m.Data)),
		Frames: m.Frames,
		Rows:   m.Rows,
		Cols:   m.Cols,
	}
	copy(c.Data, m.Data)
	return c
}

// Equal reports element-wise equality including shape
func (m *Mask) Equal(o *Mask) bool {
	if o == nil || m.Frames != o.Frames || m.Rows != o.Rows || m.Cols != o.Cols {
		return false
	}
	for i := range m.Data {
		if m.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// SubsetOf reports whether every flag set in m is also set in o
func (m *Mask) SubsetOf(o *Mask) bool {
	if o == nil || len(m.Data) != len(o.Data) {
		return false
	}
	for i, v := range m.Data {
		if v && !o.Data[i] {
			return false
		}
	}
	return true
}
