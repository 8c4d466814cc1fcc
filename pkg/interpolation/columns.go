// Package interpolation repairs bad detector columns by masking them and
// interpolating each row linearly across the masked pixels.
package interpolation

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/interp"
)

// ColumnRange marks rows [Start, Stop) of one column as bad
type ColumnRange struct {
	Col   int
	Start int
	Stop  int
}

// ParseColumnSpec reads "column rowstart rowstop" lines. Blank lines and
// lines starting with # are skipped.
func ParseColumnSpec(r io.Reader) ([]ColumnRange, error) {
	var specs []ColumnRange
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected column rowstart rowstop, got %q", line, text)
		}
		var values [3]int
		for i, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			values[i] = v
		}
		specs = append(specs, ColumnRange{Col: values[0], Start: values[1], Stop: values[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return specs, nil
}

// MaskColumns sets the listed ranges to NaN. Ranges are clipped to the
// frame; a column outside the frame is an error.
func MaskColumns(data []float64, rows, cols int, specs []ColumnRange) error {
	if len(data) != rows*cols {
		return fmt.Errorf("frame has %d pixels, expected %dx%d", len(data), rows, cols)
	}
	for _, s := range specs {
		if s.Col < 0 || s.Col >= cols {
			return fmt.Errorf("column %d outside 0..%d", s.Col, cols-1)
		}
		start, stop := max(s.Start, 0), min(s.Stop, rows)
		for r := start; r < stop; r++ {
			data[r*cols+s.Col] = math.NaN()
		}
	}
	return nil
}

// InterpolateRows replaces the NaN pixels of every row by linear
// interpolation between the row's finite pixels. Beyond the first or last
// finite pixel the nearest finite value is used. Rows without any finite
// pixel are left as they are.
func InterpolateRows(data []float64, rows, cols int) (int, error) {
	if len(data) != rows*cols {
		return 0, fmt.Errorf("frame has %d pixels, expected %dx%d", len(data), rows, cols)
	}

	filled := 0
	xs := make([]float64, 0, cols)
	ys := make([]float64, 0, cols)
	for r := 0; r < rows; r++ {
		row := data[r*cols : (r+1)*cols]

		xs, ys = xs[:0], ys[:0]
		for c, v := range row {
			if !math.IsNaN(v) {
				xs = append(xs, float64(c))
				ys = append(ys, v)
			}
		}
		if len(xs) == 0 || len(xs) == cols {
			continue
		}

		predict := func(float64) float64 { return ys[0] }
		if len(xs) > 1 {
			var pl interp.PiecewiseLinear
			if err := pl.Fit(xs, ys); err != nil {
				return filled, fmt.Errorf("row %d: %w", r, err)
			}
			predict = pl.Predict
		}

		for c, v := range row {
			if math.IsNaN(v) {
				row[c] = predict(float64(c))
				filled++
			}
		}
	}
	return filled, nil
}
