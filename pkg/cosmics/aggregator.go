package cosmics

import (
	"fmt"
	"runtime"
	"sync"

	"ccdreduce/internal/models"
)

// Aggregation is the output of a full scan of the pixel grid
type Aggregation struct {
	// Mask marks the pixels flagged in each frame
	Mask *models.Mask

	// Median holds the running median of every pixel series, the value a
	// flagged pixel is replaced with
	Median *models.Cube
}

// Aggregator runs the detector over every pixel of a cube
type Aggregator struct {
	// Sigma is the clip threshold in units of the residual standard deviation
	Sigma float64

	// Workers is the number of goroutines scanning rows; 0 uses every CPU
	Workers int

	// Collector optionally keeps flagged pixel results for plotting
	Collector *Collector

	// Progress is called once per completed row; calls are serialized
	Progress func(done, total int)
}

// Run scans the grid and returns the mask and median cube. Rows are split
// into contiguous blocks, one per worker; every pixel writes only its own
// locations, so the result does not depend on the number of workers.
func (a *Aggregator) Run(cube *models.Cube) *Aggregation {
	agg := &Aggregation{
		Mask:   models.NewMask(cube.Frames, cube.Rows, cube.Cols),
		Median: models.NewCube(cube.Frames, cube.Rows, cube.Cols),
	}
	if cube.Rows == 0 || cube.Cols == 0 || cube.Frames == 0 {
		return agg
	}

	numCores := a.Workers
	if numCores <= 0 {
		numCores = runtime.NumCPU()
	}
	if numCores > cube.Rows {
		numCores = cube.Rows
	}

	// Divide the rows among the workers
	rowsPerCore := (cube.Rows + numCores - 1) / numCores

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for c := 0; c < numCores; c++ {
		wg.Add(1)

		go func(coreID int) {
			defer wg.Done()

			startRow := coreID * rowsPerCore
			endRow := (coreID + 1) * rowsPerCore
			if endRow > cube.Rows {
				endRow = cube.Rows
			}

			var d detector
			for row := startRow; row < endRow; row++ {
				for col := 0; col < cube.Cols; col++ {
					d.load(cube, row, col)
					d.run(a.Sigma)
					a.store(agg, &d, row, col)
				}

				if a.Progress != nil {
					mu.Lock()
					done++
					a.Progress(done, cube.Rows)
					mu.Unlock()
				}
			}
		}(c)
	}

	// Wait for all workers before exposing anything
	wg.Wait()

	return agg
}

func (a *Aggregator) store(agg *Aggregation, d *detector, row, col int) {
	size := agg.Mask.FrameSize()
	offset := row*agg.Mask.Cols + col
	for f, bad := range d.flags {
		agg.Mask.Data[f*size+offset] = bad
	}
	agg.Median.SetSeries(row, col, d.median)

	if d.any() && a.Collector.wants(Pixel{Row: row, Col: col}) {
		a.Collector.Offer(d.result(row, col))
	}
}

// Diagnose runs the detector on selected pixels only. It is used to tune the
// clip threshold and produces no mask.
func (a *Aggregator) Diagnose(cube *models.Cube, pixels []Pixel) ([]PixelResult, error) {
	results := make([]PixelResult, 0, len(pixels))
	for _, p := range pixels {
		if p.Row < 0 || p.Row >= cube.Rows || p.Col < 0 || p.Col >= cube.Cols {
			return nil, fmt.Errorf("pixel (%d, %d) outside the %dx%d frame", p.Row, p.Col, cube.Rows, cube.Cols)
		}
		results = append(results, Detect(cube, p.Row, p.Col, a.Sigma))
	}
	return results, nil
}

// ParsePixels pairs up comma-separated row and column lists
func ParsePixels(rows, cols []int) ([]Pixel, error) {
	if len(rows) != len(cols) {
		return nil, fmt.Errorf("got %d rows but %d columns", len(rows), len(cols))
	}
	pixels := make([]Pixel, len(rows))
	for i := range rows {
		pixels[i] = Pixel{Row: rows[i], Col: cols[i]}
	}
	return pixels, nil
}
