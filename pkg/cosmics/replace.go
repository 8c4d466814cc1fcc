package cosmics

import (
	"fmt"
	"os"
	"path/filepath"

	"ccdreduce/internal/models"
	"ccdreduce/internal/monitoring"
	"ccdreduce/pkg/fitsfile"
)

// ReplaceFrame returns a copy of frame with every masked pixel taken from
// median. The input frame is not modified.
func ReplaceFrame(frame []float64, mask []bool, median []float64) []float64 {
	out := append([]float64(nil), frame...)
	for i, bad := range mask {
		if bad {
			out[i] = median[i]
		}
	}
	return out
}

// Replacer writes cleaned copies of the science files
type Replacer struct {
	// OutputDir receives one file per source, under the source's base name
	OutputDir string

	// HDU holds the frames in every source file
	HDU fitsfile.Selector

	// Offset is added back to every replacement value, typically the bias
	// frame subtracted at load time. Nil means no offset.
	Offset []float64
}

// Replace copies every source file listed in index into OutputDir with the
// flagged pixels set to their running median. Single frames and stacks of
// integrations go through the same path: the index says which frames of
// the cube belong to which file. Sources are only read.
func (r *Replacer) Replace(mask *models.Mask, median *models.Cube, index *models.FrameIndex) ([]string, error) {
	if mask.Frames != index.Total() || !median.SameShape(mask.Frames, mask.Rows, mask.Cols) {
		return nil, fmt.Errorf("mask, median cube and frame index disagree on the number of frames")
	}
	if r.Offset != nil && len(r.Offset) != mask.FrameSize() {
		return nil, fmt.Errorf("offset has %d pixels, frames have %d", len(r.Offset), mask.FrameSize())
	}
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", r.OutputDir, err)
	}

	written := make([]string, 0, index.Len())
	for i, src := range index.Files {
		out := filepath.Join(r.OutputDir, filepath.Base(src))
		if abs(out) == abs(src) {
			return written, fmt.Errorf("refusing to overwrite %s", src)
		}

		replaced, err := r.replaceFile(src, out, i, mask, median, index)
		if err != nil {
			return written, err
		}
		monitoring.Logf("Saving %s (%d pixels replaced)", out, replaced)
		written = append(written, out)
	}
	return written, nil
}

func (r *Replacer) replaceFile(src, out string, file int, mask *models.Mask, median *models.Cube, index *models.FrameIndex) (int, error) {
	raw, err := os.ReadFile(src)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", src, err)
	}
	layout, err := fitsfile.ScanLayout(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", src, err)
	}
	hdu, err := layout.Find(r.HDU)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", src, err)
	}

	start, end := index.Range(file)
	size := mask.FrameSize()
	if hdu.Len() != (end-start)*size {
		return 0, fmt.Errorf("%s: HDU %s holds %d pixels, expected %d frames of %d", src, r.HDU, hdu.Len(), end-start, size)
	}

	replaced := 0
	for g := start; g < end; g++ {
		local := g - start
		flags := mask.Frame(g)
		values := median.Frame(g)
		for p, bad := range flags {
			if !bad {
				continue
			}
			v := values[p]
			if r.Offset != nil {
				v += r.Offset[p]
			}
			if err := hdu.PutPixel(raw, local*size+p, v); err != nil {
				return 0, fmt.Errorf("%s frame %d: %w", src, local, err)
			}
			replaced++
		}
	}

	if err := fitsfile.WriteBytesAtomic(out, raw); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", out, err)
	}
	return replaced, nil
}

func abs(path string) string {
	p, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return p
}
