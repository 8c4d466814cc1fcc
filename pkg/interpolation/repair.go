package interpolation

import (
	"fmt"

	"ccdreduce/pkg/fitsfile"
)

// RepairFile masks the bad columns of the primary frame of in, interpolates
// across them and writes the result to out as 64-bit floats. Header cards
// other than the structural ones are carried over.
func RepairFile(in, out string, specs []ColumnRange) (int, error) {
	im, err := fitsfile.ReadImage(in, fitsfile.Primary)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", in, err)
	}
	frames, rows, cols, err := im.Dims()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", in, err)
	}
	if frames != 1 {
		return 0, fmt.Errorf("%s: expected a single frame, got %d", in, frames)
	}

	if err := MaskColumns(im.Data, rows, cols, specs); err != nil {
		return 0, fmt.Errorf("%s: %w", in, err)
	}
	filled, err := InterpolateRows(im.Data, rows, cols)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", in, err)
	}

	repaired := fitsfile.New(-64, im.Axes, im.Data)
	repaired.Cards = im.Cards
	if err := fitsfile.WriteImage(out, repaired); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", out, err)
	}
	return filled, nil
}
