// Package maskfile persists cosmic masks and reads static bad-pixel maps.
package maskfile

import (
	"fmt"
	"math"

	"github.com/astrogo/fitsio"

	"ccdreduce/internal/models"
	"ccdreduce/pkg/fitsfile"
)

// Filename encodes the clip threshold in the mask name, e.g. a clip of 4.5
// gives cosmic_pixel_mask_45sigma_clip.fits
func Filename(sigma float64) string {
	return fmt.Sprintf("cosmic_pixel_mask_%dsigma_clip.fits", int(math.Round(sigma*10)))
}

// Write stores mask as an unsigned 8-bit frame × row × column image with
// 1 marking a flagged pixel. The file appears only once fully written.
func Write(path string, mask *models.Mask, sigma float64) error {
	data := make([]float64, len(mask.Data))
	for i, bad := range mask.Data {
		if bad {
			data[i] = 1
		}
	}

	im := fitsfile.New(8, []int{mask.Cols, mask.Rows, mask.Frames}, data)
	im.Cards = []fitsio.Card{
		{Name: "PIXCLIP", Value: sigma, Comment: "clip threshold in residual standard deviations"},
		{Name: "NFLAGGED", Value: mask.Total(), Comment: "flagged pixels in all frames"},
	}
	if err := fitsfile.WriteImage(path, im); err != nil {
		return fmt.Errorf("failed to write mask %s: %w", path, err)
	}
	return nil
}

// Read loads a mask written by Write
func Read(path string) (*models.Mask, error) {
	im, err := fitsfile.ReadImage(path, fitsfile.Primary)
	if err != nil {
		return nil, fmt.Errorf("failed to read mask %s: %w", path, err)
	}
	frames, rows, cols, err := im.Dims()
	if err != nil {
		return nil, fmt.Errorf("mask %s: %w", path, err)
	}

	mask := models.NewMask(frames, rows, cols)
	for i, v := range im.Data {
		mask.Data[i] = v != 0
	}
	return mask, nil
}

// ReadPixelMask loads a 2D bad-pixel map; any nonzero pixel is bad
func ReadPixelMask(path string) (rows, cols int, bad []bool, err error) {
	im, err := fitsfile.ReadImage(path, fitsfile.Primary)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read bad pixel mask %s: %w", path, err)
	}
	frames, rows, cols, err := im.Dims()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("bad pixel mask %s: %w", path, err)
	}
	if frames != 1 {
		return 0, 0, nil, fmt.Errorf("bad pixel mask %s has %d planes, expected one", path, frames)
	}

	bad = make([]bool, len(im.Data))
	for i, v := range im.Data {
		bad[i] = v != 0 && !math.IsNaN(v)
	}
	return rows, cols, bad, nil
}
