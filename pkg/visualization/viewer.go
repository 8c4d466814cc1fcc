// Package visualization renders cosmic masks, pixel diagnostics and science
// frames as images, animations and HTML reports.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"

	"ccdreduce/internal/models"
)

// titleHeight is the band above each frame that holds its caption
const titleHeight = 24

// Viewer renders the frames of a cosmic mask
type Viewer struct {
	// mask holds the flags being displayed
	mask *models.Mask
}

// NewViewer creates a viewer over mask. The mask is read, never modified.
func NewViewer(mask *models.Mask) *Viewer {
	return &Viewer{mask: mask}
}

// ExtractFrame draws one frame of the mask, flagged pixels black on white
func (v *Viewer) ExtractFrame(frame int) (*image.Gray, error) {
	return frameImage(v.mask, frame)
}

func frameImage(mask *models.Mask, frame int) (*image.Gray, error) {
	if frame < 0 || frame >= mask.Frames {
		return nil, fmt.Errorf("frame %d outside 0..%d", frame, mask.Frames-1)
	}

	img := image.NewGray(image.Rect(0, 0, mask.Cols, mask.Rows))
	flags := mask.Frame(frame)
	for y := 0; y < mask.Rows; y++ {
		for x := 0; x < mask.Cols; x++ {
			c := color.Gray{Y: 255}
			if flags[y*mask.Cols+x] {
				c = color.Gray{Y: 0}
			}
			img.SetGray(x, y, c)
		}
	}
	return img, nil
}

// titled draws img below a caption band
func titled(img image.Image, title string) *gg.Context {
	b := img.Bounds()
	width := b.Dx()
	if width < 160 {
		width = 160
	}

	dc := gg.NewContext(width, b.Dy()+titleHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.DrawImage(img, (width-b.Dx())/2, titleHeight)
	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(title, float64(width)/2, titleHeight/2, 0.5, 0.5)
	return dc
}

// FrameImage returns the frame with its caption, as saved by SaveFrame
func (v *Viewer) FrameImage(frame int, title string) (image.Image, error) {
	img, err := v.ExtractFrame(frame)
	if err != nil {
		return nil, err
	}
	return titled(img, title).Image(), nil
}

// SaveFrame writes one captioned frame as a PNG
func (v *Viewer) SaveFrame(frame int, title, filename string) error {
	img, err := v.ExtractFrame(frame)
	if err != nil {
		return err
	}
	return titled(img, title).SavePNG(filename)
}

// SaveFrameSequence writes every frame to outputDir as
// <prefix>_<frame>.png and returns the paths in frame order
func (v *Viewer) SaveFrameSequence(outputDir, prefix string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, v.mask.Frames)
	for f := 0; f < v.mask.Frames; f++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%04d.png", prefix, f+1))
		title := fmt.Sprintf("Frame %d, %d flagged pixels", f+1, v.mask.Count(f))
		if err := v.SaveFrame(f, title, filename); err != nil {
			return nil, err
		}
		paths = append(paths, filename)
	}

	return paths, nil
}

// CompareFrame puts the frame as detected next to the frame in after, the
// view an operator gets before deciding whether to reset it
func (v *Viewer) CompareFrame(frame int, after *models.Mask) (image.Image, error) {
	before, err := v.ExtractFrame(frame)
	if err != nil {
		return nil, err
	}
	reset, err := frameImage(after, frame)
	if err != nil {
		return nil, err
	}

	left := titled(before, fmt.Sprintf("Frame %d: %d flagged", frame+1, v.mask.Count(frame))).Image()
	right := titled(reset, fmt.Sprintf("Frame %d: %d flagged", frame+1, after.Count(frame))).Image()

	lb, rb := left.Bounds(), right.Bounds()
	height := lb.Dy()
	if rb.Dy() > height {
		height = rb.Dy()
	}
	dc := gg.NewContext(lb.Dx()+rb.Dx()+8, height)
	dc.SetRGB(0.8, 0.8, 0.8)
	dc.Clear()
	dc.DrawImage(left, 0, 0)
	dc.DrawImage(right, lb.Dx()+8, 0)
	return dc.Image(), nil
}

// SaveComparison writes CompareFrame's image as a PNG
func (v *Viewer) SaveComparison(frame int, after *models.Mask, filename string) error {
	img, err := v.CompareFrame(frame, after)
	if err != nil {
		return err
	}
	return gg.SavePNG(filename, img)
}
