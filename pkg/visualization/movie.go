package visualization

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/draw"

	"ccdreduce/pkg/fitsfile"
)

// MaxMovieSide bounds the longer side of movie frames in pixels
const MaxMovieSide = 800

// EncodeMovie writes frames as a looping animated GIF, delay in hundredths
// of a second. Frames are scaled to the size of the first, capped at
// MaxMovieSide.
func EncodeMovie(w io.Writer, frames []image.Image, delay int) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to animate")
	}

	bounds := movieBounds(frames[0].Bounds())
	anim := &gif.GIF{LoopCount: 0}
	for _, frame := range frames {
		dst := image.NewPaletted(bounds, palette.Plan9)
		if frame.Bounds().Size() == bounds.Size() {
			draw.Draw(dst, bounds, frame, frame.Bounds().Min, draw.Src)
		} else {
			draw.ApproxBiLinear.Scale(dst, bounds, frame, frame.Bounds(), draw.Src, nil)
		}
		anim.Image = append(anim.Image, dst)
		anim.Delay = append(anim.Delay, delay)
	}
	return gif.EncodeAll(w, anim)
}

// SaveMovie writes frames to path as an animated GIF
func SaveMovie(frames []image.Image, path string, delay int) error {
	return fitsfile.WriteFileAtomic(path, func(w io.Writer) error {
		return EncodeMovie(w, frames, delay)
	})
}

// SaveMovieFromFiles animates PNG files written earlier, in order
func SaveMovieFromFiles(paths []string, out string, delay int) error {
	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := loadPNG(p)
		if err != nil {
			return err
		}
		frames = append(frames, img)
	}
	return SaveMovie(frames, out, delay)
}

func movieBounds(b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	longer := w
	if h > longer {
		longer = h
	}
	if longer > MaxMovieSide {
		w = w * MaxMovieSide / longer
		h = h * MaxMovieSide / longer
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return image.Rect(0, 0, w, h)
}

func loadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}
