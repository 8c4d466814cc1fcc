// Package fitsfile reads and writes the FITS images used by the reduction
// tools. Decoding and encoding go through astrogo/fitsio; layout.go adds a
// block-level view of a file so that cleaned copies can be produced by
// patching pixel values without re-encoding any header.
package fitsfile

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)

// Image is one decoded image HDU. Data holds physical values
// (BZERO + BSCALE × stored value) in FITS order: NAXIS1 varies fastest.
type Image struct {
	// Name is the EXTNAME of the HDU, empty for the primary array
	Name string

	Bitpix int

	// Axes are NAXIS1..NAXISn as stored in the header (columns first)
	Axes []int

	BZero  float64
	BScale float64

	// Cards are the non-structural header cards, kept verbatim for copies
	Cards []fitsio.Card

	Data []float64
}

// New creates an image with no extra header cards
func New(bitpix int, axes []int, data []float64) *Image {
	return &Image{
		Bitpix: bitpix,
		Axes:   append([]int(nil), axes...),
		BScale: 1,
		Data:   data,
	}
}

// Dims interprets the axes as (frames, rows, cols). A 2D image is one frame.
func (im *Image) Dims() (frames, rows, cols int, err error) {
	switch len(im.Axes) {
	case 2:
		return 1, im.Axes[1], im.Axes[0], nil
	case 3:
		return im.Axes[2], im.Axes[1], im.Axes[0], nil
	default:
		return 0, 0, 0, fmt.Errorf("expected a 2D frame or a 3D stack, got NAXIS=%d", len(im.Axes))
	}
}

// Card returns the header card with the given keyword, or nil
func (im *Image) Card(name string) *fitsio.Card {
	for i := range im.Cards {
		if im.Cards[i].Name == name {
			return &im.Cards[i]
		}
	}
	return nil
}

// Selector picks an HDU: the primary array when Name is empty, otherwise
// the first HDU whose EXTNAME matches Name.
type Selector struct {
	Name string
}

// Primary selects HDU 0
var Primary = Selector{}

// Extension selects an HDU by EXTNAME
func Extension(name string) Selector { return Selector{Name: name} }

func (s Selector) String() string {
	if s.Name == "" {
		return "PRIMARY"
	}
	return s.Name
}

func (s Selector) matches(index int, extname string) bool {
	if s.Name == "" {
		return index == 0
	}
	return strings.EqualFold(strings.TrimSpace(extname), s.Name)
}

// structural keywords are regenerated by the encoder from Bitpix and Axes
func structural(name string) bool {
	switch name {
	case "SIMPLE", "XTENSION", "BITPIX", "NAXIS", "EXTEND", "PCOUNT", "GCOUNT", "END", "BZERO", "BSCALE":
		return true
	}
	if strings.HasPrefix(name, "NAXIS") {
		_, err := strconv.Atoi(name[len("NAXIS"):])
		return err == nil
	}
	return false
}

// ReadImage opens path, decodes the selected image HDU and closes the file
func ReadImage(path string, sel Selector) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Decode(f, sel)
}

// Decode reads the selected image HDU from a FITS stream
func Decode(r io.Reader, sel Selector) (*Image, error) {
	ff, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FITS: %w", err)
	}
	defer ff.Close()

	var hdu fitsio.HDU
	for i, h := range ff.HDUs() {
		if sel.matches(i, h.Name()) {
			hdu = h
			break
		}
	}
	if hdu == nil {
		return nil, fmt.Errorf("no HDU named %s", sel)
	}

	img, ok := hdu.(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("HDU %s is not an image", sel)
	}

	im, err := decodeImage(img)
	if err != nil {
		return nil, fmt.Errorf("failed to read HDU %s pixels: %w", sel, err)
	}
	if sel.Name != "" {
		im.Name = sel.Name
	}
	return im, nil
}

// ReadImages opens path and decodes every image HDU that carries data, in
// file order. An empty primary array is skipped.
func ReadImages(path string) ([]*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ff, err := fitsio.Open(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FITS: %w", err)
	}
	defer ff.Close()

	var images []*Image
	for i, h := range ff.HDUs() {
		img, ok := h.(fitsio.Image)
		if !ok {
			continue
		}
		im, err := decodeImage(img)
		if err != nil {
			return nil, fmt.Errorf("failed to read HDU %d pixels: %w", i, err)
		}
		if len(im.Data) == 0 {
			continue
		}
		im.Name = h.Name()
		images = append(images, im)
	}
	return images, nil
}

func decodeImage(img fitsio.Image) (*Image, error) {
	hdr := img.Header()
	im := &Image{
		Bitpix: hdr.Bitpix(),
		Axes:   append([]int(nil), hdr.Axes()...),
		BZero:  cardFloat(hdr.Get("BZERO"), 0),
		BScale: cardFloat(hdr.Get("BSCALE"), 1),
	}

	for i := range hdr.Keys() {
		card := hdr.Card(i)
		if card == nil || structural(card.Name) {
			continue
		}
		im.Cards = append(im.Cards, *card)
	}

	n := 0
	if len(im.Axes) > 0 {
		n = 1
		for _, a := range im.Axes {
			n *= a
		}
	}
	if n == 0 {
		return im, nil
	}

	raw, err := readPixels(img, im.Bitpix, n)
	if err != nil {
		return nil, err
	}
	for i, v := range raw {
		raw[i] = im.BZero + im.BScale*v
	}
	im.Data = raw

	return im, nil
}

// readPixels reads with the element type that matches BITPIX, as fitsio
// does not convert between element sizes
func readPixels(img fitsio.Image, bitpix, n int) ([]float64, error) {
	out := make([]float64, n)
	switch bitpix {
	case 8:
		raw := make([]uint8, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case 16:
		raw := make([]int16, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case 32:
		raw := make([]int32, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case 64:
		raw := make([]int64, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case -32:
		raw := make([]float32, n)
		if err := img.Read(&raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case -64:
		if err := img.Read(&out); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}
	return out, nil
}

func cardFloat(card *fitsio.Card, def float64) float64 {
	if card == nil {
		return def
	}
	switch v := card.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// WriteImage writes im as the primary HDU of a new file at path. The file is
// written to a temporary name first and renamed into place.
func WriteImage(path string, im *Image) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		return Encode(w, im)
	})
}

// Encode writes im as a single-HDU FITS stream
func Encode(w io.Writer, im *Image) error {
	ff, err := fitsio.Create(w)
	if err != nil {
		return err
	}

	hdu := fitsio.NewImage(im.Bitpix, im.Axes)
	defer hdu.Close()

	if err := hdu.Header().Append(im.headerCards()...); err != nil {
		ff.Close()
		return fmt.Errorf("failed to build header: %w", err)
	}

	values, err := im.storedValues()
	if err != nil {
		ff.Close()
		return err
	}
	if err := hdu.Write(values); err != nil {
		ff.Close()
		return fmt.Errorf("failed to encode pixels: %w", err)
	}
	if err := ff.Write(hdu); err != nil {
		ff.Close()
		return fmt.Errorf("failed to write HDU: %w", err)
	}
	return ff.Close()
}

func (im *Image) headerCards() []fitsio.Card {
	cards := make([]fitsio.Card, 0, len(im.Cards)+3)
	if im.BZero != 0 {
		cards = append(cards, fitsio.Card{Name: "BZERO", Value: im.BZero})
	}
	if im.BScale != 0 && im.BScale != 1 {
		cards = append(cards, fitsio.Card{Name: "BSCALE", Value: im.BScale})
	}
	for _, c := range im.Cards {
		if !structural(c.Name) {
			cards = append(cards, c)
		}
	}
	return cards
}

// storedValues converts physical values back to the BITPIX element type
func (im *Image) storedValues() (interface{}, error) {
	scale := im.BScale
	if scale == 0 {
		scale = 1
	}
	stored := func(v float64) float64 { return (v - im.BZero) / scale }

	switch im.Bitpix {
	case 8:
		out := make([]uint8, len(im.Data))
		for i, v := range im.Data {
			out[i] = uint8(clampRound(stored(v), 0, math.MaxUint8))
		}
		return out, nil
	case 16:
		out := make([]int16, len(im.Data))
		for i, v := range im.Data {
			out[i] = int16(clampRound(stored(v), math.MinInt16, math.MaxInt16))
		}
		return out, nil
	case 32:
		out := make([]int32, len(im.Data))
		for i, v := range im.Data {
			out[i] = int32(clampRound(stored(v), math.MinInt32, math.MaxInt32))
		}
		return out, nil
	case 64:
		out := make([]int64, len(im.Data))
		for i, v := range im.Data {
			out[i] = int64(clampRound(stored(v), math.MinInt64, math.MaxInt64))
		}
		return out, nil
	case -32:
		out := make([]float32, len(im.Data))
		for i, v := range im.Data {
			out[i] = float32(stored(v))
		}
		return out, nil
	case -64:
		out := make([]float64, len(im.Data))
		for i, v := range im.Data {
			out[i] = stored(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported BITPIX %d", im.Bitpix)
}

// clampRound maps NaN to zero since integer arrays cannot hold it
func clampRound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
