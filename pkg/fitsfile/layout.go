package fitsfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// BlockSize is the FITS logical record length
	BlockSize = 2880
	cardSize  = 80
)

// HDULayout locates one HDU inside a raw FITS file
type HDULayout struct {
	Index      int
	Name       string
	Bitpix     int
	Axes       []int
	BZero      float64
	BScale     float64
	HeaderAt   int
	DataOffset int
	// DataLen excludes the padding up to the next block
	DataLen int
}

// Layout lists the HDUs of a raw FITS file in order
type Layout struct {
	HDUs []HDULayout
}

// Find returns the HDU picked by sel
func (l *Layout) Find(sel Selector) (*HDULayout, error) {
	for i := range l.HDUs {
		if sel.matches(l.HDUs[i].Index, l.HDUs[i].Name) {
			return &l.HDUs[i], nil
		}
	}
	return nil, fmt.Errorf("no HDU named %s", sel)
}

// ScanLayout walks the header blocks of raw and records where each HDU's
// data begins. Only the keywords needed to size the data are interpreted.
func ScanLayout(raw []byte) (*Layout, error) {
	layout := &Layout{}
	offset := 0
	for offset < len(raw) {
		hdu, next, err := scanHDU(raw, offset, len(layout.HDUs))
		if err != nil {
			if len(layout.HDUs) > 0 && errors.Is(err, errNotHeader) {
				// trailing special records
				break
			}
			return nil, err
		}
		layout.HDUs = append(layout.HDUs, hdu)
		offset = next
	}
	if len(layout.HDUs) == 0 {
		return nil, errors.New("no HDU found")
	}
	return layout, nil
}

var errNotHeader = errors.New("block does not start a FITS header")

func scanHDU(raw []byte, start, index int) (HDULayout, int, error) {
	hdu := HDULayout{Index: index, HeaderAt: start, BScale: 1}
	keys := map[string]string{}

	offset := start
	ended := false
	first := true
	for !ended {
		if offset+BlockSize > len(raw) {
			return hdu, 0, fmt.Errorf("HDU %d: header truncated at byte %d", index, offset)
		}
		block := raw[offset : offset+BlockSize]
		offset += BlockSize

		for c := 0; c < BlockSize; c += cardSize {
			card := string(block[c : c+cardSize])
			key := strings.TrimSpace(card[:8])
			if first {
				if key != "SIMPLE" && key != "XTENSION" {
					return hdu, 0, errNotHeader
				}
				first = false
			}
			if key == "END" {
				ended = true
				break
			}
			if len(card) < 10 || card[8:10] != "= " {
				continue
			}
			if _, seen := keys[key]; !seen {
				keys[key] = cardValue(card[10:])
			}
		}
	}

	var err error
	if hdu.Bitpix, err = intKey(keys, "BITPIX", 0); err != nil {
		return hdu, 0, fmt.Errorf("HDU %d: %w", index, err)
	}
	naxis, err := intKey(keys, "NAXIS", 0)
	if err != nil {
		return hdu, 0, fmt.Errorf("HDU %d: %w", index, err)
	}
	hdu.Axes = make([]int, naxis)
	for i := range hdu.Axes {
		if hdu.Axes[i], err = intKey(keys, "NAXIS"+strconv.Itoa(i+1), 0); err != nil {
			return hdu, 0, fmt.Errorf("HDU %d: %w", index, err)
		}
	}
	pcount, err := intKey(keys, "PCOUNT", 0)
	if err != nil {
		return hdu, 0, fmt.Errorf("HDU %d: %w", index, err)
	}
	gcount, err := intKey(keys, "GCOUNT", 1)
	if err != nil {
		return hdu, 0, fmt.Errorf("HDU %d: %w", index, err)
	}
	if v, ok := keys["BZERO"]; ok {
		if hdu.BZero, err = strconv.ParseFloat(fortranFloat(v), 64); err != nil {
			return hdu, 0, fmt.Errorf("HDU %d: BZERO: %w", index, err)
		}
	}
	if v, ok := keys["BSCALE"]; ok {
		if hdu.BScale, err = strconv.ParseFloat(fortranFloat(v), 64); err != nil {
			return hdu, 0, fmt.Errorf("HDU %d: BSCALE: %w", index, err)
		}
	}
	hdu.Name = keys["EXTNAME"]

	if bytesPerPixel(hdu.Bitpix) == 0 {
		return hdu, 0, fmt.Errorf("HDU %d: unsupported BITPIX %d", index, hdu.Bitpix)
	}

	if naxis > 0 {
		n := 1
		for _, a := range hdu.Axes {
			n *= a
		}
		hdu.DataLen = bytesPerPixel(hdu.Bitpix) * gcount * (pcount + n)
	}
	hdu.DataOffset = offset

	next := offset + padded(hdu.DataLen)
	if offset+hdu.DataLen > len(raw) {
		return hdu, 0, fmt.Errorf("HDU %d: data truncated, need %d bytes after offset %d", index, hdu.DataLen, offset)
	}
	if next > len(raw) {
		next = len(raw)
	}
	return hdu, next, nil
}

// cardValue strips the comment and, for strings, the quotes
func cardValue(field string) string {
	field = strings.TrimLeft(field, " ")
	if strings.HasPrefix(field, "'") {
		var sb strings.Builder
		for i := 1; i < len(field); i++ {
			if field[i] == '\'' {
				if i+1 < len(field) && field[i+1] == '\'' {
					sb.WriteByte('\'')
					i++
					continue
				}
				break
			}
			sb.WriteByte(field[i])
		}
		return strings.TrimRight(sb.String(), " ")
	}
	if i := strings.IndexByte(field, '/'); i >= 0 {
		field = field[:i]
	}
	return strings.TrimSpace(field)
}

func intKey(keys map[string]string, key string, def int) (int, error) {
	v, ok := keys[key]
	if !ok {
		if def == 0 && (key == "BITPIX" || key == "NAXIS" || strings.HasPrefix(key, "NAXIS")) {
			return 0, fmt.Errorf("missing %s", key)
		}
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// fortranFloat accepts the D exponent some writers still emit
func fortranFloat(v string) string {
	return strings.NewReplacer("D", "E", "d", "e").Replace(v)
}

func bytesPerPixel(bitpix int) int {
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
		if bitpix < 0 {
			return -bitpix / 8
		}
		return bitpix / 8
	}
	return 0
}

func padded(n int) int {
	if rem := n % BlockSize; rem != 0 {
		return n + BlockSize - rem
	}
	return n
}

// Len is the number of data elements in the HDU
func (h *HDULayout) Len() int {
	if size := bytesPerPixel(h.Bitpix); size > 0 {
		return h.DataLen / size
	}
	return 0
}

// Pixel returns the physical value of element i of the HDU's data
func (h *HDULayout) Pixel(raw []byte, i int) (float64, error) {
	at, err := h.offsetOf(raw, i)
	if err != nil {
		return 0, err
	}
	var v float64
	b := raw[at:]
	switch h.Bitpix {
	case 8:
		v = float64(b[0])
	case 16:
		v = float64(int16(binary.BigEndian.Uint16(b)))
	case 32:
		v = float64(int32(binary.BigEndian.Uint32(b)))
	case 64:
		v = float64(int64(binary.BigEndian.Uint64(b)))
	case -32:
		v = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case -64:
		v = math.Float64frombits(binary.BigEndian.Uint64(b))
	}
	return h.BZero + h.BScale*v, nil
}

// PutPixel overwrites element i with the physical value v. Integer arrays
// are rounded and clamped to the range of the stored type.
func (h *HDULayout) PutPixel(raw []byte, i int, v float64) error {
	at, err := h.offsetOf(raw, i)
	if err != nil {
		return err
	}
	scale := h.BScale
	if scale == 0 {
		scale = 1
	}
	stored := (v - h.BZero) / scale
	if h.Bitpix > 0 && math.IsNaN(stored) {
		return fmt.Errorf("cannot store NaN in BITPIX %d data", h.Bitpix)
	}

	b := raw[at:]
	switch h.Bitpix {
	case 8:
		b[0] = uint8(clampRound(stored, 0, math.MaxUint8))
	case 16:
		binary.BigEndian.PutUint16(b, uint16(int16(clampRound(stored, math.MinInt16, math.MaxInt16))))
	case 32:
		binary.BigEndian.PutUint32(b, uint32(int32(clampRound(stored, math.MinInt32, math.MaxInt32))))
	case 64:
		binary.BigEndian.PutUint64(b, uint64(int64(clampRound(stored, math.MinInt64, math.MaxInt64))))
	case -32:
		binary.BigEndian.PutUint32(b, math.Float32bits(float32(stored)))
	case -64:
		binary.BigEndian.PutUint64(b, math.Float64bits(stored))
	}
	return nil
}

func (h *HDULayout) offsetOf(raw []byte, i int) (int, error) {
	size := bytesPerPixel(h.Bitpix)
	if i < 0 || (i+1)*size > h.DataLen {
		return 0, fmt.Errorf("pixel %d outside HDU %d data", i, h.Index)
	}
	at := h.DataOffset + i*size
	if at+size > len(raw) {
		return 0, fmt.Errorf("pixel %d beyond end of file", i)
	}
	return at, nil
}
