// Package fitstest renders small FITS files for tests. Files are written
// card by card so fixtures do not depend on the encoder under test.
package fitstest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// HDU describes one image HDU. Data holds stored values, NAXIS1 fastest.
type HDU struct {
	Extname string
	Bitpix  int
	Axes    []int
	BZero   float64
	Cards   [][2]string
	Data    []float64
}

// Build renders hdus into a FITS byte stream; the first is the primary
func Build(hdus ...HDU) ([]byte, error) {
	var buf bytes.Buffer
	for i, h := range hdus {
		var cards []string
		if i == 0 {
			cards = append(cards, logical("SIMPLE", true))
		} else {
			cards = append(cards, str("XTENSION", "IMAGE"))
		}
		cards = append(cards, num("BITPIX", strconv.Itoa(h.Bitpix)), num("NAXIS", strconv.Itoa(len(h.Axes))))
		for a, n := range h.Axes {
			cards = append(cards, num(fmt.Sprintf("NAXIS%d", a+1), strconv.Itoa(n)))
		}
		if i == 0 {
			cards = append(cards, logical("EXTEND", true))
		} else {
			cards = append(cards, num("PCOUNT", "0"), num("GCOUNT", "1"))
		}
		if h.BZero != 0 {
			cards = append(cards, num("BZERO", strconv.FormatFloat(h.BZero, 'G', -1, 64)))
		}
		if h.Extname != "" {
			cards = append(cards, str("EXTNAME", h.Extname))
		}
		for _, kv := range h.Cards {
			cards = append(cards, str(kv[0], kv[1]))
		}
		cards = append(cards, "END")

		for _, c := range cards {
			buf.WriteString(c + strings.Repeat(" ", 80-len(c)))
		}
		pad(&buf, ' ')

		data, err := encode(h)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		pad(&buf, 0)
	}
	return buf.Bytes(), nil
}

// WriteFile builds hdus into dir/name and returns the path
func WriteFile(t testing.TB, dir, name string, hdus ...HDU) string {
	t.Helper()
	raw, err := Build(hdus...)
	if err != nil {
		t.Fatalf("failed to build %s: %v", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// Frame is a 2D float64 primary HDU
func Frame(rows, cols int, data []float64) HDU {
	return HDU{Bitpix: -64, Axes: []int{cols, rows}, Data: data}
}

// Stack is a 3D float64 HDU of integrations
func Stack(extname string, frames, rows, cols int, data []float64) HDU {
	return HDU{Extname: extname, Bitpix: -64, Axes: []int{cols, rows, frames}, Data: data}
}

func num(key, value string) string { return fmt.Sprintf("%-8s= %20s", key, value) }
func str(key, value string) string { return fmt.Sprintf("%-8s= '%-8s'", key, value) }
func logical(key string, v bool) string {
	if v {
		return num(key, "T")
	}
	return num(key, "F")
}

func pad(buf *bytes.Buffer, b byte) {
	for buf.Len()%2880 != 0 {
		buf.WriteByte(b)
	}
}

func encode(h HDU) ([]byte, error) {
	out := new(bytes.Buffer)
	for _, v := range h.Data {
		var err error
		switch h.Bitpix {
		case 8:
			err = out.WriteByte(uint8(v))
		case 16:
			err = binary.Write(out, binary.BigEndian, int16(v))
		case 32:
			err = binary.Write(out, binary.BigEndian, int32(v))
		case -32:
			err = binary.Write(out, binary.BigEndian, math.Float32bits(float32(v)))
		case -64:
			err = binary.Write(out, binary.BigEndian, math.Float64bits(v))
		default:
			return nil, fmt.Errorf("unsupported BITPIX %d", h.Bitpix)
		}
		if err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}
