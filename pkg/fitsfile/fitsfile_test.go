package fitsfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/google/go-cmp/cmp"
)

// rawHDU renders one HDU by hand so that the scanner is tested
// independently of the encoder
func rawHDU(t *testing.T, cards []string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, c := range append(cards, "END") {
		if len(c) > cardSize {
			t.Fatalf("card too long: %q", c)
		}
		buf.WriteString(c + strings.Repeat(" ", cardSize-len(c)))
	}
	for buf.Len()%BlockSize != 0 {
		buf.WriteByte(' ')
	}
	buf.Write(data)
	for buf.Len()%BlockSize != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func kv(key string, value interface{}) string {
	switch v := value.(type) {
	case bool:
		logical := "F"
		if v {
			logical = "T"
		}
		return fmt.Sprintf("%-8s= %20s", key, logical)
	case string:
		return fmt.Sprintf("%-8s= '%-8s'", key, v)
	default:
		return fmt.Sprintf("%-8s= %20v", key, v)
	}
}

func int16Data(values ...int16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// TestScanLayout checks HDU offsets, names and scaling keywords
func TestScanLayout(t *testing.T) {
	primary := rawHDU(t, []string{
		kv("SIMPLE", true), kv("BITPIX", 16), kv("NAXIS", 0), kv("EXTEND", true),
	}, nil)
	sci := rawHDU(t, []string{
		kv("XTENSION", "IMAGE"), kv("BITPIX", 16), kv("NAXIS", 3),
		kv("NAXIS1", 2), kv("NAXIS2", 2), kv("NAXIS3", 2),
		kv("PCOUNT", 0), kv("GCOUNT", 1),
		kv("BZERO", 32768), kv("BSCALE", 1),
		kv("EXTNAME", "SCI") + " / science data",
	}, int16Data(0, 1, 2, 3, 4, 5, 6, 7))
	raw := append(append([]byte{}, primary...), sci...)

	layout, err := ScanLayout(raw)
	if err != nil {
		t.Fatalf("ScanLayout failed: %v", err)
	}
	if len(layout.HDUs) != 2 {
		t.Fatalf("expected 2 HDUs, got %d", len(layout.HDUs))
	}

	p := layout.HDUs[0]
	if p.DataLen != 0 || p.DataOffset != BlockSize {
		t.Errorf("primary: got DataLen=%d DataOffset=%d", p.DataLen, p.DataOffset)
	}

	h, err := layout.Find(Extension("sci"))
	if err != nil {
		t.Fatalf("Find(sci) failed: %v", err)
	}
	if h.Index != 1 || h.Name != "SCI" {
		t.Errorf("got index %d name %q", h.Index, h.Name)
	}
	if diff := cmp.Diff([]int{2, 2, 2}, h.Axes); diff != "" {
		t.Errorf("axes mismatch (-want +got):\n%s", diff)
	}
	if h.DataOffset != 2*BlockSize || h.DataLen != 16 {
		t.Errorf("got DataOffset=%d DataLen=%d", h.DataOffset, h.DataLen)
	}
	if h.BZero != 32768 {
		t.Errorf("expected BZERO 32768, got %v", h.BZero)
	}

	if _, err := layout.Find(Extension("ERR")); err == nil {
		t.Error("expected an error for a missing extension")
	}
}

// TestPutPixel patches stored values in place and reads them back
func TestPutPixel(t *testing.T) {
	raw := rawHDU(t, []string{
		kv("SIMPLE", true), kv("BITPIX", 16), kv("NAXIS", 2),
		kv("NAXIS1", 3), kv("NAXIS2", 1), kv("BZERO", 100),
	}, int16Data(1, 2, 3))
	original := append([]byte(nil), raw...)

	layout, err := ScanLayout(raw)
	if err != nil {
		t.Fatalf("ScanLayout failed: %v", err)
	}
	h := &layout.HDUs[0]

	if v, err := h.Pixel(raw, 1); err != nil || v != 102 {
		t.Fatalf("Pixel(1) = %v, %v; want 102", v, err)
	}

	if err := h.PutPixel(raw, 1, 150.4); err != nil {
		t.Fatalf("PutPixel failed: %v", err)
	}
	if v, _ := h.Pixel(raw, 1); v != 150 {
		t.Errorf("expected rounded 150, got %v", v)
	}

	if err := h.PutPixel(raw, 2, 1e9); err != nil {
		t.Fatalf("PutPixel failed: %v", err)
	}
	if v, _ := h.Pixel(raw, 2); v != 100+math.MaxInt16 {
		t.Errorf("expected clamped value, got %v", v)
	}

	if err := h.PutPixel(raw, 0, math.NaN()); err == nil {
		t.Error("expected an error storing NaN in integer data")
	}
	if err := h.PutPixel(raw, 3, 1); err == nil {
		t.Error("expected an error for an out-of-range pixel")
	}

	// only the two patched pixels may differ
	diffs := 0
	for i := range raw {
		if raw[i] != original[i] {
			diffs++
		}
	}
	if diffs > 4 {
		t.Errorf("expected at most 4 changed bytes, got %d", diffs)
	}
}

// TestPutPixelFloat checks the IEEE paths
func TestPutPixelFloat(t *testing.T) {
	data := make([]byte, 8)
	raw := rawHDU(t, []string{
		kv("SIMPLE", true), kv("BITPIX", -32), kv("NAXIS", 1), kv("NAXIS1", 2),
	}, data)
	layout, err := ScanLayout(raw)
	if err != nil {
		t.Fatalf("ScanLayout failed: %v", err)
	}
	h := &layout.HDUs[0]
	if err := h.PutPixel(raw, 1, 2.5); err != nil {
		t.Fatalf("PutPixel failed: %v", err)
	}
	if v, _ := h.Pixel(raw, 1); v != 2.5 {
		t.Errorf("expected 2.5, got %v", v)
	}
}

// TestScanLayoutTruncated rejects files whose data is cut short
func TestScanLayoutTruncated(t *testing.T) {
	raw := rawHDU(t, []string{
		kv("SIMPLE", true), kv("BITPIX", 16), kv("NAXIS", 2),
		kv("NAXIS1", 3000), kv("NAXIS2", 1),
	}, nil)
	if _, err := ScanLayout(raw); err == nil {
		t.Error("expected a truncation error")
	}
	if _, err := ScanLayout([]byte("not a fits file")); err == nil {
		t.Error("expected an error for garbage input")
	}
}

// TestWriteReadImage round-trips a cube through fitsio
func TestWriteReadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cube.fits")

	data := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	im := New(-64, []int{3, 2, 2}, data)
	im.Cards = []fitsio.Card{
		{Name: "OBJECT", Value: "WASP-52", Comment: "target"},
		{Name: "NAXIS", Value: 7},
	}
	if err := WriteImage(path, im); err != nil {
		t.Fatalf("WriteImage failed: %v", err)
	}

	got, err := ReadImage(path, Primary)
	if err != nil {
		t.Fatalf("ReadImage failed: %v", err)
	}
	frames, rows, cols, err := got.Dims()
	if err != nil {
		t.Fatalf("Dims failed: %v", err)
	}
	if frames != 2 || rows != 2 || cols != 3 {
		t.Errorf("got dims %dx%dx%d", frames, rows, cols)
	}
	if diff := cmp.Diff(data, got.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if c := got.Card("OBJECT"); c == nil || c.Value != "WASP-52" {
		t.Errorf("OBJECT card not preserved: %+v", c)
	}

	// no temporary files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the output file, got %d entries", len(entries))
	}
}

// TestReadImageScaled checks BZERO is applied to integer data
func TestReadImageScaled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u16.fits")
	im := New(16, []int{2, 2}, []float64{0, 1000, 40000, 65535})
	im.BZero = 32768
	if err := WriteImage(path, im); err != nil {
		t.Fatalf("WriteImage failed: %v", err)
	}

	got, err := ReadImage(path, Primary)
	if err != nil {
		t.Fatalf("ReadImage failed: %v", err)
	}
	if diff := cmp.Diff(im.Data, got.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	layout, err := ScanLayout(raw)
	if err != nil {
		t.Fatalf("ScanLayout failed: %v", err)
	}
	if v, _ := layout.HDUs[0].Pixel(raw, 2); v != 40000 {
		t.Errorf("layout and decoder disagree: %v", v)
	}
}

// TestDims rejects images that are neither frames nor stacks
func TestDims(t *testing.T) {
	if _, _, _, err := New(8, []int{4}, make([]float64, 4)).Dims(); err == nil {
		t.Error("expected an error for a 1D image")
	}
	if f, r, c, err := New(8, []int{4, 3}, make([]float64, 12)).Dims(); err != nil || f != 1 || r != 3 || c != 4 {
		t.Errorf("got %d %d %d %v", f, r, c, err)
	}
}

// TestReadImages decodes every window of a multi-extension file
func TestReadImages(t *testing.T) {
	primary := rawHDU(t, []string{
		kv("SIMPLE", true), kv("BITPIX", 16), kv("NAXIS", 0), kv("EXTEND", true),
	}, nil)
	window := func(name string, values ...int16) []byte {
		return rawHDU(t, []string{
			kv("XTENSION", "IMAGE"), kv("BITPIX", 16), kv("NAXIS", 2),
			kv("NAXIS1", 2), kv("NAXIS2", 1),
			kv("PCOUNT", 0), kv("GCOUNT", 1),
			kv("EXTNAME", name),
		}, int16Data(values...))
	}
	raw := append(append(append([]byte{}, primary...), window("WIN1", 1, 2)...), window("WIN2", 3, 4)...)

	path := filepath.Join(t.TempDir(), "windows.fits")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	images, err := ReadImages(path)
	if err != nil {
		t.Fatalf("ReadImages failed: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(images))
	}
	if images[0].Name != "WIN1" || images[1].Name != "WIN2" {
		t.Errorf("got names %q %q", images[0].Name, images[1].Name)
	}
	if diff := cmp.Diff([]float64{3, 4}, images[1].Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}
