package visualization

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	vgdraw "gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"ccdreduce/pkg/cosmics"
)

var (
	seriesColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	medianColor  = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	flaggedColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// PlotPixel draws the diagnostic for one pixel: the series with its running
// median and flagged frames on top, the residuals and the clip band below
func PlotPixel(res cosmics.PixelResult, filename string) error {
	top := plot.New()
	top.Title.Text = fmt.Sprintf("Pixel row %d, column %d", res.Row, res.Col)
	top.X.Label.Text = "Frame"
	top.Y.Label.Text = "Counts"

	series, err := plotter.NewLine(finiteXYs(res.Series))
	if err != nil {
		return err
	}
	series.Color = seriesColor
	series.Width = vg.Points(1)

	median, err := plotter.NewLine(finiteXYs(res.Median))
	if err != nil {
		return err
	}
	median.Color = medianColor
	median.Width = vg.Points(1)
	median.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	top.Add(series, median)
	top.Legend.Add("Pixel", series)
	top.Legend.Add("Running median", median)

	flagged := make(plotter.XYs, 0)
	for _, f := range res.Flagged() {
		flagged = append(flagged, plotter.XY{X: float64(f), Y: res.Series[f]})
	}
	if len(flagged) > 0 {
		points, err := plotter.NewScatter(flagged)
		if err != nil {
			return err
		}
		points.GlyphStyle.Color = flaggedColor
		points.GlyphStyle.Radius = vg.Points(3)
		top.Add(points)
		top.Legend.Add("Cosmic", points)
	}

	bottom := plot.New()
	bottom.Title.Text = fmt.Sprintf("Residuals, cut = %.2f", res.Cut)
	bottom.X.Label.Text = "Frame"
	bottom.Y.Label.Text = "Residual"

	resid, err := plotter.NewScatter(finiteXYs(res.Residuals))
	if err != nil {
		return err
	}
	resid.GlyphStyle.Color = seriesColor
	resid.GlyphStyle.Radius = vg.Points(2)
	bottom.Add(resid)

	if res.Cut > 0 && len(res.Residuals) > 0 {
		last := float64(len(res.Residuals) - 1)
		for _, y := range []float64{res.Cut, -res.Cut} {
			cut, err := plotter.NewLine(plotter.XYs{{X: 0, Y: y}, {X: last, Y: y}})
			if err != nil {
				return err
			}
			cut.Color = flaggedColor
			cut.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
			bottom.Add(cut)
		}
	}

	return saveStacked(filename, 8*vg.Inch, 8*vg.Inch, top, bottom)
}

// saveStacked draws the plots one above the other into a PNG
func saveStacked(filename string, width, height vg.Length, plots ...*plot.Plot) error {
	img := vgimg.New(width, height)
	dc := vgdraw.New(img)

	rows := make([][]*plot.Plot, len(plots))
	for i, p := range plots {
		rows[i] = []*plot.Plot{p}
	}
	tiles := vgdraw.Tiles{Rows: len(plots), Cols: 1, PadY: vg.Points(8)}
	canvases := plot.Align(rows, tiles, dc)
	for i, p := range plots {
		p.Draw(canvases[i][0])
	}

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func finiteXYs(values []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i), Y: v})
	}
	return pts
}

// FrameOptions controls PlotFrame
type FrameOptions struct {
	Title string

	// Intrinsic scales colours between the 10th and 90th percentiles
	// instead of the full range
	Intrinsic bool

	// Gray draws in grey levels instead of the heat palette
	Gray bool

	Width, Height vg.Length
}

// grays runs from black to white
type grays []color.Color

func (g grays) Colors() []color.Color { return g }

func grayPalette(n int) palette.Palette {
	g := make(grays, n)
	for i := range g {
		v := uint8(255 * i / (n - 1))
		g[i] = color.Gray{Y: v}
	}
	return g
}

// frameGrid adapts a frame to plotter.GridXYZ. Row 0 is drawn at the
// bottom, matching the lower origin of astronomical images.
type frameGrid struct {
	data       []float64
	rows, cols int
}

func (g frameGrid) Dims() (c, r int)   { return g.cols, g.rows }
func (g frameGrid) Z(c, r int) float64 { return g.data[r*g.cols+c] }
func (g frameGrid) X(c int) float64    { return float64(c) }
func (g frameGrid) Y(r int) float64    { return float64(r) }

// PlotFrame draws a science frame as a heat map
func PlotFrame(data []float64, rows, cols int, filename string, opts FrameOptions) error {
	if len(data) != rows*cols || rows == 0 || cols == 0 {
		return fmt.Errorf("frame has %d pixels, expected %dx%d", len(data), rows, cols)
	}

	lo, hi, err := colourRange(data, opts.Intrinsic)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "X pixel"
	p.Y.Label.Text = "Y pixel"

	pal := palette.Heat(64, 1)
	if opts.Gray {
		pal = grayPalette(64)
	}
	hm := plotter.NewHeatMap(frameGrid{data: data, rows: rows, cols: cols}, pal)
	hm.Min, hm.Max = lo, hi
	hm.Underflow = hm.Palette.Colors()[0]
	hm.Overflow = hm.Palette.Colors()[len(hm.Palette.Colors())-1]
	hm.NaN = color.Black
	if opts.Gray {
		hm.NaN = flaggedColor
	}
	hm.Rasterized = true
	p.Add(hm)

	width, height := opts.Width, opts.Height
	if width == 0 {
		width = 10 * vg.Inch
	}
	if height == 0 {
		height = width * vg.Length(rows) / vg.Length(cols)
		if height < 3*vg.Inch {
			height = 3 * vg.Inch
		}
	}
	return p.Save(width, height, filename)
}

// colourRange returns the full finite range, or the 10th to 90th
// percentile range for intrinsic scaling
func colourRange(data []float64, intrinsic bool) (lo, hi float64, err error) {
	finite := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0, 0, fmt.Errorf("frame has no finite pixels")
	}
	sort.Float64s(finite)

	if intrinsic {
		lo = stat.Quantile(0.1, stat.Empirical, finite, nil)
		hi = stat.Quantile(0.9, stat.Empirical, finite, nil)
	} else {
		lo, hi = finite[0], finite[len(finite)-1]
	}
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi, nil
}
