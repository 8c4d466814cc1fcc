package visualization

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"ccdreduce/pkg/cosmics"
	"ccdreduce/pkg/fitsfile"
)

// RenderReport writes an HTML bar chart of the flagged pixels per frame with
// the audit limit overlaid; suspect frames are highlighted and reset frames
// greyed out
func RenderReport(w io.Writer, report *cosmics.AuditReport, sigma float64) error {
	if report == nil || len(report.Counts) == 0 {
		return fmt.Errorf("nothing to report")
	}

	suspect := make(map[int]bool, len(report.Suspects))
	for _, f := range report.Suspects {
		suspect[f] = true
	}
	reset := make(map[int]bool, len(report.Reset))
	for _, f := range report.Reset {
		reset[f] = true
	}

	limit := report.Clip * report.MedianCount
	x := make([]string, len(report.Counts))
	bars := make([]opts.BarData, len(report.Counts))
	limits := make([]opts.LineData, len(report.Counts))
	for f, n := range report.Counts {
		x[f] = strconv.Itoa(f + 1)
		bars[f] = opts.BarData{Value: n}
		switch {
		case reset[f]:
			bars[f].ItemStyle = &opts.ItemStyle{Color: "#999999"}
		case suspect[f]:
			bars[f].ItemStyle = &opts.ItemStyle{Color: "#d62728"}
		}
		limits[f] = opts.LineData{Value: limit}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Cosmic rays per frame", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Flagged pixels per frame",
			Subtitle: fmt.Sprintf("pixel clip %.1f sigma, median %.0f per frame, %d suspect, %d reset", sigma, report.MedianCount, len(report.Suspects), len(report.Reset)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Flagged pixels"}),
	)
	bar.SetXAxis(x).AddSeries("flagged", bars)

	line := charts.NewLine()
	line.SetXAxis(x).AddSeries(fmt.Sprintf("%.1f x median", report.Clip), limits)
	bar.Overlap(line)

	return bar.Render(w)
}

// WriteReport renders the report to path
func WriteReport(path string, report *cosmics.AuditReport, sigma float64) error {
	return fitsfile.WriteFileAtomic(path, func(w io.Writer) error {
		return RenderReport(w, report, sigma)
	})
}
