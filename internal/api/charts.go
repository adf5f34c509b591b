package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/coaxctl/internal/db"
	"github.com/banshee-data/coaxctl/internal/httputil"
)

// handleFlightChart renders the recent flight log samples as HTML: altitude
// against its reference, and the four actuator channels.
// Query params:
//   - limit (optional; default 500) number of most recent samples
func (s *Server) handleFlightChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.log == nil {
		httputil.ServiceUnavailable(w, "flight log disabled")
		return
	}
	rows, err := s.log.RecentSamples(s.session, queryLimit(r, 500, 20000))
	if err != nil {
		httputil.InternalServerError(w, "failed to read samples: "+err.Error())
		return
	}

	page := components.NewPage()
	page.PageTitle = "coaxctl flight"
	page.AddCharts(altitudeChart(rows), commandChart(rows))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// sampleAxis labels samples with seconds since the first one.
func sampleAxis(rows []db.SampleRow) []string {
	x := make([]string, len(rows))
	for i, row := range rows {
		x[i] = fmt.Sprintf("%.2f", row.At.Sub(rows[0].At).Seconds())
	}
	return x
}

func lineSeries(rows []db.SampleRow, value func(db.SampleRow) float64) []opts.LineData {
	out := make([]opts.LineData, len(rows))
	for i, row := range rows {
		out[i] = opts.LineData{Value: value(row)}
	}
	return out
}

func newLine(title, subtitle, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	return line
}

func altitudeChart(rows []db.SampleRow) *charts.Line {
	subtitle := fmt.Sprintf("samples=%d", len(rows))
	if len(rows) > 0 {
		subtitle += " mode=" + rows[len(rows)-1].Mode
	}
	line := newLine("Altitude", subtitle, "z (m)")
	line.SetXAxis(sampleAxis(rows)).
		AddSeries("z", lineSeries(rows, func(r db.SampleRow) float64 { return r.State[2] })).
		AddSeries("reference z", lineSeries(rows, func(r db.SampleRow) float64 { return r.Reference[2] }))
	return line
}

func commandChart(rows []db.SampleRow) *charts.Line {
	line := newLine("Actuator commands", fmt.Sprintf("samples=%d", len(rows)), "command")
	line.SetXAxis(sampleAxis(rows)).
		AddSeries("upper", lineSeries(rows, func(r db.SampleRow) float64 { return r.Command.Upper })).
		AddSeries("lower", lineSeries(rows, func(r db.SampleRow) float64 { return r.Command.Lower })).
		AddSeries("roll", lineSeries(rows, func(r db.SampleRow) float64 { return r.Command.Roll })).
		AddSeries("pitch", lineSeries(rows, func(r db.SampleRow) float64 { return r.Command.Pitch }))
	return line
}
