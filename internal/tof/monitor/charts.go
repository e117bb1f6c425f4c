package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/tof/l5tracks"
)

// handleAngleChart renders the detection angle history as a line chart
// (HTML). Frames without a detection leave a gap in the series.
// Query params:
//   - last (optional) limits the chart to the newest N frames
func (m *Monitor) handleAngleChart(w http.ResponseWriter, r *http.Request) {
	hist := m.snapshotHistory()
	if v := r.URL.Query().Get("last"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "last must be a positive integer")
			return
		}
		if n < len(hist) {
			hist = hist[len(hist)-n:]
		}
	}

	xs := make([]string, len(hist))
	series := make([][2][]opts.LineData, l5tracks.RecordSlots)
	for i, pt := range hist {
		xs[i] = strconv.FormatUint(uint64(pt.FrameID), 10)
		for slot, a := range pt.Slots {
			var h, v interface{}
			if a != nil {
				h, v = a.HorizontalDeg, a.VerticalDeg
			}
			series[slot][0] = append(series[slot][0], opts.LineData{Value: h})
			series[slot][1] = append(series[slot][1], opts.LineData{Value: v})
		}
	}

	yAxis := opts.YAxis{Name: "angle (deg)", NameLocation: "middle", NameGap: 40}
	if m.opts.FovH > 0 && m.opts.FovV > 0 {
		limit := max(m.opts.FovH, m.opts.FovV) / 2
		yAxis.Min, yAxis.Max = -limit, limit
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Detection Angles", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: m.opts.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Detection angles", Subtitle: fmt.Sprintf("%d frames", len(hist))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(yAxis),
	)
	line.SetXAxis(xs)
	for slot := range series {
		n := strconv.Itoa(slot + 1)
		line.AddSeries("horizontal_"+n, series[slot][0])
		line.AddSeries("vertical_"+n, series[slot][1])
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		opsf("angle chart render failed: %v", err)
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}
