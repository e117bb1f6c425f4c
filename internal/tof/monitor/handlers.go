package monitor

import (
	"net/http"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/tof/l4perception"
	"github.com/banshee-data/presence.report/internal/tof/l5tracks"
	"github.com/banshee-data/presence.report/internal/tof/pipeline"
	"github.com/banshee-data/presence.report/internal/version"
)

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			httputil.MethodNotAllowed(w, "GET, HEAD")
			return
		}
		h(w, r)
	}
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	frames := m.frames
	m.mu.RUnlock()
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": version.Version,
		"frames":  frames,
	})
}

type latestResponse struct {
	Record             l5tracks.Record    `json:"record"`
	Boxes              []l4perception.Box `json:"boxes"`
	MeanAngles         *l5tracks.Angles   `json:"mean_angles,omitempty"`
	ForegroundPixels   int                `json:"foreground_pixels"`
	BackgroundBuiltAt  *time.Time         `json:"background_built_at,omitempty"`
	BackgroundFrames   int                `json:"background_frames"`
	BackgroundDegraded bool               `json:"background_degraded"`
}

// handleLatest returns the record and summary of the newest completed
// iteration.
func (m *Monitor) handleLatest(w http.ResponseWriter, r *http.Request) {
	b := m.Latest()
	if b == nil {
		httputil.NotFound(w, "no frame processed yet")
		return
	}
	resp := latestResponse{
		Record:     b.Record,
		Boxes:      b.Boxes,
		MeanAngles: b.MeanAngles,
	}
	if resp.Boxes == nil {
		resp.Boxes = []l4perception.Box{}
	}
	if b.Mask != nil {
		resp.ForegroundPixels = b.Mask.Count()
	}
	if bg := b.Background; bg != nil {
		built := bg.BuiltAt
		resp.BackgroundBuiltAt = &built
		resp.BackgroundFrames = len(bg.IDs)
		resp.BackgroundDegraded = bg.Degraded
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// angleSummary describes one angle series over the history window.
type angleSummary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type slotSummary struct {
	Slot       int           `json:"slot"`
	Frames     int           `json:"frames"`
	Horizontal *angleSummary `json:"horizontal,omitempty"`
	Vertical   *angleSummary `json:"vertical,omitempty"`
}

type statsResponse struct {
	Pipeline      *pipeline.Stats `json:"pipeline,omitempty"`
	HistoryFrames int             `json:"history_frames"`
	Slots         []slotSummary   `json:"slots"`
}

// handleStats returns the driver counters and per-slot angle statistics
// over the history window.
func (m *Monitor) handleStats(w http.ResponseWriter, r *http.Request) {
	hist := m.snapshotHistory()
	resp := statsResponse{HistoryFrames: len(hist)}
	if m.opts.Stats != nil {
		st := m.opts.Stats()
		resp.Pipeline = &st
	}
	for slot := 0; slot < l5tracks.RecordSlots; slot++ {
		var hs, vs []float64
		for _, pt := range hist {
			if a := pt.Slots[slot]; a != nil {
				hs = append(hs, a.HorizontalDeg)
				vs = append(vs, a.VerticalDeg)
			}
		}
		resp.Slots = append(resp.Slots, slotSummary{
			Slot:       slot + 1,
			Frames:     len(hs),
			Horizontal: summarize(hs),
			Vertical:   summarize(vs),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// summarize returns nil for an empty series. The standard deviation of a
// single sample is reported as 0.
func summarize(xs []float64) *angleSummary {
	if len(xs) == 0 {
		return nil
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) < 2 {
		std = 0
	}
	return &angleSummary{
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(xs),
		Max:    floats.Max(xs),
	}
}
