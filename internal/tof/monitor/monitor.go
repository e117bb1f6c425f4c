package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
	"github.com/banshee-data/presence.report/internal/tof/l5tracks"
	"github.com/banshee-data/presence.report/internal/tof/pipeline"
)

// DefaultHistoryLen is the number of frames kept for the angle timeline.
const DefaultHistoryLen = 600

// Options configures a Monitor.
type Options struct {
	// HistoryLen bounds the angle history. Zero uses DefaultHistoryLen.
	HistoryLen int

	// Stats, when set, is polled by /api/stats for the driver counters.
	Stats func() pipeline.Stats

	// AssetsHost overrides where chart pages load echarts from. Empty uses
	// the go-echarts default CDN.
	AssetsHost string

	// FovH and FovV label the chart axes; zero hides the limits.
	FovH, FovV float64
}

// anglePoint is one frame in the angle history. Nil slots had no
// detection.
type anglePoint struct {
	FrameID   l1frames.FrameID
	Timestamp time.Time
	Slots     [l5tracks.RecordSlots]*l5tracks.Angles
}

// Monitor keeps the latest rendering bundle and serves it over HTTP.
type Monitor struct {
	opts Options

	mu      sync.RWMutex
	latest  *pipeline.RenderBundle
	history []anglePoint
	frames  uint64
}

// New returns a monitor with no frames yet.
func New(opts Options) *Monitor {
	if opts.HistoryLen <= 0 {
		opts.HistoryLen = DefaultHistoryLen
	}
	return &Monitor{opts: opts}
}

// Render implements pipeline.RenderSink.
func (m *Monitor) Render(b *pipeline.RenderBundle) {
	if b == nil {
		return
	}
	pt := anglePoint{FrameID: b.Record.FrameID, Timestamp: b.Record.Timestamp}
	for i, d := range b.Record.Detections {
		if d != nil {
			a := d.Angles
			pt.Slots[i] = &a
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = b
	m.frames++
	m.history = append(m.history, pt)
	if over := len(m.history) - m.opts.HistoryLen; over > 0 {
		m.history = append(m.history[:0], m.history[over:]...)
	}
}

// Latest returns the most recent bundle, or nil before the first frame.
func (m *Monitor) Latest() *pipeline.RenderBundle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

func (m *Monitor) snapshotHistory() []anglePoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]anglePoint, len(m.history))
	copy(out, m.history)
	return out
}

// Handler returns the HTTP routes of the monitor.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(m.handleHealth))
	mux.HandleFunc("/api/latest", getOnly(m.handleLatest))
	mux.HandleFunc("/api/stats", getOnly(m.handleStats))
	mux.HandleFunc("/debug/angles", getOnly(m.handleAngleChart))
	mux.HandleFunc("/debug/frame.png", getOnly(m.handleFramePNG))
	return mux
}
