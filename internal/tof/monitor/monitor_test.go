package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/testutil"
	"github.com/banshee-data/presence.report/internal/tof/l1frames"
	"github.com/banshee-data/presence.report/internal/tof/l3grid"
	"github.com/banshee-data/presence.report/internal/tof/l4perception"
	"github.com/banshee-data/presence.report/internal/tof/l5tracks"
	"github.com/banshee-data/presence.report/internal/tof/pipeline"
)

var (
	pngSignature = []byte("\x89PNG\r\n\x1a\n")
	t0           = time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	testBox      = l4perception.Box{X: 4, Y: 3, W: 5, H: 4}
)

// testBundle builds a 16x12 iteration result. A nil angle produces a
// record without detections.
func testBundle(frame int, a *l5tracks.Angles) *pipeline.RenderBundle {
	const w, h = 16, 12
	bg := l1frames.NewDepthFrame(w, h)
	corrected := l1frames.NewDepthFrame(w, h)
	residual := l1frames.NewDepthFrame(w, h)
	mask := l4perception.NewMask(w, h)
	for i := range bg.Data {
		bg.Data[i] = 4
		corrected.Data[i] = 4
	}

	var boxes []l4perception.Box
	var angles []l5tracks.Angles
	if a != nil {
		boxes = []l4perception.Box{testBox}
		angles = []l5tracks.Angles{*a}
		for y := testBox.Y; y < testBox.Y+testBox.H; y++ {
			for x := testBox.X; x < testBox.X+testBox.W; x++ {
				corrected.Set(x, y, 2)
				residual.Set(x, y, 2)
				mask.Set(x, y, 1)
			}
		}
	}
	rec := l5tracks.Assemble(t0.Add(time.Duration(frame)*time.Second), l1frames.FrameID(frame), "run",
		boxes, []int{testBox.W * testBox.H}, angles)
	return &pipeline.RenderBundle{
		Raw:        corrected,
		Corrected:  corrected,
		Background: &l3grid.BackgroundMap{Frame: bg, IDs: []l1frames.FrameID{1, 2, 3}, BuiltAt: t0},
		Residual:   residual,
		Mask:       mask,
		Boxes:      boxes,
		Angles:     angles,
		MeanAngles: l5tracks.MaskMeanAngles(mask, 108, 78),
		Record:     rec,
	}
}

func TestLatestBeforeFirstFrame(t *testing.T) {
	m := New(Options{})
	assert.Nil(t, m.Latest())

	for _, path := range []string{"/api/latest", "/debug/frame.png"} {
		rec := testutil.Get(t, m.Handler(), path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestLatest(t *testing.T) {
	m := New(Options{})
	m.Render(testBundle(7, &l5tracks.Angles{HorizontalDeg: -10, VerticalDeg: 2}))

	rec := testutil.Get(t, m.Handler(), "/api/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp latestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, l1frames.FrameID(7), resp.Record.FrameID)
	require.NotNil(t, resp.Record.Detections[0])
	assert.Equal(t, testBox, resp.Record.Detections[0].Box)
	assert.Nil(t, resp.Record.Detections[1])
	assert.Equal(t, []l4perception.Box{testBox}, resp.Boxes)
	assert.Equal(t, 20, resp.ForegroundPixels)
	assert.Equal(t, 3, resp.BackgroundFrames)
	require.NotNil(t, resp.BackgroundBuiltAt)
	assert.True(t, resp.BackgroundBuiltAt.Equal(t0))
	assert.NotNil(t, resp.MeanAngles)
}

func TestLatestEmptyFrame(t *testing.T) {
	m := New(Options{})
	m.Render(testBundle(1, nil))

	rec := testutil.Get(t, m.Handler(), "/api/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw["boxes"]))
	_, hasMean := raw["mean_angles"]
	assert.False(t, hasMean)
}

func TestStats(t *testing.T) {
	want := pipeline.Stats{Iterations: 4, Emitted: 3, Skipped: 1, LastState: "emit"}
	m := New(Options{Stats: func() pipeline.Stats { return want }})
	m.Render(testBundle(1, &l5tracks.Angles{HorizontalDeg: -10, VerticalDeg: 1}))
	m.Render(testBundle(2, nil))
	m.Render(testBundle(3, &l5tracks.Angles{HorizontalDeg: -12, VerticalDeg: 1}))
	m.Render(testBundle(4, &l5tracks.Angles{HorizontalDeg: -14, VerticalDeg: 1}))

	rec := testutil.Get(t, m.Handler(), "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp statsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	require.NotNil(t, resp.Pipeline)
	assert.Equal(t, want, *resp.Pipeline)
	assert.Equal(t, 4, resp.HistoryFrames)
	require.Len(t, resp.Slots, l5tracks.RecordSlots)

	first := resp.Slots[0]
	assert.Equal(t, 1, first.Slot)
	assert.Equal(t, 3, first.Frames)
	require.NotNil(t, first.Horizontal)
	assert.InDelta(t, -12, first.Horizontal.Mean, 1e-12)
	assert.InDelta(t, 2, first.Horizontal.StdDev, 1e-12)
	assert.Equal(t, -14.0, first.Horizontal.Min)
	assert.Equal(t, -10.0, first.Horizontal.Max)
	assert.InDelta(t, 0, first.Vertical.StdDev, 1e-12)

	second := resp.Slots[1]
	assert.Equal(t, 0, second.Frames)
	assert.Nil(t, second.Horizontal)
}

func TestSummarizeSingleSample(t *testing.T) {
	s := summarize([]float64{3.5})
	require.NotNil(t, s)
	assert.Equal(t, 3.5, s.Mean)
	assert.Equal(t, 0.0, s.StdDev)
	assert.Nil(t, summarize(nil))
}

func TestHistoryIsBounded(t *testing.T) {
	m := New(Options{HistoryLen: 2})
	for i := 1; i <= 5; i++ {
		m.Render(testBundle(i, &l5tracks.Angles{HorizontalDeg: float64(i)}))
	}
	hist := m.snapshotHistory()
	require.Len(t, hist, 2)
	assert.Equal(t, l1frames.FrameID(4), hist[0].FrameID)
	assert.Equal(t, l1frames.FrameID(5), hist[1].FrameID)
	assert.Equal(t, l1frames.FrameID(5), m.Latest().Record.FrameID)

	m.Render(nil)
	assert.Len(t, m.snapshotHistory(), 2)
}

func TestAngleChart(t *testing.T) {
	m := New(Options{FovH: 108, FovV: 78})
	for i := 1; i <= 3; i++ {
		var a *l5tracks.Angles
		if i != 2 {
			a = &l5tracks.Angles{HorizontalDeg: -float64(i), VerticalDeg: float64(i)}
		}
		m.Render(testBundle(i, a))
	}

	rec := testutil.Get(t, m.Handler(), "/debug/angles")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "horizontal_1")
	assert.Contains(t, body, "vertical_2")

	rec = testutil.Get(t, m.Handler(), "/debug/angles?last=2")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2 frames")

	rec = testutil.Get(t, m.Handler(), "/debug/angles?last=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFramePNGLayers(t *testing.T) {
	m := New(Options{})
	m.Render(testBundle(9, &l5tracks.Angles{HorizontalDeg: -5}))

	for _, layer := range []string{"", LayerRaw, LayerCorrected, LayerBackground, LayerResidual, LayerMask} {
		t.Run(fmt.Sprintf("layer=%q", layer), func(t *testing.T) {
			rec := testutil.Get(t, m.Handler(), "/debug/frame.png?layer="+layer)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
			assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), pngSignature))
		})
	}

	rec := testutil.Get(t, m.Handler(), "/debug/frame.png?layer=thermal")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFramePNGMissingLayer(t *testing.T) {
	m := New(Options{})
	b := testBundle(1, nil)
	b.Background = nil
	m.Render(b)

	rec := testutil.Get(t, m.Handler(), "/debug/frame.png?layer=background")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	m := New(Options{})
	rec := testutil.Serve(t, m.Handler(), http.MethodPost, "/api/stats")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestHealth(t *testing.T) {
	m := New(Options{})
	m.Render(testBundle(1, nil))

	rec := testutil.Get(t, m.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(1), resp["frames"])
}

func TestServerServesUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := New(Options{})
	srv := NewServer(ln.Addr().String(), m.Handler())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestListenAndServeBadAddress(t *testing.T) {
	srv := NewServer("256.0.0.1:bad", http.NotFoundHandler())
	err := srv.ListenAndServe(context.Background())
	assert.Error(t, err)
}
