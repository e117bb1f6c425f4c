package l3grid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
)

// ErrNoBackground is returned when no sampled frame could be loaded.
var ErrNoBackground = errors.New("no usable background samples")

// Defaults for the background window.
const (
	DefaultWindow      = 120
	DefaultSamples     = 10
	DefaultParallelism = 4
	DefaultClipDepth   = 50.0 // metres
)

// LoadFunc loads one frame by identifier.
type LoadFunc func(ctx context.Context, id l1frames.FrameID) (*l1frames.RawFrame, error)

// Undistorter corrects lens distortion. *l2camera.Intrinsics implements it.
type Undistorter interface {
	Undistort(f *l1frames.DepthFrame) (*l1frames.DepthFrame, error)
}

// BackgroundMap is the per-pixel median of a set of corrected frames. It is
// replaced wholesale on refresh and must not be modified once published.
type BackgroundMap struct {
	Frame   *l1frames.DepthFrame
	IDs     []l1frames.FrameID
	BuiltAt time.Time

	// Degraded is set when fewer frames than requested were available.
	Degraded bool
	// Skipped counts sampled frames that failed to load or correct.
	Skipped int
}

// SampleIndices picks which positions of a history of length available feed
// the background. The last window positions are considered (all of them
// when the history is shorter) and samples indices are spread evenly across
// that range, truncated toward zero. When fewer than samples frames exist
// every one is used once and degraded is true.
func SampleIndices(available, window, samples int) (idx []int, degraded bool) {
	if available <= 0 || samples <= 0 {
		return nil, true
	}
	if available < samples {
		idx = make([]int, available)
		for i := range idx {
			idx[i] = i
		}
		return idx, true
	}

	start := 0
	if window > 0 && available >= window {
		start = available - window
	}
	stop := available - 1
	if samples == 1 {
		return []int{start}, false
	}

	step := float64(stop-start) / float64(samples-1)
	idx = make([]int, 0, samples)
	last := -1
	for i := 0; i < samples; i++ {
		v := float64(i)*step + float64(start)
		if i == samples-1 {
			v = float64(stop)
		}
		n := int(v)
		// A window narrower than the sample count would repeat frames.
		if n == last {
			continue
		}
		idx = append(idx, n)
		last = n
	}
	return idx, false
}

// Estimator builds background maps from the recent frame history.
type Estimator struct {
	Window      int
	Samples     int
	Parallelism int
	ClipDepth   float64

	// Camera corrects each sample before clipping. Nil skips correction.
	Camera Undistorter
	// Now stamps BuiltAt. Nil uses time.Now.
	Now func() time.Time
}

// NewEstimator returns an Estimator with the default window settings.
func NewEstimator(camera Undistorter) *Estimator {
	return &Estimator{
		Window:      DefaultWindow,
		Samples:     DefaultSamples,
		Parallelism: DefaultParallelism,
		ClipDepth:   DefaultClipDepth,
		Camera:      camera,
	}
}

// Validate checks the window settings.
func (e *Estimator) Validate() error {
	if e.Window < 1 {
		return fmt.Errorf("background window must be >= 1, got %d", e.Window)
	}
	if e.Samples < 1 {
		return fmt.Errorf("background samples must be >= 1, got %d", e.Samples)
	}
	if e.ClipDepth < 0 {
		return fmt.Errorf("clip depth must be >= 0, got %v", e.ClipDepth)
	}
	return nil
}

// Prepare corrects and clips one decoded frame the same way the live frame
// is treated, so background and foreground are comparable.
func (e *Estimator) Prepare(f *l1frames.DepthFrame) (*l1frames.DepthFrame, error) {
	if e.Camera != nil {
		corrected, err := e.Camera.Undistort(f)
		if err != nil {
			return nil, err
		}
		f = corrected
	}
	return f.Clip(e.ClipDepth), nil
}

// Estimate samples ids (ascending history, oldest first), loads and prepares
// each sample and returns their per-pixel median. Samples that fail are
// skipped; the estimate fails only when none succeed.
func (e *Estimator) Estimate(ctx context.Context, ids []l1frames.FrameID, load LoadFunc) (*BackgroundMap, error) {
	idx, degraded := SampleIndices(len(ids), e.Window, e.Samples)
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: empty history", ErrNoBackground)
	}
	if degraded {
		diagf("background degraded: %d frames available, %d samples requested", len(ids), e.Samples)
	}

	frames := make([]*l1frames.DepthFrame, len(idx))
	g, gctx := errgroup.WithContext(ctx)
	if e.Parallelism > 0 {
		g.SetLimit(e.Parallelism)
	}
	for slot, i := range idx {
		id := ids[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			raw, err := load(gctx, id)
			if err != nil {
				diagf("background sample %d skipped: %v", id, err)
				return nil
			}
			prepared, err := e.Prepare(raw.Depth)
			if err != nil {
				diagf("background sample %d skipped: %v", id, err)
				return nil
			}
			frames[slot] = prepared
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	used := make([]*l1frames.DepthFrame, 0, len(frames))
	usedIDs := make([]l1frames.FrameID, 0, len(frames))
	for slot, f := range frames {
		if f == nil {
			continue
		}
		if len(used) > 0 && !used[0].SameShape(f) {
			opsf("background sample %d skipped: %v", ids[idx[slot]], used[0].CheckShape(f))
			continue
		}
		used = append(used, f)
		usedIDs = append(usedIDs, ids[idx[slot]])
	}
	if len(used) == 0 {
		return nil, fmt.Errorf("%w: all %d samples failed", ErrNoBackground, len(idx))
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	bg := &BackgroundMap{
		Frame:    MedianStack(used),
		IDs:      usedIDs,
		BuiltAt:  now(),
		Degraded: degraded,
		Skipped:  len(idx) - len(used),
	}
	tracef("background built from %d/%d samples (first=%d last=%d)",
		len(used), len(idx), usedIDs[0], usedIDs[len(usedIDs)-1])
	return bg, nil
}

// MedianStack returns the per-pixel median of frames, which must share a
// shape. For an even count the two middle values are averaged.
func MedianStack(frames []*l1frames.DepthFrame) *l1frames.DepthFrame {
	if len(frames) == 0 {
		return nil
	}
	out := l1frames.NewDepthFrame(frames[0].Width, frames[0].Height)
	vals := make([]float64, len(frames))
	for i := range out.Data {
		for j, f := range frames {
			vals[j] = f.Data[i]
		}
		out.Data[i] = median(vals)
	}
	return out
}

// median sorts vals in place.
func median(vals []float64) float64 {
	n := len(vals)
	switch n {
	case 0:
		return 0
	case 1:
		return vals[0]
	}
	sort.Float64s(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}
