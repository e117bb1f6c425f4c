package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/banshee-data/presence.report/internal/tof/l1frames"
	"github.com/banshee-data/presence.report/internal/tof/l3grid"
	"github.com/banshee-data/presence.report/internal/tof/l4perception"
	"github.com/banshee-data/presence.report/internal/tof/l5tracks"
)

var (
	// ErrNoFrames is returned by Step when the frame source is empty.
	ErrNoFrames = errors.New("no frames available")

	// ErrIterationSkipped is returned by Step when neither the newest nor
	// the previous frame could be loaded and corrected, or no background
	// could be built. The next iteration starts normally.
	ErrIterationSkipped = errors.New("iteration skipped")
)

// Stats is a snapshot of the driver counters.
type Stats struct {
	Iterations         uint64           `json:"iterations"`
	Emitted            uint64           `json:"emitted"`
	Skipped            uint64           `json:"skipped"`
	Fallbacks          uint64           `json:"fallbacks"`
	SinkErrors         uint64           `json:"sink_errors"`
	BackgroundRebuilds uint64           `json:"background_rebuilds"`
	LastState          string           `json:"last_state"`
	LastFrameID        l1frames.FrameID `json:"last_frame_id"`
	LastError          string           `json:"last_error,omitempty"`
}

// Result is what one successful iteration produced.
type Result struct {
	Record       l5tracks.Record
	Bundle       *RenderBundle
	UsedFallback bool
}

// Driver runs the frame-to-track pipeline against a growing frame source.
// It is not safe to call Step or Run concurrently; Stats may be called from
// any goroutine.
type Driver struct {
	cfg       Config
	source    l1frames.FrameSource
	clock     timeutil.Clock
	estimator *l3grid.Estimator
	runID     string

	recordSinks []RecordSink
	renderSinks []RenderSink

	// Owned by the iteration goroutine.
	background   *l3grid.BackgroundMap
	sinceRebuild int

	mu    sync.Mutex
	stats Stats
}

// iteration carries the intermediate products of one pass through the
// stages.
type iteration struct {
	started  time.Time
	state    State
	ids      []l1frames.FrameID
	frame    *l1frames.RawFrame
	fallback bool

	corrected  *l1frames.DepthFrame
	background *l3grid.BackgroundMap
	residual   *l1frames.DepthFrame
	mask       *l4perception.Mask
	boxes      []l4perception.Box
	areas      []int
	angles     []l5tracks.Angles
	record     l5tracks.Record
}

// NewDriver validates cfg and returns a driver reading from source. A nil
// clock uses the real clock.
func NewDriver(cfg Config, source l1frames.FrameSource, clock timeutil.Clock) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("pipeline config: frame source is required")
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	est := &l3grid.Estimator{
		Window:      cfg.Window,
		Samples:     cfg.Samples,
		Parallelism: cfg.Parallelism,
		ClipDepth:   cfg.ClipDepth,
		Camera:      cfg.Camera,
		Now:         clock.Now,
	}
	return &Driver{
		cfg:       cfg,
		source:    source,
		clock:     clock,
		estimator: est,
		runID:     runID,
		stats:     Stats{LastState: StateIdle.String()},
	}, nil
}

// AddRecordSink registers a record consumer. Call before Run.
func (d *Driver) AddRecordSink(s RecordSink) { d.recordSinks = append(d.recordSinks, s) }

// AddRenderSink registers a rendering consumer. Call before Run.
func (d *Driver) AddRenderSink(s RenderSink) { d.renderSinks = append(d.renderSinks, s) }

// RunID returns the identifier stamped on every record.
func (d *Driver) RunID() string { return d.runID }

// Stats returns a snapshot of the counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Run executes iterations until ctx is cancelled, pausing LoopDelay between
// them. Failed iterations are logged and counted; Run only returns when ctx
// is done.
func (d *Driver) Run(ctx context.Context) error {
	opsf("run %s started (window=%d samples=%d max_boxes=%d delay=%s)",
		d.runID, d.cfg.Window, d.cfg.Samples, d.cfg.MaxBoxes, d.cfg.LoopDelay)
	for {
		if err := ctx.Err(); err != nil {
			opsf("run %s stopped: %v", d.runID, err)
			return err
		}
		if _, err := d.Step(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, ErrNoFrames) {
				tracef("waiting for frames")
			} else {
				diagf("iteration failed: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			opsf("run %s stopped: %v", d.runID, ctx.Err())
			return ctx.Err()
		case <-d.clock.After(d.cfg.LoopDelay):
		}
	}
}

// Step runs exactly one iteration.
func (d *Driver) Step(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it := &iteration{started: d.clock.Now()}
	res, err := d.step(ctx, it)
	d.finish(it, err)
	return res, err
}

func (d *Driver) step(ctx context.Context, it *iteration) (*Result, error) {
	if err := d.loadFrame(ctx, it); err != nil {
		return nil, err
	}
	if err := d.refreshBackground(ctx, it); err != nil {
		return nil, err
	}
	if err := d.subtractDenoise(it); err != nil {
		return nil, err
	}

	it.state = StateSegment
	it.mask = d.cfg.Segmenter.Segment(it.residual)

	it.state = StateBoxExtract
	it.boxes, it.areas = l4perception.ExtractBoxes(it.mask, d.cfg.MaxBoxes)

	it.state = StateAngle
	cam := d.cfg.Camera
	it.angles = make([]l5tracks.Angles, 0, len(it.boxes))
	for _, b := range it.boxes {
		a, err := l5tracks.BoxAngles(b, cam.Width, cam.Height, cam.FovH, cam.FovV)
		if err != nil {
			return nil, fmt.Errorf("%w: angles: %v", ErrIterationSkipped, err)
		}
		it.angles = append(it.angles, a)
	}

	it.state = StateEmit
	it.record = l5tracks.Assemble(d.clock.Now(), it.frame.ID, d.runID, it.boxes, it.areas, it.angles)
	bundle := &RenderBundle{
		Raw:        it.frame.Depth,
		Corrected:  it.corrected,
		Background: it.background,
		Residual:   it.residual,
		Mask:       it.mask,
		Boxes:      it.boxes,
		Angles:     it.angles,
		MeanAngles: l5tracks.MaskMeanAngles(it.mask, cam.FovH, cam.FovV),
		Record:     it.record,
	}
	d.emit(ctx, it, bundle)
	return &Result{Record: it.record, Bundle: bundle, UsedFallback: it.fallback}, nil
}

// loadFrame loads and corrects the newest frame, falling back once to the
// one before it. The newest file may still be being written.
func (d *Driver) loadFrame(ctx context.Context, it *iteration) error {
	it.state = StateLoadFrame
	ids, err := d.source.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: list frames: %v", ErrIterationSkipped, err)
	}
	if len(ids) == 0 {
		return ErrNoFrames
	}
	it.ids = ids

	var errs []error
	for attempt := 0; attempt < 2 && attempt < len(ids); attempt++ {
		id := ids[len(ids)-1-attempt]
		it.state = StateLoadFrame
		raw, err := d.source.Load(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			diagf("frame %d unusable: %v", id, err)
			errs = append(errs, err)
			continue
		}
		it.state = StateCorrect
		corrected, err := d.estimator.Prepare(raw.Depth)
		if err != nil {
			diagf("frame %d correction failed: %v", id, err)
			errs = append(errs, fmt.Errorf("frame %d: %w", id, err))
			continue
		}
		it.frame, it.corrected, it.fallback = raw, corrected, attempt > 0
		return nil
	}
	return fmt.Errorf("%w: %w", ErrIterationSkipped, errors.Join(errs...))
}

func (d *Driver) refreshBackground(ctx context.Context, it *iteration) error {
	it.state = StateBackground
	if !d.needsRebuild(it) {
		d.sinceRebuild++
		it.background = d.background
		return nil
	}

	bg, err := d.estimator.Estimate(ctx, it.ids, d.source.Load)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.background != nil && d.background.Frame.SameShape(it.corrected) {
			opsf("background rebuild failed, reusing map from %s: %v",
				d.background.BuiltAt.Format(time.RFC3339), err)
			it.background = d.background
			return nil
		}
		return fmt.Errorf("%w: background: %v", ErrIterationSkipped, err)
	}
	if bg.Degraded {
		diagf("background built from %d frames, fewer than the %d requested", len(bg.IDs), d.cfg.Samples)
	}
	d.background = bg
	d.sinceRebuild = 1
	it.background = bg

	d.mu.Lock()
	d.stats.BackgroundRebuilds++
	d.mu.Unlock()
	return nil
}

func (d *Driver) needsRebuild(it *iteration) bool {
	bg := d.background
	switch {
	case bg == nil:
		return true
	case !bg.Frame.SameShape(it.corrected):
		return true
	case bg.Degraded:
		// Keep improving the model while the history is still short.
		return true
	case d.sinceRebuild >= d.cfg.RefreshEvery:
		return true
	case d.cfg.MaxAge > 0 && d.clock.Since(bg.BuiltAt) > d.cfg.MaxAge:
		return true
	}
	return false
}

func (d *Driver) subtractDenoise(it *iteration) error {
	it.state = StateSubtractDenoise
	residual, err := l3grid.Residual(it.background.Frame, it.corrected)
	if err != nil {
		return fmt.Errorf("%w: residual: %v", ErrIterationSkipped, err)
	}
	it.residual, err = l3grid.Denoise(residual, d.cfg.Denoise)
	if err != nil {
		return fmt.Errorf("%w: denoise: %v", ErrIterationSkipped, err)
	}
	return nil
}

func (d *Driver) emit(ctx context.Context, it *iteration, bundle *RenderBundle) {
	var sinkErrors uint64
	for _, s := range d.recordSinks {
		if err := s.WriteRecord(ctx, it.record); err != nil {
			opsf("record sink %T failed for frame %d: %v", s, it.record.FrameID, err)
			sinkErrors++
		}
	}
	for _, s := range d.renderSinks {
		s.Render(bundle)
	}
	if sinkErrors > 0 {
		d.mu.Lock()
		d.stats.SinkErrors += sinkErrors
		d.mu.Unlock()
	}
	tracef("frame %d: %d detection(s) in %s", it.record.FrameID, it.record.Count(), d.clock.Since(it.started))
}

func (d *Driver) finish(it *iteration, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Iterations++
	d.stats.LastState = it.state.String()
	if it.frame != nil {
		d.stats.LastFrameID = it.frame.ID
	}
	if it.fallback {
		d.stats.Fallbacks++
	}
	if err != nil {
		d.stats.Skipped++
		d.stats.LastError = err.Error()
		return
	}
	d.stats.Emitted++
	d.stats.LastError = ""
}
