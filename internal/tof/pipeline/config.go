package pipeline

import (
	"fmt"
	"time"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/tof/l2camera"
	"github.com/banshee-data/presence.report/internal/tof/l3grid"
	"github.com/banshee-data/presence.report/internal/tof/l4perception"
)

// Config holds everything the driver needs apart from its frame source,
// clock and sinks.
type Config struct {
	Camera *l2camera.Intrinsics

	// Background sampling
	Window       int
	Samples      int
	Parallelism  int
	ClipDepth    float64
	RefreshEvery int           // rebuild after this many iterations; 1 = every iteration
	MaxAge       time.Duration // rebuild when older than this; 0 = no limit

	Denoise   l3grid.DenoiseParams
	Segmenter l4perception.Segmenter
	MaxBoxes  int

	// LoopDelay is the pause between iterations in Run.
	LoopDelay time.Duration

	// RunID labels every record. Empty generates a random UUID.
	RunID string
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func ConfigFromTuning(cfg *config.TuningConfig) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	camera, err := l2camera.NewIntrinsics(cfg.GetWidth(), cfg.GetHeight(),
		cfg.GetFovHorizontalDeg(), cfg.GetFovVerticalDeg(), cfg.GetDistortion())
	if err != nil {
		return Config{}, fmt.Errorf("calibration: %w", err)
	}

	seg, ok := l4perception.NewSegmenter(cfg.GetSegmenter(), cfg.GetKMeansSeed(), cfg.GetKMeansMaxIter())
	if !ok {
		return Config{}, fmt.Errorf("unknown segmenter %q", cfg.GetSegmenter())
	}

	return Config{
		Camera:       camera,
		Window:       cfg.GetBackgroundWindow(),
		Samples:      cfg.GetBackgroundSamples(),
		Parallelism:  cfg.GetParallelism(),
		ClipDepth:    cfg.GetClipDepth(),
		RefreshEvery: cfg.GetBackgroundRefreshEvery(),
		MaxAge:       cfg.GetBackgroundMaxAge(),
		Denoise: l3grid.DenoiseParams{
			KernelSize:           cfg.GetKernelSize(),
			ErosionIterations:    cfg.GetErosionIterations(),
			DilationIterations:   cfg.GetDilationIterations(),
			LowIntensityFraction: cfg.GetLowIntensityFraction(),
		},
		Segmenter: seg,
		MaxBoxes:  cfg.GetMaxBoxes(),
		LoopDelay: cfg.GetLoopDelay(),
	}, nil
}

// Validate checks the settings the driver depends on.
func (c Config) Validate() error {
	if c.Camera == nil {
		return fmt.Errorf("camera intrinsics are required")
	}
	if c.Window < 1 || c.Samples < 1 {
		return fmt.Errorf("background window and samples must be >= 1, got %d and %d", c.Window, c.Samples)
	}
	if c.RefreshEvery < 1 {
		return fmt.Errorf("background refresh cadence must be >= 1, got %d", c.RefreshEvery)
	}
	if c.MaxAge < 0 || c.LoopDelay < 0 {
		return fmt.Errorf("durations must be non-negative")
	}
	if err := c.Denoise.Validate(); err != nil {
		return err
	}
	if c.Segmenter == nil {
		return fmt.Errorf("segmenter is required")
	}
	if c.MaxBoxes < 1 || c.MaxBoxes > config.MaxRecordBoxes {
		return fmt.Errorf("max boxes must be between 1 and %d, got %d", config.MaxRecordBoxes, c.MaxBoxes)
	}
	return nil
}
