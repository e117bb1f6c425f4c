package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Segmenter names accepted in the segmenter field.
const (
	SegmenterKMeans = "kmeans"
	SegmenterOtsu   = "otsu"
)

// MaxRecordBoxes is the number of detection slots in a tracking record.
const MaxRecordBoxes = 2

// TuningConfig represents the root configuration for calibration and
// pipeline tuning. Every field is optional; Get* methods return the
// default for fields left unset, so partial configs are safe.
type TuningConfig struct {
	// Calibration
	Width            *int      `json:"width,omitempty"`
	Height           *int      `json:"height,omitempty"`
	FovHorizontalDeg *float64  `json:"fov_horizontal_deg,omitempty"`
	FovVerticalDeg   *float64  `json:"fov_vertical_deg,omitempty"`
	Distortion       []float64 `json:"distortion,omitempty"` // k1, k2, p1, p2, k3
	DepthScale       *float64  `json:"depth_scale,omitempty"`

	// Background params
	BackgroundWindow       *int     `json:"background_window,omitempty"`
	BackgroundSamples      *int     `json:"background_samples,omitempty"`
	BackgroundRefreshEvery *int     `json:"background_refresh_every,omitempty"`
	BackgroundMaxAge       *string  `json:"background_max_age,omitempty"` // duration string like "30s"
	Parallelism            *int     `json:"parallelism,omitempty"`
	ClipDepth              *float64 `json:"clip_depth,omitempty"`

	// Foreground params
	KernelSize           *int     `json:"kernel_size,omitempty"`
	ErosionIterations    *int     `json:"erosion_iterations,omitempty"`
	DilationIterations   *int     `json:"dilation_iterations,omitempty"`
	LowIntensityFraction *float64 `json:"low_intensity_fraction,omitempty"`

	// Segmentation and boxes
	Segmenter     *string `json:"segmenter,omitempty"`
	KMeansSeed    *uint64 `json:"kmeans_seed,omitempty"`
	KMeansMaxIter *int    `json:"kmeans_max_iter,omitempty"`
	MaxBoxes      *int    `json:"max_boxes,omitempty"`

	// Loop and output
	LoopDelay       *string `json:"loop_delay,omitempty"` // duration string like "10ms"
	TimestampLayout *string `json:"timestamp_layout,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the Get* defaults. It mirrors config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	empty := EmptyTuningConfig()
	seed := empty.GetKMeansSeed()
	dist := empty.GetDistortion()
	return &TuningConfig{
		Width:                  ptrInt(empty.GetWidth()),
		Height:                 ptrInt(empty.GetHeight()),
		FovHorizontalDeg:       ptrFloat64(empty.GetFovHorizontalDeg()),
		FovVerticalDeg:         ptrFloat64(empty.GetFovVerticalDeg()),
		Distortion:             append([]float64(nil), dist[:]...),
		DepthScale:             ptrFloat64(empty.GetDepthScale()),
		BackgroundWindow:       ptrInt(empty.GetBackgroundWindow()),
		BackgroundSamples:      ptrInt(empty.GetBackgroundSamples()),
		BackgroundRefreshEvery: ptrInt(empty.GetBackgroundRefreshEvery()),
		BackgroundMaxAge:       ptrString("0s"),
		Parallelism:            ptrInt(empty.GetParallelism()),
		ClipDepth:              ptrFloat64(empty.GetClipDepth()),
		KernelSize:             ptrInt(empty.GetKernelSize()),
		ErosionIterations:      ptrInt(empty.GetErosionIterations()),
		DilationIterations:     ptrInt(empty.GetDilationIterations()),
		LowIntensityFraction:   ptrFloat64(empty.GetLowIntensityFraction()),
		Segmenter:              ptrString(empty.GetSegmenter()),
		KMeansSeed:             &seed,
		KMeansMaxIter:          ptrInt(empty.GetKMeansMaxIter()),
		MaxBoxes:               ptrInt(empty.GetMaxBoxes()),
		LoopDelay:              ptrString(empty.GetLoopDelay().String()),
		TimestampLayout:        ptrString(empty.GetTimestampLayout()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/tof/pipeline/
		"../../../../" + DefaultConfigPath,    // from internal/tof/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Values are never
// clamped: an out-of-range setting is a startup error.
func (c *TuningConfig) Validate() error {
	if c.Width != nil && *c.Width <= 0 {
		return fmt.Errorf("width must be positive, got %d", *c.Width)
	}
	if c.Height != nil && *c.Height <= 0 {
		return fmt.Errorf("height must be positive, got %d", *c.Height)
	}
	for name, fov := range map[string]*float64{
		"fov_horizontal_deg": c.FovHorizontalDeg,
		"fov_vertical_deg":   c.FovVerticalDeg,
	} {
		if fov != nil && !(*fov > 0 && *fov < 180) {
			return fmt.Errorf("%s must be in (0, 180), got %f", name, *fov)
		}
	}
	if c.Distortion != nil {
		if len(c.Distortion) != 5 {
			return fmt.Errorf("distortion must have 5 coefficients (k1, k2, p1, p2, k3), got %d", len(c.Distortion))
		}
		for i, k := range c.Distortion {
			if math.IsNaN(k) || math.IsInf(k, 0) {
				return fmt.Errorf("distortion coefficient %d is not finite", i)
			}
		}
	}
	if c.DepthScale != nil && !(*c.DepthScale > 0) {
		return fmt.Errorf("depth_scale must be positive, got %f", *c.DepthScale)
	}

	if c.BackgroundWindow != nil && *c.BackgroundWindow < 1 {
		return fmt.Errorf("background_window must be at least 1, got %d", *c.BackgroundWindow)
	}
	if c.BackgroundSamples != nil && *c.BackgroundSamples < 1 {
		return fmt.Errorf("background_samples must be at least 1, got %d", *c.BackgroundSamples)
	}
	if c.GetBackgroundSamples() > c.GetBackgroundWindow() {
		return fmt.Errorf("background_samples (%d) must not exceed background_window (%d)",
			c.GetBackgroundSamples(), c.GetBackgroundWindow())
	}
	if c.BackgroundRefreshEvery != nil && *c.BackgroundRefreshEvery < 1 {
		return fmt.Errorf("background_refresh_every must be at least 1, got %d", *c.BackgroundRefreshEvery)
	}
	if err := validateDuration("background_max_age", c.BackgroundMaxAge); err != nil {
		return err
	}
	if c.Parallelism != nil && *c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", *c.Parallelism)
	}
	if c.ClipDepth != nil && !(*c.ClipDepth > 0) {
		return fmt.Errorf("clip_depth must be positive, got %f", *c.ClipDepth)
	}

	if c.KernelSize != nil && *c.KernelSize < 1 {
		return fmt.Errorf("kernel_size must be at least 1, got %d", *c.KernelSize)
	}
	if c.ErosionIterations != nil && *c.ErosionIterations < 0 {
		return fmt.Errorf("erosion_iterations must be non-negative, got %d", *c.ErosionIterations)
	}
	if c.DilationIterations != nil && *c.DilationIterations < 0 {
		return fmt.Errorf("dilation_iterations must be non-negative, got %d", *c.DilationIterations)
	}
	if c.LowIntensityFraction != nil {
		if f := *c.LowIntensityFraction; !(f >= 0 && f <= 1) {
			return fmt.Errorf("low_intensity_fraction must be between 0 and 1, got %f", f)
		}
	}

	if c.Segmenter != nil {
		switch *c.Segmenter {
		case SegmenterKMeans, SegmenterOtsu:
		default:
			return fmt.Errorf("segmenter must be %q or %q, got %q", SegmenterKMeans, SegmenterOtsu, *c.Segmenter)
		}
	}
	if c.KMeansMaxIter != nil && *c.KMeansMaxIter < 1 {
		return fmt.Errorf("kmeans_max_iter must be at least 1, got %d", *c.KMeansMaxIter)
	}
	if c.MaxBoxes != nil && (*c.MaxBoxes < 1 || *c.MaxBoxes > MaxRecordBoxes) {
		return fmt.Errorf("max_boxes must be between 1 and %d, got %d", MaxRecordBoxes, *c.MaxBoxes)
	}

	if err := validateDuration("loop_delay", c.LoopDelay); err != nil {
		return err
	}
	if c.TimestampLayout != nil && *c.TimestampLayout == "" {
		return fmt.Errorf("timestamp_layout must not be empty")
	}
	return nil
}

func validateDuration(name string, s *string) error {
	if s == nil || *s == "" {
		return nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *s, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, d)
	}
	return nil
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetWidth returns the image width in pixels or the default.
func (c *TuningConfig) GetWidth() int {
	if c.Width == nil {
		return 640
	}
	return *c.Width
}

// GetHeight returns the image height in pixels or the default.
func (c *TuningConfig) GetHeight() int {
	if c.Height == nil {
		return 480
	}
	return *c.Height
}

// GetFovHorizontalDeg returns the horizontal field of view or the default.
func (c *TuningConfig) GetFovHorizontalDeg() float64 {
	if c.FovHorizontalDeg == nil {
		return 108
	}
	return *c.FovHorizontalDeg
}

// GetFovVerticalDeg returns the vertical field of view or the default.
func (c *TuningConfig) GetFovVerticalDeg() float64 {
	if c.FovVerticalDeg == nil {
		return 78
	}
	return *c.FovVerticalDeg
}

// GetDistortion returns the lens coefficients or the sensor profile default.
func (c *TuningConfig) GetDistortion() [5]float64 {
	var out [5]float64
	if len(c.Distortion) != 5 {
		return [5]float64{-0.01, 0, 0, 0, -0.01}
	}
	copy(out[:], c.Distortion)
	return out
}

// GetDepthScale returns metres per raw sensor unit or the default.
func (c *TuningConfig) GetDepthScale() float64 {
	if c.DepthScale == nil {
		return 0.001 * 0.25
	}
	return *c.DepthScale
}

// GetBackgroundWindow returns the number of recent frames considered for
// the background or the default.
func (c *TuningConfig) GetBackgroundWindow() int {
	if c.BackgroundWindow == nil {
		return 120
	}
	return *c.BackgroundWindow
}

// GetBackgroundSamples returns the background_samples value or the default.
func (c *TuningConfig) GetBackgroundSamples() int {
	if c.BackgroundSamples == nil {
		return 10
	}
	return *c.BackgroundSamples
}

// GetBackgroundRefreshEvery returns how many iterations a background map is
// reused for. 1 rebuilds every iteration.
func (c *TuningConfig) GetBackgroundRefreshEvery() int {
	if c.BackgroundRefreshEvery == nil {
		return 1
	}
	return *c.BackgroundRefreshEvery
}

// GetBackgroundMaxAge returns the background_max_age value; 0 means no limit.
func (c *TuningConfig) GetBackgroundMaxAge() time.Duration {
	return parseDurationOr(c.BackgroundMaxAge, 0)
}

// GetParallelism returns the parallelism value or the default.
func (c *TuningConfig) GetParallelism() int {
	if c.Parallelism == nil {
		return 4
	}
	return *c.Parallelism
}

// GetClipDepth returns the clip_depth value in metres or the default.
func (c *TuningConfig) GetClipDepth() float64 {
	if c.ClipDepth == nil {
		return 50
	}
	return *c.ClipDepth
}

// GetKernelSize returns the kernel_size value or the default.
func (c *TuningConfig) GetKernelSize() int {
	if c.KernelSize == nil {
		return 3
	}
	return *c.KernelSize
}

// GetErosionIterations returns the erosion_iterations value or the default.
func (c *TuningConfig) GetErosionIterations() int {
	if c.ErosionIterations == nil {
		return 2
	}
	return *c.ErosionIterations
}

// GetDilationIterations returns the dilation_iterations value or the default.
func (c *TuningConfig) GetDilationIterations() int {
	if c.DilationIterations == nil {
		return 2
	}
	return *c.DilationIterations
}

// GetLowIntensityFraction returns the low_intensity_fraction value or the default.
func (c *TuningConfig) GetLowIntensityFraction() float64 {
	if c.LowIntensityFraction == nil {
		return 0.25
	}
	return *c.LowIntensityFraction
}

// GetSegmenter returns the segmenter name or the default.
func (c *TuningConfig) GetSegmenter() string {
	if c.Segmenter == nil || *c.Segmenter == "" {
		return SegmenterKMeans
	}
	return *c.Segmenter
}

// GetKMeansSeed returns the kmeans_seed value or the default.
func (c *TuningConfig) GetKMeansSeed() uint64 {
	if c.KMeansSeed == nil {
		return 0
	}
	return *c.KMeansSeed
}

// GetKMeansMaxIter returns the kmeans_max_iter value or the default.
func (c *TuningConfig) GetKMeansMaxIter() int {
	if c.KMeansMaxIter == nil {
		return 300
	}
	return *c.KMeansMaxIter
}

// GetMaxBoxes returns the max_boxes value or the default.
func (c *TuningConfig) GetMaxBoxes() int {
	if c.MaxBoxes == nil {
		return 1
	}
	return *c.MaxBoxes
}

// GetLoopDelay parses and returns the LoopDelay as a time.Duration.
func (c *TuningConfig) GetLoopDelay() time.Duration {
	return parseDurationOr(c.LoopDelay, 10*time.Millisecond)
}

// GetTimestampLayout returns the Go time layout used for record timestamps.
func (c *TuningConfig) GetTimestampLayout() string {
	if c.TimestampLayout == nil || *c.TimestampLayout == "" {
		return "2006-01-02 15:04:05.000"
	}
	return *c.TimestampLayout
}
