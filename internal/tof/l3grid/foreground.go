package l3grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
)

// DenoiseParams controls the morphological opening and intensity floor
// applied to the residual.
type DenoiseParams struct {
	KernelSize           int
	ErosionIterations    int
	DilationIterations   int
	LowIntensityFraction float64
}

// DefaultDenoiseParams returns the production settings: a 3×3 opening with
// two erosions and two dilations, then a 25% floor.
func DefaultDenoiseParams() DenoiseParams {
	return DenoiseParams{
		KernelSize:           3,
		ErosionIterations:    2,
		DilationIterations:   2,
		LowIntensityFraction: 0.25,
	}
}

// Validate rejects settings that cannot be applied.
func (p DenoiseParams) Validate() error {
	if p.KernelSize < 1 {
		return fmt.Errorf("kernel size must be >= 1, got %d", p.KernelSize)
	}
	if p.ErosionIterations < 0 || p.DilationIterations < 0 {
		return fmt.Errorf("morphology iterations must be >= 0, got erode=%d dilate=%d",
			p.ErosionIterations, p.DilationIterations)
	}
	if !(p.LowIntensityFraction >= 0 && p.LowIntensityFraction <= 1) {
		return fmt.Errorf("low intensity fraction must be in [0, 1], got %v", p.LowIntensityFraction)
	}
	return nil
}

// Residual returns background − corrected. Pixels nearer to the camera than
// the background come out positive.
func Residual(background, corrected *l1frames.DepthFrame) (*l1frames.DepthFrame, error) {
	if err := background.Validate(); err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	if err := corrected.Validate(); err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	if err := background.CheckShape(corrected); err != nil {
		return nil, err
	}
	out := l1frames.NewDepthFrame(background.Width, background.Height)
	floats.SubTo(out.Data, background.Data, corrected.Data)
	return out, nil
}

// Denoise applies the opening (erosion then dilation) and the relative
// intensity floor. The result never contains negative values.
func Denoise(residual *l1frames.DepthFrame, p DenoiseParams) (*l1frames.DepthFrame, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := residual.Validate(); err != nil {
		return nil, err
	}

	out := residual.Clone()
	scratch := make([]float64, len(out.Data))
	for i := 0; i < p.ErosionIterations; i++ {
		morph(out, scratch, p.KernelSize, math.Min)
	}
	for i := 0; i < p.DilationIterations; i++ {
		morph(out, scratch, p.KernelSize, math.Max)
	}
	ApplyIntensityFloor(out, p.LowIntensityFraction)
	return out, nil
}

// ApplyIntensityFloor zeroes, in place, every value below fraction of the
// frame maximum. A frame whose maximum is not positive is cleared.
func ApplyIntensityFloor(f *l1frames.DepthFrame, fraction float64) {
	if len(f.Data) == 0 {
		return
	}
	peak := floats.Max(f.Data)
	if !(peak > 0) {
		for i := range f.Data {
			f.Data[i] = 0
		}
		return
	}
	threshold := fraction * peak
	for i, v := range f.Data {
		if v < threshold || v < 0 {
			f.Data[i] = 0
		}
	}
}

// morph runs one pass of a square min (erode) or max (dilate) filter in
// place. The square window is separable, so a row pass is followed by a
// column pass. Pixels outside the frame take no part in the window.
func morph(f *l1frames.DepthFrame, scratch []float64, k int, pick func(a, b float64) float64) {
	if k <= 1 {
		return
	}
	lo := -(k / 2)
	hi := k - 1 - k/2
	w, h := f.Width, f.Height

	for y := 0; y < h; y++ {
		row := f.Data[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			from, to := max(x+lo, 0), min(x+hi, w-1)
			acc := row[from]
			for i := from + 1; i <= to; i++ {
				acc = pick(acc, row[i])
			}
			scratch[y*w+x] = acc
		}
	}
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			from, to := max(y+lo, 0), min(y+hi, h-1)
			acc := scratch[from*w+x]
			for i := from + 1; i <= to; i++ {
				acc = pick(acc, scratch[i*w+x])
			}
			f.Data[y*w+x] = acc
		}
	}
}
