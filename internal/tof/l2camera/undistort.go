//go:build !withcv

package l2camera

import (
	"math"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
)

// Undistort returns a lens-corrected copy of f. Every destination pixel is
// mapped through the distortion model to its source location and sampled
// bilinearly. Source locations outside the frame produce 0 (no return).
func (in *Intrinsics) Undistort(f *l1frames.DepthFrame) (*l1frames.DepthFrame, error) {
	if err := in.checkFrame(f); err != nil {
		return nil, err
	}
	if !in.HasDistortion() {
		return f.Clone(), nil
	}

	out := l1frames.NewDepthFrame(f.Width, f.Height)
	for v := 0; v < f.Height; v++ {
		for u := 0; u < f.Width; u++ {
			su, sv := in.DistortPixel(float64(u), float64(v))
			out.Data[v*f.Width+u] = sampleBilinear(f, su, sv)
		}
	}
	return out, nil
}

func sampleBilinear(f *l1frames.DepthFrame, x, y float64) float64 {
	maxX, maxY := float64(f.Width-1), float64(f.Height-1)
	if x < 0 || y < 0 || x > maxX || y > maxY || math.IsNaN(x) || math.IsNaN(y) {
		return 0
	}
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 >= f.Width {
		x1 = f.Width - 1
	}
	if y1 >= f.Height {
		y1 = f.Height - 1
	}
	ax, ay := x-float64(x0), y-float64(y0)

	top := f.At(x0, y0)*(1-ax) + f.At(x1, y0)*ax
	bottom := f.At(x0, y1)*(1-ax) + f.At(x1, y1)*ax
	return top*(1-ay) + bottom*ay
}
