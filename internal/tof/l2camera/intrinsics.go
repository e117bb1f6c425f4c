package l2camera

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
)

// Helios2 defaults used when calibration does not override them.
const (
	DefaultWidth   = 640
	DefaultHeight  = 480
	DefaultFovHDeg = 108.0
	DefaultFovVDeg = 78.0
)

// DefaultDistortion holds the (k1, k2, p1, p2, k3) coefficients shipped with
// the sensor profile.
var DefaultDistortion = [5]float64{-0.01, 0, 0, 0, -0.01}

// Intrinsics is the pinhole camera model for one sensor. It is built once
// from calibration and never mutated.
type Intrinsics struct {
	Width, Height int
	FovH, FovV    float64 // degrees
	Fx, Fy        float64 // pixels
	Cx, Cy        float64 // pixels

	// Distortion is (k1, k2, p1, p2, k3) in OpenCV order.
	Distortion [5]float64
}

// NewIntrinsics derives focal lengths from the field of view using
// f = dim / (2·tan(fov/2)) with the principal point at the image centre.
func NewIntrinsics(width, height int, fovHDeg, fovVDeg float64, dist [5]float64) (*Intrinsics, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}
	if !(fovHDeg > 0 && fovHDeg < 180) {
		return nil, fmt.Errorf("horizontal fov %.3f must be in (0, 180)", fovHDeg)
	}
	if !(fovVDeg > 0 && fovVDeg < 180) {
		return nil, fmt.Errorf("vertical fov %.3f must be in (0, 180)", fovVDeg)
	}
	for i, k := range dist {
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return nil, fmt.Errorf("distortion coefficient %d is not finite", i)
		}
	}

	in := &Intrinsics{
		Width:      width,
		Height:     height,
		FovH:       fovHDeg,
		FovV:       fovVDeg,
		Fx:         float64(width) / (2 * math.Tan(deg2rad(fovHDeg)/2)),
		Fy:         float64(height) / (2 * math.Tan(deg2rad(fovVDeg)/2)),
		Cx:         float64(width) / 2,
		Cy:         float64(height) / 2,
		Distortion: dist,
	}
	return in, nil
}

// HasDistortion reports whether any coefficient is non-zero.
func (in *Intrinsics) HasDistortion() bool {
	for _, k := range in.Distortion {
		if k != 0 {
			return true
		}
	}
	return false
}

// CameraMatrix returns the 3×3 intrinsic matrix in row-major order.
func (in *Intrinsics) CameraMatrix() [9]float64 {
	return [9]float64{
		in.Fx, 0, in.Cx,
		0, in.Fy, in.Cy,
		0, 0, 1,
	}
}

// checkFrame verifies that f is well formed and matches the calibrated size.
func (in *Intrinsics) checkFrame(f *l1frames.DepthFrame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Width != in.Width || f.Height != in.Height {
		return fmt.Errorf("%w: frame %dx%d, calibration %dx%d",
			l1frames.ErrShapeMismatch, f.Width, f.Height, in.Width, in.Height)
	}
	return nil
}

// PixelToRay returns the unit-depth ray through pixel (u, v), i.e. the
// point with Z = 1.
func (in *Intrinsics) PixelToRay(u, v float64) r3.Vector {
	return r3.Vector{X: (u - in.Cx) / in.Fx, Y: (v - in.Cy) / in.Fy, Z: 1}
}

// PixelToPoint back-projects pixel (u, v) at the given depth in metres.
func (in *Intrinsics) PixelToPoint(u, v, depth float64) r3.Vector {
	return in.PixelToRay(u, v).Mul(depth)
}

// PointToPixel projects a camera-frame point onto the image plane. ok is
// false for points at or behind the camera or outside the image.
func (in *Intrinsics) PointToPixel(p r3.Vector) (u, v float64, ok bool) {
	if p.Z <= 0 {
		return 0, 0, false
	}
	u = p.X*in.Fx/p.Z + in.Cx
	v = p.Y*in.Fy/p.Z + in.Cy
	ok = u >= 0 && v >= 0 && u < float64(in.Width) && v < float64(in.Height)
	return u, v, ok
}

// PointCloud back-projects every pixel with a valid return and translates
// the result by offset. depthScale multiplies the stored values; frames
// already in metres use 1 (a non-positive scale is treated as 1).
func (in *Intrinsics) PointCloud(f *l1frames.DepthFrame, depthScale float64, offset r3.Vector) ([]r3.Vector, error) {
	if err := in.checkFrame(f); err != nil {
		return nil, err
	}
	if depthScale <= 0 {
		depthScale = 1
	}
	pts := make([]r3.Vector, 0, f.ValidCount())
	for v := 0; v < f.Height; v++ {
		for u := 0; u < f.Width; u++ {
			d := f.At(u, v)
			if d == 0 {
				continue
			}
			pts = append(pts, in.PixelToPoint(float64(u), float64(v), d*depthScale).Add(offset))
		}
	}
	return pts, nil
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
