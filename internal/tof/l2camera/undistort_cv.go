//go:build withcv

package l2camera

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
)

// Undistort returns a lens-corrected copy of f using cv::undistort.
func (in *Intrinsics) Undistort(f *l1frames.DepthFrame) (*l1frames.DepthFrame, error) {
	if err := in.checkFrame(f); err != nil {
		return nil, err
	}
	if !in.HasDistortion() {
		return f.Clone(), nil
	}

	src := gocv.NewMatWithSize(f.Height, f.Width, gocv.MatTypeCV32F)
	defer src.Close()
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			src.SetFloatAt(y, x, float32(f.At(x, y)))
		}
	}

	camera := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer camera.Close()
	k := in.CameraMatrix()
	for i, v := range k {
		camera.SetDoubleAt(i/3, i%3, v)
	}

	dist := gocv.NewMatWithSize(1, 5, gocv.MatTypeCV64F)
	defer dist.Close()
	for i, v := range in.Distortion {
		dist.SetDoubleAt(0, i, v)
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Undistort(src, &dst, camera, dist, camera)
	if dst.Rows() != f.Height || dst.Cols() != f.Width {
		return nil, fmt.Errorf("undistort produced %dx%d, want %dx%d", dst.Cols(), dst.Rows(), f.Width, f.Height)
	}

	out := l1frames.NewDepthFrame(f.Width, f.Height)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			out.Set(x, y, float64(dst.GetFloatAt(y, x)))
		}
	}
	return out, nil
}
