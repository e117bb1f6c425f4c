package l2camera

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
)

func mustIntrinsics(t *testing.T, w, h int, fovH, fovV float64, dist [5]float64) *Intrinsics {
	t.Helper()
	in, err := NewIntrinsics(w, h, fovH, fovV, dist)
	if err != nil {
		t.Fatalf("NewIntrinsics: %v", err)
	}
	return in
}

func uniformFrame(w, h int, v float64) *l1frames.DepthFrame {
	f := l1frames.NewDepthFrame(w, h)
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

func TestNewIntrinsicsValidation(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		fovH, fovV float64
		wantErr    bool
	}{
		{"helios defaults", 640, 480, 108, 78, false},
		{"zero width", 0, 480, 108, 78, true},
		{"negative height", 640, -1, 108, 78, true},
		{"zero fov", 640, 480, 0, 78, true},
		{"fov 180", 640, 480, 108, 180, true},
		{"nan fov", 640, 480, math.NaN(), 78, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIntrinsics(tt.w, tt.h, tt.fovH, tt.fovV, [5]float64{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := NewIntrinsics(640, 480, 108, 78, [5]float64{math.Inf(1)}); err == nil {
		t.Fatal("expected error for infinite distortion coefficient")
	}
}

func TestFocalLengthFromFov(t *testing.T) {
	in := mustIntrinsics(t, 640, 480, 90, 90, [5]float64{})
	if math.Abs(in.Fx-320) > 1e-9 || math.Abs(in.Fy-240) > 1e-9 {
		t.Fatalf("fx, fy = %.6f, %.6f; want 320, 240", in.Fx, in.Fy)
	}
	if in.Cx != 320 || in.Cy != 240 {
		t.Fatalf("principal point = (%v, %v)", in.Cx, in.Cy)
	}
	if in.Fx <= 0 || in.Fy <= 0 {
		t.Fatal("focal lengths must be positive")
	}
}

func TestUndistortIdentityWithoutDistortion(t *testing.T) {
	in := mustIntrinsics(t, 8, 6, 108, 78, [5]float64{})
	f := uniformFrame(8, 6, 3)
	f.Set(2, 3, 7.5)

	got, err := in.Undistort(f)
	if err != nil {
		t.Fatalf("Undistort: %v", err)
	}
	for i := range f.Data {
		if got.Data[i] != f.Data[i] {
			t.Fatalf("pixel %d = %v, want %v", i, got.Data[i], f.Data[i])
		}
	}
	got.Data[0] = -1
	if f.Data[0] == -1 {
		t.Fatal("Undistort must return a new frame")
	}
}

func TestUndistortRejectsBadFrames(t *testing.T) {
	in := mustIntrinsics(t, 8, 6, 108, 78, DefaultDistortion)

	_, err := in.Undistort(uniformFrame(6, 8, 1))
	if !errors.Is(err, l1frames.ErrShapeMismatch) {
		t.Fatalf("wrong shape: err = %v", err)
	}

	truncated := &l1frames.DepthFrame{Width: 8, Height: 6, Data: make([]float64, 40)}
	_, err = in.Undistort(truncated)
	if !errors.Is(err, l1frames.ErrMalformedFrame) {
		t.Fatalf("truncated: err = %v", err)
	}
}

func TestUndistortBarrelKeepsUniformField(t *testing.T) {
	in := mustIntrinsics(t, 64, 48, 108, 78, DefaultDistortion)
	got, err := in.Undistort(uniformFrame(64, 48, 4))
	if err != nil {
		t.Fatalf("Undistort: %v", err)
	}
	// Negative coefficients pull every sample inward, so nothing falls off
	// the frame and a flat wall stays flat.
	for i, v := range got.Data {
		if math.Abs(v-4) > 1e-4 {
			t.Fatalf("pixel %d = %v, want 4", i, v)
		}
	}
}

func TestUndistortPincushionZeroesCorners(t *testing.T) {
	in := mustIntrinsics(t, 64, 48, 108, 78, [5]float64{0.5, 0, 0, 0, 0})
	got, err := in.Undistort(uniformFrame(64, 48, 4))
	if err != nil {
		t.Fatalf("Undistort: %v", err)
	}
	if got.At(0, 0) != 0 {
		t.Fatalf("corner = %v, want 0 (sampled outside frame)", got.At(0, 0))
	}
	if math.Abs(got.At(32, 24)-4) > 1e-4 {
		t.Fatalf("centre = %v, want 4", got.At(32, 24))
	}
}

func TestDistortPixelFixesPrincipalPoint(t *testing.T) {
	in := mustIntrinsics(t, 640, 480, 108, 78, [5]float64{-0.3, 0.1, 0.01, 0.02, -0.01})
	u, v := in.DistortPixel(in.Cx, in.Cy)
	if u != in.Cx || v != in.Cy {
		t.Fatalf("principal point moved to (%v, %v)", u, v)
	}
}

func TestPixelPointRoundTrip(t *testing.T) {
	in := mustIntrinsics(t, 640, 480, 108, 78, DefaultDistortion)
	for _, tc := range []struct{ u, v, d float64 }{
		{0, 0, 1},
		{320, 240, 2.5},
		{639.5, 12.25, 10},
		{100, 470, 0.3},
	} {
		p := in.PixelToPoint(tc.u, tc.v, tc.d)
		if math.Abs(p.Z-tc.d) > 1e-12 {
			t.Fatalf("Z = %v, want %v", p.Z, tc.d)
		}
		u, v, ok := in.PointToPixel(p)
		if !ok {
			t.Fatalf("PointToPixel(%v) not ok", p)
		}
		if math.Abs(u-tc.u) > 1e-9 || math.Abs(v-tc.v) > 1e-9 {
			t.Fatalf("round trip (%v, %v) -> (%v, %v)", tc.u, tc.v, u, v)
		}
	}

	if _, _, ok := in.PointToPixel(r3.Vector{X: 1, Y: 1, Z: -1}); ok {
		t.Fatal("point behind the camera must not project")
	}
	if _, _, ok := in.PointToPixel(r3.Vector{X: 100, Y: 0, Z: 1}); ok {
		t.Fatal("point outside the field of view must not project")
	}
}

func TestPointCloud(t *testing.T) {
	in := mustIntrinsics(t, 4, 4, 90, 90, [5]float64{})
	f := l1frames.NewDepthFrame(4, 4)
	f.Set(2, 2, 2)
	f.Set(0, 0, 1)

	offset := r3.Vector{X: 8, Y: 8, Z: 0}
	pts, err := in.PointCloud(f, 1, offset)
	if err != nil {
		t.Fatalf("PointCloud: %v", err)
	}
	if len(pts) != 2 {
		t.Fatalf("got %d points, want 2", len(pts))
	}
	// Raster order: (0,0) first. fx = 2, cx = 2.
	want0 := r3.Vector{X: -1 + 8, Y: -1 + 8, Z: 1}
	if !pts[0].ApproxEqual(want0) {
		t.Fatalf("pts[0] = %v, want %v", pts[0], want0)
	}
	want1 := r3.Vector{X: 8, Y: 8, Z: 2}
	if !pts[1].ApproxEqual(want1) {
		t.Fatalf("pts[1] = %v, want %v", pts[1], want1)
	}

	scaled, err := in.PointCloud(f, 0.5, r3.Vector{})
	if err != nil {
		t.Fatalf("PointCloud: %v", err)
	}
	if scaled[1].Z != 1 {
		t.Fatalf("scaled Z = %v, want 1", scaled[1].Z)
	}

	if _, err := in.PointCloud(l1frames.NewDepthFrame(3, 3), 1, r3.Vector{}); err == nil {
		t.Fatal("expected shape error")
	}
}
