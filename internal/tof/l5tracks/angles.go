package l5tracks

import (
	"fmt"
	"math"

	"github.com/banshee-data/presence.report/internal/tof/l4perception"
)

// Angles is the offset of a point from the optical axis in degrees.
// Positive horizontal is to the right of centre, positive vertical is
// below centre (image rows grow downward).
type Angles struct {
	HorizontalDeg float64 `json:"horizontal_deg"`
	VerticalDeg   float64 `json:"vertical_deg"`
}

// BoxAngles maps the centre of box to angles. The normalised offset from the
// image centre, in [-1, 1] across the frame, is scaled linearly by half the
// field of view. This is a small-angle approximation of the pinhole model;
// see LinearApproxErrorDeg for its error.
func BoxAngles(box l4perception.Box, width, height int, fovHDeg, fovVDeg float64) (Angles, error) {
	if width <= 0 || height <= 0 {
		return Angles{}, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}
	cx, cy := box.Center()
	halfW, halfH := float64(width)/2, float64(height)/2
	return Angles{
		HorizontalDeg: (cx - halfW) / halfW * fovHDeg / 2,
		VerticalDeg:   (cy - halfH) / halfH * fovVDeg / 2,
	}, nil
}

// LinearApproxErrorDeg returns how far the linear mapping used by BoxAngles
// is from the pinhole angle atan(norm·tan(fov/2)) for a normalised offset
// norm. The error is zero at the centre and at the frame edges and peaks in
// between (about 7.5° for a 108° lens, near norm 0.49).
func LinearApproxErrorDeg(norm, fovDeg float64) float64 {
	half := fovDeg / 2 * math.Pi / 180
	linear := norm * fovDeg / 2
	exact := math.Atan(norm*math.Tan(half)) * 180 / math.Pi
	return math.Abs(linear - exact)
}

// MaskMeanAngles averages the per-pixel angle of every label-1 pixel, using
// fov/dim degrees per pixel from the image centre. It returns nil for an
// empty mask.
func MaskMeanAngles(m *l4perception.Mask, fovHDeg, fovVDeg float64) *Angles {
	if m == nil || m.Width <= 0 || m.Height <= 0 {
		return nil
	}
	var sumX, sumY float64
	n := 0
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.At(x, y) == 0 {
				continue
			}
			sumX += float64(x)
			sumY += float64(y)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)
	return &Angles{
		HorizontalDeg: (meanX - float64(m.Width)/2) * fovHDeg / float64(m.Width),
		VerticalDeg:   (meanY - float64(m.Height)/2) * fovVDeg / float64(m.Height),
	}
}
