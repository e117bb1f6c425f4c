package l1frames

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch is returned when two grids that must share a shape
	// do not.
	ErrShapeMismatch = errors.New("frame shape mismatch")

	// ErrMalformedFrame is returned for frames whose pixel data does not
	// match their declared dimensions, including partially written files.
	ErrMalformedFrame = errors.New("malformed frame")
)

// FrameID is the monotonically increasing identifier the acquisition process
// embeds in each frame file name.
type FrameID uint64

// DepthFrame is a single-channel depth image in metres. A value of 0 means
// the sensor had no valid return at that pixel. Data is row-major.
type DepthFrame struct {
	Width  int
	Height int
	Data   []float64
}

// NewDepthFrame allocates a zeroed frame.
func NewDepthFrame(width, height int) *DepthFrame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &DepthFrame{Width: width, Height: height, Data: make([]float64, width*height)}
}

// At returns the depth at (x, y).
func (f *DepthFrame) At(x, y int) float64 { return f.Data[y*f.Width+x] }

// Set stores v at (x, y).
func (f *DepthFrame) Set(x, y int, v float64) { f.Data[y*f.Width+x] = v }

// Len returns the number of pixels.
func (f *DepthFrame) Len() int { return f.Width * f.Height }

// Validate checks that the frame has positive dimensions and a pixel buffer
// of the matching length.
func (f *DepthFrame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrMalformedFrame)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrMalformedFrame, f.Width, f.Height)
	}
	if len(f.Data) != f.Width*f.Height {
		return fmt.Errorf("%w: %d pixels for %dx%d", ErrMalformedFrame, len(f.Data), f.Width, f.Height)
	}
	return nil
}

// SameShape reports whether f and o have identical dimensions.
func (f *DepthFrame) SameShape(o *DepthFrame) bool {
	return f != nil && o != nil && f.Width == o.Width && f.Height == o.Height
}

// CheckShape returns ErrShapeMismatch when f and o differ in dimensions.
func (f *DepthFrame) CheckShape(o *DepthFrame) error {
	if !f.SameShape(o) {
		var fw, fh, ow, oh int
		if f != nil {
			fw, fh = f.Width, f.Height
		}
		if o != nil {
			ow, oh = o.Width, o.Height
		}
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, fw, fh, ow, oh)
	}
	return nil
}

// Clone returns a deep copy.
func (f *DepthFrame) Clone() *DepthFrame {
	out := &DepthFrame{Width: f.Width, Height: f.Height, Data: make([]float64, len(f.Data))}
	copy(out.Data, f.Data)
	return out
}

// Clip returns a copy where every value above maxDepth is set to 0, i.e.
// treated as "nothing there". A non-positive maxDepth disables clipping.
func (f *DepthFrame) Clip(maxDepth float64) *DepthFrame {
	out := f.Clone()
	if maxDepth <= 0 {
		return out
	}
	for i, v := range out.Data {
		if v > maxDepth {
			out.Data[i] = 0
		}
	}
	return out
}

// ValidCount returns the number of pixels with a non-zero return.
func (f *DepthFrame) ValidCount() int {
	n := 0
	for _, v := range f.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// RawFrame is a decoded frame together with where it came from.
type RawFrame struct {
	ID    FrameID
	Path  string
	Depth *DepthFrame
}
