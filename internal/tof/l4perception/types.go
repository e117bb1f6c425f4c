package l4perception

import (
	"fmt"
	"image"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
)

// Mask is a binary image. Label 0 is background and always the majority;
// label 1 marks foreground candidates.
type Mask struct {
	Width  int
	Height int
	Data   []uint8
}

// NewMask allocates an all-zero mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Data: make([]uint8, width*height)}
}

// MaskLike allocates an all-zero mask with the shape of f.
func MaskLike(f *l1frames.DepthFrame) *Mask {
	return NewMask(f.Width, f.Height)
}

// At returns the label at (x, y).
func (m *Mask) At(x, y int) uint8 { return m.Data[y*m.Width+x] }

// Set stores label at (x, y).
func (m *Mask) Set(x, y int, label uint8) { m.Data[y*m.Width+x] = label }

// Count returns the number of label-1 pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// Empty reports whether the mask has no foreground.
func (m *Mask) Empty() bool { return m.Count() == 0 }

// Box is an axis-aligned bounding box in pixels with a top-left origin.
type Box struct {
	X, Y, W, H int
}

// Area returns W·H.
func (b Box) Area() int { return b.W * b.H }

// Center returns the box centre in pixel coordinates.
func (b Box) Center() (float64, float64) {
	return float64(b.X) + float64(b.W)/2, float64(b.Y) + float64(b.H)/2
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Within reports whether the box lies inside a width×height image.
func (b Box) Within(width, height int) bool {
	return b.X >= 0 && b.Y >= 0 && b.W >= 0 && b.H >= 0 && b.X+b.W <= width && b.Y+b.H <= height
}

func (b Box) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", b.X, b.Y, b.W, b.H)
}
