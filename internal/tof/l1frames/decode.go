package l1frames

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// DefaultDepthScale converts Helios raw units to metres (0.25 mm per unit).
const DefaultDepthScale = 0.001 * 0.25

// Supported frame file extensions.
const (
	ExtPNG  = ".png"
	ExtTIFF = ".tiff"
	ExtTIF  = ".tif"
	ExtRaw  = ".raw"
)

// Decoder turns the bytes of one frame file into a DepthFrame in metres.
// Width and Height are only consulted for headerless .raw files.
type Decoder struct {
	Scale  float64
	Width  int
	Height int
}

// Supports reports whether name has an extension the decoder understands.
func (d Decoder) Supports(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ExtPNG, ExtTIFF, ExtTIF, ExtRaw:
		return true
	}
	return false
}

// Decode parses data according to the extension of name. Truncated or
// otherwise unreadable files yield an error wrapping ErrMalformedFrame so
// callers can treat them as transient.
func (d Decoder) Decode(name string, data []byte) (*DepthFrame, error) {
	scale := d.Scale
	if scale <= 0 {
		scale = DefaultDepthScale
	}

	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ExtPNG:
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decode png %s: %v", ErrMalformedFrame, name, err)
		}
		return imageToDepth(img, scale), nil
	case ExtTIFF, ExtTIF:
		img, err := tiff.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decode tiff %s: %v", ErrMalformedFrame, name, err)
		}
		return imageToDepth(img, scale), nil
	case ExtRaw:
		return d.decodeRaw(name, data, scale)
	default:
		return nil, fmt.Errorf("unsupported frame format %q for %s", ext, name)
	}
}

func (d Decoder) decodeRaw(name string, data []byte, scale float64) (*DepthFrame, error) {
	if d.Width <= 0 || d.Height <= 0 {
		return nil, fmt.Errorf("raw frame %s: decoder has no dimensions", name)
	}
	want := d.Width * d.Height * 2
	if len(data) != want {
		return nil, fmt.Errorf("%w: raw frame %s has %d bytes, want %d", ErrMalformedFrame, name, len(data), want)
	}
	f := NewDepthFrame(d.Width, d.Height)
	for i := range f.Data {
		f.Data[i] = float64(binary.LittleEndian.Uint16(data[2*i:])) * scale
	}
	return f, nil
}

func imageToDepth(img image.Image, scale float64) *DepthFrame {
	b := img.Bounds()
	f := NewDepthFrame(b.Dx(), b.Dy())

	if g, ok := img.(*image.Gray16); ok {
		for y := 0; y < f.Height; y++ {
			row := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < f.Width; x++ {
				raw := uint16(row[2*x])<<8 | uint16(row[2*x+1])
				f.Data[y*f.Width+x] = float64(raw) * scale
			}
		}
		return f
	}

	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			c := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			f.Data[y*f.Width+x] = float64(c.Y) * scale
		}
	}
	return f
}

// ToRaw converts metres back to sensor units, rounding and saturating at the
// uint16 range.
func ToRaw(v, scale float64) uint16 {
	if scale <= 0 {
		scale = DefaultDepthScale
	}
	r := math.Round(v / scale)
	switch {
	case r <= 0 || math.IsNaN(r):
		return 0
	case r >= math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(r)
}

// EncodePNG writes f as a 16-bit grayscale PNG in sensor units. It is the
// inverse of Decode for .png files and is used by the synthetic frame
// generator and tests.
func EncodePNG(w io.Writer, f *DepthFrame, scale float64) error {
	if err := f.Validate(); err != nil {
		return err
	}
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: ToRaw(f.At(x, y), scale)})
		}
	}
	return png.Encode(w, img)
}

// EncodeRaw returns f as little-endian uint16 sensor units.
func EncodeRaw(f *DepthFrame, scale float64) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 2*len(f.Data))
	for i, v := range f.Data {
		binary.LittleEndian.PutUint16(out[2*i:], ToRaw(v, scale))
	}
	return out, nil
}
