package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/tof/l1frames"
	"github.com/banshee-data/presence.report/internal/tof/l4perception"
	"github.com/banshee-data/presence.report/internal/tof/pipeline"
)

// Frame layers served by /debug/frame.png.
const (
	LayerRaw        = "raw"
	LayerCorrected  = "corrected"
	LayerBackground = "background"
	LayerResidual   = "residual"
	LayerMask       = "mask"
)

var boxColor = color.RGBA{R: 0, G: 255, B: 127, A: 255}

// imageGrid adapts a row-major image to plotter.GridXYZ with row 0 at the
// top of the plot.
type imageGrid struct {
	width, height int
	at            func(x, y int) float64
}

func (g imageGrid) Dims() (c, r int)   { return g.width, g.height }
func (g imageGrid) Z(c, r int) float64 { return g.at(c, g.height-1-r) }
func (g imageGrid) X(c int) float64    { return float64(c) }
func (g imageGrid) Y(r int) float64    { return float64(r) }

// flipY maps an image row coordinate to plot space.
func (g imageGrid) flipY(y float64) float64 { return float64(g.height-1) - y }

func depthGrid(f *l1frames.DepthFrame) imageGrid {
	return imageGrid{width: f.Width, height: f.Height, at: f.At}
}

func maskGrid(m *l4perception.Mask) imageGrid {
	return imageGrid{width: m.Width, height: m.Height, at: func(x, y int) float64 {
		return float64(m.At(x, y))
	}}
}

// layerGrid selects one intermediate product of the bundle.
func layerGrid(b *pipeline.RenderBundle, layer string) (imageGrid, error) {
	var f *l1frames.DepthFrame
	switch layer {
	case LayerRaw:
		f = b.Raw
	case LayerCorrected, "":
		f = b.Corrected
	case LayerBackground:
		if b.Background != nil {
			f = b.Background.Frame
		}
	case LayerResidual:
		f = b.Residual
	case LayerMask:
		if b.Mask == nil {
			return imageGrid{}, fmt.Errorf("layer %q not available", layer)
		}
		return maskGrid(b.Mask), nil
	default:
		return imageGrid{}, fmt.Errorf("unknown layer %q", layer)
	}
	if f == nil {
		return imageGrid{}, fmt.Errorf("layer %q not available", layer)
	}
	return depthGrid(f), nil
}

// renderFramePNG draws grid as a heat map with boxes outlined on top.
func renderFramePNG(g imageGrid, boxes []l4perception.Box, title string) ([]byte, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row (flipped)"

	hm := plotter.NewHeatMap(g, palette.Heat(64, 1))
	if math.IsNaN(hm.Min) || math.IsNaN(hm.Max) || hm.Min >= hm.Max {
		// Flat images still need a non-empty colour range.
		hm.Min, hm.Max = 0, 1
	}
	p.Add(hm)

	for i, b := range boxes {
		x0, x1 := float64(b.X)-0.5, float64(b.X+b.W)-0.5
		y0, y1 := g.flipY(float64(b.Y+b.H)-0.5), g.flipY(float64(b.Y)-0.5)
		outline, err := plotter.NewLine(plotter.XYs{
			{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0},
		})
		if err != nil {
			return nil, fmt.Errorf("box %d outline: %w", i, err)
		}
		outline.Color = boxColor
		outline.Width = vg.Points(1.5)
		p.Add(outline)
		p.Legend.Add(fmt.Sprintf("box %d %s", i+1, b), outline)
	}
	p.Legend.Top = true

	wt, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("create png writer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// handleFramePNG renders one layer of the latest iteration.
// Query params:
//   - layer (optional): raw, corrected (default), background, residual, mask
func (m *Monitor) handleFramePNG(w http.ResponseWriter, r *http.Request) {
	b := m.Latest()
	if b == nil {
		httputil.NotFound(w, "no frame processed yet")
		return
	}
	layer := r.URL.Query().Get("layer")
	g, err := layerGrid(b, layer)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if layer == "" {
		layer = LayerCorrected
	}
	title := fmt.Sprintf("frame %d %s (%d detection(s))", b.Record.FrameID, layer, b.Record.Count())
	img, err := renderFramePNG(g, b.Boxes, title)
	if err != nil {
		opsf("frame plot failed: %v", err)
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteBody(w, "image/png", img)
}
