package pipeline

import (
	"context"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
	"github.com/banshee-data/presence.report/internal/tof/l3grid"
	"github.com/banshee-data/presence.report/internal/tof/l4perception"
	"github.com/banshee-data/presence.report/internal/tof/l5tracks"
)

// RecordSink persists tracking records. Implementations must be
// append-only: a record once written is never rewritten.
type RecordSink interface {
	WriteRecord(ctx context.Context, rec l5tracks.Record) error
}

// RenderSink receives the intermediate products of each completed
// iteration for display. Render must not modify the bundle and should
// return quickly; the driver calls it synchronously.
type RenderSink interface {
	Render(b *RenderBundle)
}

// RenderBundle is the per-iteration hand-off to rendering consumers.
type RenderBundle struct {
	Raw        *l1frames.DepthFrame
	Corrected  *l1frames.DepthFrame
	Background *l3grid.BackgroundMap
	Residual   *l1frames.DepthFrame
	Mask       *l4perception.Mask
	Boxes      []l4perception.Box
	Angles     []l5tracks.Angles
	MeanAngles *l5tracks.Angles
	Record     l5tracks.Record
}

// RecordSinkFunc adapts a function to RecordSink.
type RecordSinkFunc func(ctx context.Context, rec l5tracks.Record) error

// WriteRecord calls f.
func (f RecordSinkFunc) WriteRecord(ctx context.Context, rec l5tracks.Record) error {
	return f(ctx, rec)
}
