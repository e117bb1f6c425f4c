// Package pipeline provides the frame-to-track driver that orchestrates
// processing stages from L1 Frames through L5 Tracks.
//
// This package is the composition root: it imports from layer packages
// (l1frames, l2camera, l3grid, l4perception, l5tracks) but none of those
// packages import pipeline/. Storage and monitoring adapters plug in
// through the RecordSink and RenderSink interfaces.
package pipeline
