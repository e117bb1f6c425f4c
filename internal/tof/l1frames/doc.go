// Package l1frames owns Layer 1 (Frames) of the time-of-flight data model.
//
// Responsibilities: the DepthFrame grid type, enumeration of the frame
// directory written by the acquisition process, and decoding of raw 16-bit
// sensor readings into metres through the device depth scale.
// Key types: DepthFrame, RawFrame, FrameID, DirSource.
//
// Dependency rule: L1 depends on nothing above it. Acquisition from the
// sensor itself lives outside this module.
package l1frames
