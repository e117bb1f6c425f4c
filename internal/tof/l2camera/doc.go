// Package l2camera owns Layer 2 (Camera) of the time-of-flight data model.
//
// Responsibilities: pinhole intrinsics derived from the field of view, lens
// undistortion of depth frames, and conversion between pixel coordinates,
// viewing rays and 3-D points in the camera frame.
// Key types: Intrinsics.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
//
// The default build undistorts in pure Go. Building with -tags withcv
// delegates to OpenCV through gocv.
package l2camera
