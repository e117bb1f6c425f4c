// Package l5tracks owns Layer 5 (Tracks) of the time-of-flight data model.
//
// Responsibilities: projection of bounding boxes and masks to viewing
// angles, and assembly of the per-frame TrackingRecord with its fixed
// detection slots and legacy CSV rendering.
// Key types: Angles, Detection, Record.
//
// Dependency rule: L5 may depend on L1-L4, but never on the pipeline.
// No SQL/database code is allowed in this package.
package l5tracks
