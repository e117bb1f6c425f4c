// Package l4perception owns Layer 4 (Perception) of the time-of-flight data
// model.
//
// Responsibilities: two-class segmentation of the denoised residual into a
// binary mask, connected-component labelling of that mask and bounding-box
// extraction for the external regions.
// Key types: Mask, Segmenter, Box, Component.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5+.
// No SQL/database code is allowed in this package.
package l4perception
