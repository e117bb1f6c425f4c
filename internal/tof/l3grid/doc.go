// Package l3grid owns Layer 3 (Grid) of the time-of-flight data model.
//
// Responsibilities: the per-pixel median background model built from a
// window of recent frames, and foreground extraction (residual against the
// background, morphological opening and the relative intensity floor).
// Key types: Estimator, BackgroundMap, DenoiseParams.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+.
// No SQL/database code is allowed in this package.
package l3grid
