// Package monitor is the HTTP debug surface of the tracker.
//
// Monitor implements pipeline.RenderSink: the driver hands it the products
// of every completed iteration and it keeps the latest bundle plus a short
// history of detection angles. Handlers expose them as JSON
// (/api/latest, /api/stats), an angle timeline chart (/debug/angles) and a
// heat map of any intermediate frame with the detected boxes drawn on top
// (/debug/frame.png).
//
// Dependency rule: monitor may depend on the layer packages and pipeline,
// never the other way round.
// No SQL/database code is allowed in this package.
package monitor
