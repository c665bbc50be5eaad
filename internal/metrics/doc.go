// Package metrics exposes Prometheus collectors for jarvisp.
//
// Each Metrics owns its own registry, so tests can create independent
// instances. A nil *Metrics is a valid no-op recorder, which lets components
// take metrics as an optional dependency.
package metrics
