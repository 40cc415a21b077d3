// Package metric provides Prometheus metric registration for voiceorder
// components. Each component creates its own metrics in a newMetrics
// constructor and registers them through MetricsRegistry; a nil registry
// disables metrics without any call-site branching beyond a nil check.
package metric
