// Package prometheus exposes goIdentity engine metrics as a
// prometheus.Collector.
//
// Register an [Exporter] on any registry, or mount [Exporter.Handler] which
// uses a private registry. Counter names follow goidentity_*_total and the
// latency histograms end in _seconds.
package prometheus
