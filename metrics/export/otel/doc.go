// Package otel publishes goIdentity engine metrics through an
// OpenTelemetry meter.
//
// Counters become Int64ObservableCounter instruments. Each latency
// histogram becomes one cumulative gauge per bucket plus _count and _sum
// gauges. A single callback reads [goIdentity.Engine.MetricsSnapshot] per
// collection. The caller owns the MeterProvider.
package otel
