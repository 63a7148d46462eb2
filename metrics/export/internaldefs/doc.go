// Package internaldefs holds the exported metric names and bucket bounds
// shared by the Prometheus and OpenTelemetry exporters, so both expose the
// same series for the same engine counters.
package internaldefs
