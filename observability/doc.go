// Package observability provides an OpenTelemetry metrics extension that
// counts queue lifecycle events and exports queue size as gauges.
package observability
