// Package observability provides an OpenTelemetry metrics extension for
// jobq. MetricsExtension implements the lifecycle hooks and counts every
// event per queue, along with queue wait and run time histograms.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
