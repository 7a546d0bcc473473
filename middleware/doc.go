// Package middleware provides composable middleware around job handlers.
//
// A [Middleware] wraps one attempt of a job. Middleware are composed with
// [Chain], the first one being the outermost wrapper:
//
//	// recover → logging → timeout → handler
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Logging(logger),
//	    middleware.Timeout(),
//	)
//
// # Built-in Middleware
//
//   - [Recover]: turns handler panics into retryable failures
//   - [Logging]: logs each attempt and its outcome
//   - [Timeout]: cancels the attempt at the job's Timeout
//   - [Tracing]: wraps the attempt in an OpenTelemetry span
//   - [Metrics]: records attempt duration and outcome counters
//
// [Default] is Recover plus Timeout, installed by the worker pool when no
// chain is configured. A custom chain should keep both.
package middleware
