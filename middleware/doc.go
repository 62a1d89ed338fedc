// Package middleware provides composable middleware around redelivery.
//
// A [Middleware] wraps the call that hands a sequence's front letter back
// to its handler. The queue always runs [Recover], [Attach] and [Timeout];
// user middleware sit between them.
//
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Tracing())
//
// # Built-in Middleware
//
//   - [Logging] logs each attempt and its outcome
//   - [Recover] turns panics into a *PanicError (cause kind "panic")
//   - [Timeout] bounds the handler by Delivery.Timeout
//   - [Tracing] wraps the attempt in an OpenTelemetry span
//   - [Metrics] records attempt duration and outcome counters
//   - [Attach] exposes the [Delivery] to the handler via [DeliveryFrom]
package middleware
