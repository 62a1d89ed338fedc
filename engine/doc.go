// Package engine is the application-level entry point of sdlq.
//
// # Building an Engine
//
//	eng, err := engine.Build(ctx, handler, engine.MetadataResolver("aggregate_id"),
//	    engine.WithConfig(cfg),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithTransform(transform.Retype("order.v1", "order.v2")),
//	)
//
// Without [WithStore] the engine opens the backend named in
// cfg.Store, migrates it, and closes it on shutdown.
//
// # Dispatch
//
// Transports call [Engine.Handle] for every inbound message, or register
// as a [Source] and let [Engine.Run] drive them:
//
//	if err := eng.Handle(ctx, msg); err != nil {
//	    // not parked: do not acknowledge
//	}
//
// A message whose sequence already has a parked front is parked behind it
// with cause kind "sequence_blocked" and never reaches the handler out of
// order.
//
// # Options
//
//   - [WithConfig]: queue, scheduler and store configuration
//   - [WithStore]: use a caller-owned store
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the redelivery chain
//   - [WithTransform]: upcast letters before redelivery
//   - [WithBackoff]: override the retry policy
//   - [WithSource]: add an inbound transport
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
