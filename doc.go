// Package sdlq provides a sequenced dead letter queue for asynchronous
// event-processing pipelines.
//
// When a handler fails to process a message, the message is captured
// together with its failure cause and diagnostics. Messages are grouped
// into sequences (typically one per aggregate or entity id). A failed
// message blocks every later message of the same sequence, while other
// sequences keep flowing. A retry scheduler redelivers blocked sequences
// front-to-back with backoff until they drain.
//
// # Quick Start
//
//	cfg, err := sdlq.LoadConfig("sdlq.yaml")
//	eng, err := engine.Build(ctx, handler, engine.MetadataResolver("aggregate_id"),
//	    engine.WithConfig(cfg),
//	)
//	go eng.Run(ctx)
//	err = eng.Handle(ctx, msg)
//
// # Architecture
//
// The dlq package holds the queue core. It owns an index of sequences
// keyed by id, each guarding its own letters, and persists every letter
// through a letter.Store before acknowledging. Backends live under
// store/: memory, pebble, sqlite, postgres, bun, redis and mongo.
//
// Letter IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers such as "ltr_01h2xcejqtf2nbrexx3vqjhp41".
package sdlq
