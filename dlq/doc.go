// Package dlq implements the sequenced dead letter queue.
//
// A message whose handler failed is parked as a [letter.Letter] behind its
// sequence. While a sequence holds letters it is blocked: later messages
// of the same sequence must be parked too (see [Queue.Contains]) so they
// are never processed ahead of the failed one. Other sequences are not
// affected.
//
// [Queue.Evaluate] redelivers only the front letter of a sequence. On
// success the letter is evicted and the next front is tried in the same
// call, up to a per-call budget. On failure the letter's cause and
// diagnostics are rewritten in one store write and the sequence stays
// blocked.
//
//	q, err := dlq.Open(ctx, store, dlq.WithConfig(cfg), dlq.WithLogger(logger))
//	if err != nil { ... }
//
//	// In the consumer, after the handler failed:
//	q.Enqueue(ctx, orderID, msg, letter.CauseFromError(err))
//
//	// Later, usually from the scheduler:
//	out, err := q.Evaluate(ctx, orderID, handle)
//
// # Concurrency
//
// Each sequence has its own lock, held across that sequence's store I/O.
// The sequence registry lock is never held across I/O, so unrelated
// sequences never wait on each other. Size, SequenceSize and Contains
// read an in-memory index and never touch the store.
package dlq
