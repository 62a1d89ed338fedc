// Package ext defines the extension system for sdlq.
//
// Extensions are notified of queue lifecycle events and can react to them,
// for example by recording metrics or paging an operator when a sequence
// keeps failing.
//
// # Implementing an Extension
//
//	type Pager struct{}
//
//	func (p *Pager) Name() string { return "pager" }
//
//	func (p *Pager) OnRetryFailed(ctx context.Context, l *letter.Letter) error {
//	    if l.Diagnostics.Attempts() >= 10 {
//	        return page(ctx, l.SequenceID)
//	    }
//	    return nil
//	}
//
// # Letter Hooks
//
//   - [LetterEnqueued] a letter was parked
//   - [LetterDiverted] a message was parked behind a blocked sequence
//   - [LetterEvicted] a letter was redelivered successfully
//   - [RetryFailed] a redelivery attempt failed
//
// # Administrative Hooks
//
//   - [LetterCleared], [SequenceCleared] an operator removed letters
//   - [CapacityRejected] an enqueue hit a capacity bound
//   - [Shutdown] the engine is stopping
//
// The [Registry] fans out each event to every registered extension that
// implements the hook. Hook errors are logged and never propagated.
package ext
