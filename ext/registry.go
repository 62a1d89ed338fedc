package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/letter"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type letterEnqueuedEntry struct {
	name string
	hook LetterEnqueued
}

type letterDivertedEntry struct {
	name string
	hook LetterDiverted
}

type letterEvictedEntry struct {
	name string
	hook LetterEvicted
}

type retryFailedEntry struct {
	name string
	hook RetryFailed
}

type letterClearedEntry struct {
	name string
	hook LetterCleared
}

type sequenceClearedEntry struct {
	name string
	hook SequenceCleared
}

type capacityRejectedEntry struct {
	name string
	hook CapacityRejected
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. Hooks are type-cached at registration so emit calls iterate
// only over extensions that implement the relevant hook.
//
// Register all extensions before the queue starts; emitting is safe for
// concurrent use, registering is not.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	letterEnqueued   []letterEnqueuedEntry
	letterDiverted   []letterDivertedEntry
	letterEvicted    []letterEvictedEntry
	retryFailed      []retryFailedEntry
	letterCleared    []letterClearedEntry
	sequenceCleared  []sequenceClearedEntry
	capacityRejected []capacityRejectedEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(LetterEnqueued); ok {
		r.letterEnqueued = append(r.letterEnqueued, letterEnqueuedEntry{name, h})
	}
	if h, ok := e.(LetterDiverted); ok {
		r.letterDiverted = append(r.letterDiverted, letterDivertedEntry{name, h})
	}
	if h, ok := e.(LetterEvicted); ok {
		r.letterEvicted = append(r.letterEvicted, letterEvictedEntry{name, h})
	}
	if h, ok := e.(RetryFailed); ok {
		r.retryFailed = append(r.retryFailed, retryFailedEntry{name, h})
	}
	if h, ok := e.(LetterCleared); ok {
		r.letterCleared = append(r.letterCleared, letterClearedEntry{name, h})
	}
	if h, ok := e.(SequenceCleared); ok {
		r.sequenceCleared = append(r.sequenceCleared, sequenceClearedEntry{name, h})
	}
	if h, ok := e.(CapacityRejected); ok {
		r.capacityRejected = append(r.capacityRejected, capacityRejectedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Letter event emitters
// ──────────────────────────────────────────────────

// EmitLetterEnqueued notifies all extensions that implement LetterEnqueued.
func (r *Registry) EmitLetterEnqueued(ctx context.Context, l *letter.Letter) {
	for _, e := range r.letterEnqueued {
		if err := e.hook.OnLetterEnqueued(ctx, l); err != nil {
			r.logHookError("OnLetterEnqueued", e.name, err)
		}
	}
}

// EmitLetterDiverted notifies all extensions that implement LetterDiverted.
func (r *Registry) EmitLetterDiverted(ctx context.Context, l *letter.Letter) {
	for _, e := range r.letterDiverted {
		if err := e.hook.OnLetterDiverted(ctx, l); err != nil {
			r.logHookError("OnLetterDiverted", e.name, err)
		}
	}
}

// EmitLetterEvicted notifies all extensions that implement LetterEvicted.
func (r *Registry) EmitLetterEvicted(ctx context.Context, l *letter.Letter, elapsed time.Duration) {
	for _, e := range r.letterEvicted {
		if err := e.hook.OnLetterEvicted(ctx, l, elapsed); err != nil {
			r.logHookError("OnLetterEvicted", e.name, err)
		}
	}
}

// EmitRetryFailed notifies all extensions that implement RetryFailed.
func (r *Registry) EmitRetryFailed(ctx context.Context, l *letter.Letter) {
	for _, e := range r.retryFailed {
		if err := e.hook.OnRetryFailed(ctx, l); err != nil {
			r.logHookError("OnRetryFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Administrative event emitters
// ──────────────────────────────────────────────────

// EmitLetterCleared notifies all extensions that implement LetterCleared.
func (r *Registry) EmitLetterCleared(ctx context.Context, l *letter.Letter) {
	for _, e := range r.letterCleared {
		if err := e.hook.OnLetterCleared(ctx, l); err != nil {
			r.logHookError("OnLetterCleared", e.name, err)
		}
	}
}

// EmitSequenceCleared notifies all extensions that implement SequenceCleared.
func (r *Registry) EmitSequenceCleared(ctx context.Context, sequenceID string, removed int) {
	for _, e := range r.sequenceCleared {
		if err := e.hook.OnSequenceCleared(ctx, sequenceID, removed); err != nil {
			r.logHookError("OnSequenceCleared", e.name, err)
		}
	}
}

// EmitCapacityRejected notifies all extensions that implement CapacityRejected.
func (r *Registry) EmitCapacityRejected(ctx context.Context, sequenceID string, reason sdlq.CapacityReason) {
	for _, e := range r.capacityRejected {
		if err := e.hook.OnCapacityRejected(ctx, sequenceID, reason); err != nil {
			r.logHookError("OnCapacityRejected", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors never reach the queue.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
