// Package engine wires the sdlq subsystems together: the letter store, the
// queue core, the retry scheduler, the middleware chain and the extension
// registry. It also owns the inbound dispatch path that keeps a sequence
// in order while its front is parked.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/backoff"
	"github.com/xraph/sdlq/dlq"
	"github.com/xraph/sdlq/ext"
	"github.com/xraph/sdlq/letter"
	mw "github.com/xraph/sdlq/middleware"
	"github.com/xraph/sdlq/observability"
	"github.com/xraph/sdlq/scheduler"
	"github.com/xraph/sdlq/store"
	"github.com/xraph/sdlq/store/driver"
	"github.com/xraph/sdlq/transform"
)

// Resolver derives the sequence a message belongs to, typically its
// aggregate id.
type Resolver func(msg letter.Message) (string, error)

// MetadataResolver resolves the sequence from a metadata key.
func MetadataResolver(key string) Resolver {
	return func(msg letter.Message) (string, error) {
		seq := msg.Metadata[key]
		if seq == "" {
			return "", fmt.Errorf("%w: metadata %q is empty", sdlq.ErrInvalidSequenceID, key)
		}
		return seq, nil
	}
}

// Source is an inbound transport. Run delivers messages to handle until
// ctx is done. A message whose handle call returns an error must not be
// acknowledged, unless the error wraps sdlq.ErrInvalidSequenceID: such a
// message can never be accepted and the source may skip it.
type Source interface {
	Name() string
	Run(ctx context.Context, handle func(context.Context, letter.Message) error) error
}

// Engine connects inbound messages, the queue and the retry scheduler.
// Use Build to create one.
type Engine struct {
	cfg        sdlq.Config
	store      store.Store
	ownsStore  bool
	queue      *dlq.Queue
	scheduler  *scheduler.Scheduler
	handler    dlq.Handler
	resolve    Resolver
	first      mw.Middleware
	extensions *ext.Registry
	sources    []Source
	logger     *slog.Logger

	mws       []mw.Middleware
	exts      []ext.Extension
	transform transform.Func
	enricher  letter.Enricher
	strategy  backoff.Strategy

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces sdlq.DefaultConfig().
func WithConfig(cfg sdlq.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithStore uses s instead of opening the store named in the config. The
// caller keeps ownership of s and must have migrated it.
func WithStore(s store.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware adds middleware to the redelivery chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithTransform sets the upcaster applied to letters before redelivery.
func WithTransform(fn transform.Func) Option {
	return func(eng *Engine) { eng.transform = fn }
}

// WithEnricher replaces the default diagnostics enricher.
func WithEnricher(e letter.Enricher) Option {
	return func(eng *Engine) { eng.enricher = e }
}

// WithBackoff overrides the retry policy named in the config.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.strategy = b }
}

// WithSource adds an inbound transport run by Run.
func WithSource(src Source) Option {
	return func(eng *Engine) { eng.sources = append(eng.sources, src) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build assembles an Engine. Letters that fail h are parked in the queue
// under the sequence chosen by resolve and redelivered to h by the
// scheduler.
func Build(ctx context.Context, h dlq.Handler, resolve Resolver, opts ...Option) (*Engine, error) {
	eng := &Engine{
		cfg:     sdlq.DefaultConfig(),
		handler: h,
		resolve: resolve,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if h == nil || resolve == nil {
		return nil, fmt.Errorf("%w: engine needs a handler and a resolver", sdlq.ErrInvalidConfig)
	}
	if err := eng.cfg.Validate(); err != nil {
		return nil, err
	}

	if eng.store == nil {
		s, err := driver.Open(ctx, eng.cfg.Store, eng.logger)
		if err != nil {
			return nil, err
		}
		eng.store = s
		eng.ownsStore = true
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/sdlq"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/sdlq"))
	} else {
		metricsMw = mw.Metrics()
	}

	// The queue adds recover and attach outside and timeout inside.
	chain := []mw.Middleware{tracingMw, metricsMw, mw.Logging(eng.logger)}
	chain = append(chain, eng.mws...)

	qopts := []dlq.Option{
		dlq.WithConfig(eng.cfg),
		dlq.WithLogger(eng.logger),
		dlq.WithExtensions(eng.extensions),
		dlq.WithMiddleware(chain...),
	}
	if eng.transform != nil {
		qopts = append(qopts, dlq.WithTransform(eng.transform))
	}
	if eng.enricher != nil {
		qopts = append(qopts, dlq.WithEnricher(eng.enricher))
	}
	q, err := dlq.Open(ctx, eng.store, qopts...)
	if err != nil {
		eng.closeStore()
		return nil, err
	}
	eng.queue = q

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/sdlq/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter, q)
	} else {
		obsExt = observability.NewMetricsExtension(q)
	}
	eng.extensions.Register(obsExt)

	sopts := []scheduler.Option{
		scheduler.WithConfig(eng.cfg),
		scheduler.WithLogger(eng.logger),
	}
	if eng.strategy != nil {
		sopts = append(sopts, scheduler.WithStrategy(eng.strategy))
	}
	eng.scheduler, err = scheduler.New(q, h, sopts...)
	if err != nil {
		eng.closeStore()
		return nil, err
	}

	eng.first = mw.Chain(mw.Recover(eng.logger), mw.Attach(), mw.Timeout(eng.logger))
	return eng, nil
}

// Handle processes one inbound message. If its sequence is already blocked
// the message is parked behind the front without reaching the handler.
// Otherwise the handler runs; a failure parks the message with its cause.
//
// Handler failures are not returned. Handle only fails when the message
// could not be parked because of capacity or a store outage, in which case
// the transport must not acknowledge it and should retry. An unresolvable
// sequence wraps sdlq.ErrInvalidSequenceID and never succeeds on retry.
func (eng *Engine) Handle(ctx context.Context, msg letter.Message) error {
	seq, err := eng.resolve(msg)
	if err != nil {
		return fmt.Errorf("resolve sequence: %w", err)
	}

	if eng.queue.Contains(seq) {
		return eng.park(ctx, seq, msg, letter.Blocked(seq))
	}

	d := &mw.Delivery{
		SequenceID:      seq,
		ProcessingGroup: eng.cfg.ProcessingGroup,
		Message:         msg,
		Timeout:         eng.cfg.HandlerTimeout,
	}
	herr := eng.first(ctx, d, func(ctx context.Context) error {
		return eng.handler(ctx, msg)
	})
	if herr == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(herr, ctx.Err()) {
		return herr
	}

	eng.logger.Debug("handler failed, parking message",
		slog.String("sequence_id", seq),
		slog.String("error", herr.Error()),
	)
	return eng.park(ctx, seq, msg, letter.CauseFromError(herr))
}

func (eng *Engine) park(ctx context.Context, seq string, msg letter.Message, cause letter.Cause) error {
	if _, err := eng.queue.Enqueue(ctx, seq, msg, cause); err != nil {
		return err
	}
	eng.scheduler.Notify(seq)
	return nil
}

// Start starts the retry scheduler. Sources are only driven by Run.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.scheduler.Start(ctx)
}

// Stop stops the scheduler, notifies Shutdown extensions and closes the
// store if the engine opened it.
func (eng *Engine) Stop(ctx context.Context) error {
	err := eng.scheduler.Stop(ctx)
	eng.extensions.EmitShutdown(ctx)
	eng.closeStore()
	return err
}

// Run starts the scheduler and every source, and blocks until ctx is done
// or one of them fails. The scheduler drains in-flight evaluations within
// the configured shutdown timeout before Run returns.
func (eng *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.scheduler.Run(gctx)
	})
	for _, src := range eng.sources {
		g.Go(func() error {
			eng.logger.Info("source started", slog.String("source", src.Name()))
			if err := src.Run(gctx, eng.Handle); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("source %s: %w", src.Name(), err)
			}
			return nil
		})
	}

	err := g.Wait()
	eng.extensions.EmitShutdown(context.WithoutCancel(ctx))
	eng.closeStore()
	return err
}

func (eng *Engine) closeStore() {
	if !eng.ownsStore {
		return
	}
	if err := eng.store.Close(); err != nil {
		eng.logger.Warn("failed to close store", slog.String("error", err.Error()))
	}
}

// Queue returns the queue core for inspection and administration.
func (eng *Engine) Queue() *dlq.Queue { return eng.queue }

// Scheduler returns the retry scheduler.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.scheduler }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Store returns the letter store.
func (eng *Engine) Store() store.Store { return eng.store }
