// Package kafka feeds an sdlq engine from a Kafka topic.
//
// Each fetched record becomes a letter.Message and is handed to the
// engine. The offset is committed only once the engine has either
// processed or parked the message, so a record is never acknowledged while
// the queue is full or its store is down.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/xraph/sdlq"
	"github.com/xraph/sdlq/letter"
)

// Metadata keys set on every message.
const (
	MetaKey       = "kafka.key"
	MetaTopic     = "kafka.topic"
	MetaPartition = "kafka.partition"
	MetaOffset    = "kafka.offset"
)

// DefaultTypeHeader is the record header carrying the message type.
const DefaultTypeHeader = "type"

// Reader is the subset of *kafkago.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config selects the topic to consume.
type Config struct {
	Brokers []string
	Topic   string
	// GroupID enables consumer-group offset commits. Without it offsets
	// are never committed.
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) { c.logger = l }
}

// WithTypeHeader names the header read into letter.Message.Type.
func WithTypeHeader(name string) Option {
	return func(c *Consumer) { c.typeHeader = name }
}

// WithBreaker sets how many consecutive fetch failures open the breaker
// and how long it stays open.
func WithBreaker(failures uint32, openTimeout time.Duration) Option {
	return func(c *Consumer) {
		c.breakerFailures = failures
		c.breakerTimeout = openTimeout
	}
}

// WithRetryDelay sets the base delay between failed fetches and between
// attempts to hand a message to the engine.
func WithRetryDelay(base, maxDelay time.Duration) Option {
	return func(c *Consumer) {
		c.retryDelay = base
		c.maxRetryDelay = maxDelay
	}
}

// RejectFunc receives a record the engine can never accept, such as one
// whose sequence ID cannot be resolved. The record is committed afterwards.
type RejectFunc func(ctx context.Context, m kafkago.Message, err error)

// WithReject sets where rejected records go. By default they are logged
// and skipped.
func WithReject(fn RejectFunc) Option {
	return func(c *Consumer) { c.reject = fn }
}

// WithPermanent replaces the check that decides which handle errors are
// never worth retrying.
func WithPermanent(fn func(error) bool) Option {
	return func(c *Consumer) { c.permanent = fn }
}

// Permanent reports whether err means the message can never be accepted.
// It is the default for WithPermanent.
func Permanent(err error) bool {
	return errors.Is(err, sdlq.ErrInvalidSequenceID)
}

// Consumer reads one topic and implements engine.Source.
type Consumer struct {
	reader     Reader
	name       string
	commit     bool
	typeHeader string
	logger     *slog.Logger
	cb         *gobreaker.CircuitBreaker
	permanent  func(error) bool
	reject     RejectFunc

	breakerFailures uint32
	breakerTimeout  time.Duration
	retryDelay      time.Duration
	maxRetryDelay   time.Duration
}

// New creates a consumer backed by a kafka-go reader.
func New(cfg Config, opts ...Option) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("sdlq/kafka: brokers and topic are required")
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 10e3
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}

	c := newConsumer(nil, cfg.Topic, cfg.GroupID != "", opts...)
	c.reader = kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...any) {
			c.logger.Error("kafka reader error", slog.String("error", fmt.Sprintf(msg, args...)))
		}),
	})
	if cfg.GroupID == "" {
		c.logger.Warn("kafka group id is empty, offsets will not be committed",
			slog.String("topic", cfg.Topic))
	}
	return c, nil
}

// NewWithReader creates a consumer over an existing reader. commit reports
// whether the reader belongs to a consumer group.
func NewWithReader(r Reader, topic string, commit bool, opts ...Option) *Consumer {
	return newConsumer(r, topic, commit, opts...)
}

func newConsumer(r Reader, topic string, commit bool, opts ...Option) *Consumer {
	c := &Consumer{
		reader:          r,
		name:            "kafka:" + topic,
		commit:          commit,
		typeHeader:      DefaultTypeHeader,
		logger:          slog.Default(),
		permanent:       Permanent,
		breakerFailures: 5,
		breakerTimeout:  30 * time.Second,
		retryDelay:      time.Second,
		maxRetryDelay:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        c.name,
		MaxRequests: 1,
		Interval:    c.breakerTimeout,
		Timeout:     c.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("kafka fetch breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return c
}

// Name identifies the source in logs.
func (c *Consumer) Name() string { return c.name }

// Run fetches records until ctx is done, handing each to handle. A record
// is retried until handle accepts it or ctx ends. A record failing with a
// permanent error is handed to the reject func instead. Either way it is
// committed afterwards. Run closes the reader before returning.
func (c *Consumer) Run(ctx context.Context, handle func(context.Context, letter.Message) error) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("failed to close kafka reader", slog.String("error", err.Error()))
		}
	}()

	delay := c.retryDelay
	for {
		res, err := c.cb.Execute(func() (any, error) {
			return c.reader.FetchMessage(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to fetch kafka message",
				slog.String("source", c.name),
				slog.String("error", err.Error()),
			)
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			delay = min(2*delay, c.maxRetryDelay)
			continue
		}
		delay = c.retryDelay

		m := res.(kafkago.Message)
		if err := c.deliver(ctx, m, handle); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !c.permanent(err) {
				return fmt.Errorf("sdlq/kafka: deliver offset %d: %w", m.Offset, err)
			}
			c.rejected(ctx, m, err)
		}
		if c.commit {
			c.commitMessage(ctx, m)
		}
	}
}

// deliver retries handle until it accepts the message or fails permanently.
func (c *Consumer) deliver(ctx context.Context, m kafkago.Message, handle func(context.Context, letter.Message) error) error {
	msg := c.toMessage(m)
	return retry.Do(
		func() error { return handle(ctx, msg) },
		retry.Attempts(0),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(c.maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !c.permanent(err) }),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("message not accepted, retrying",
				slog.String("topic", m.Topic),
				slog.Int("partition", m.Partition),
				slog.Int64("offset", m.Offset),
				slog.Uint64("attempt", uint64(n+1)),
				slog.String("error", err.Error()),
			)
		}),
		retry.Context(ctx),
	)
}

func (c *Consumer) rejected(ctx context.Context, m kafkago.Message, err error) {
	c.logger.Error("kafka message rejected, skipping",
		slog.String("topic", m.Topic),
		slog.Int("partition", m.Partition),
		slog.Int64("offset", m.Offset),
		slog.String("key", string(m.Key)),
		slog.String("error", err.Error()),
	)
	if c.reject != nil {
		c.reject(ctx, m, err)
	}
}

func (c *Consumer) commitMessage(ctx context.Context, m kafkago.Message) {
	err := retry.Do(
		func() error { return c.reader.CommitMessages(ctx, m) },
		retry.Attempts(5),
		retry.Delay(c.retryDelay/2),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
	)
	if err != nil {
		c.logger.Error("failed to commit kafka message after retries",
			slog.String("topic", m.Topic),
			slog.Int("partition", m.Partition),
			slog.Int64("offset", m.Offset),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) toMessage(m kafkago.Message) letter.Message {
	msg := letter.Message{
		Payload: m.Value,
		Metadata: map[string]string{
			MetaKey:       string(m.Key),
			MetaTopic:     m.Topic,
			MetaPartition: strconv.Itoa(m.Partition),
			MetaOffset:    strconv.FormatInt(m.Offset, 10),
		},
	}
	for _, h := range m.Headers {
		if h.Key == c.typeHeader {
			msg.Type = string(h.Value)
			continue
		}
		msg.Metadata[h.Key] = string(h.Value)
	}
	return msg
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
