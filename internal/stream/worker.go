package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/helixir/search-agent/internal/observability"
)

// Reader reads one shard. *kafka.Reader configured for a single partition
// satisfies it.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	SetOffset(offset int64) error
	Close() error
}

// PositionStore returns the checkpointed position of a shard. The boolean is
// false when the shard has never been checkpointed.
type PositionStore interface {
	Position(ctx context.Context, shard int) (int64, bool, error)
}

// WorkerConfig holds settings for a ShardWorker.
type WorkerConfig struct {
	// Shard is the partition consumed by the worker.
	Shard int
	// StartOffset is used when the shard has no checkpoint
	// (kafka.FirstOffset or kafka.LastOffset).
	StartOffset int64
	// RecordsPerSecond throttles consumption. Zero disables throttling.
	RecordsPerSecond float64
	// RetryInitialInterval is the first redelivery delay.
	RetryInitialInterval time.Duration
	// RetryMaxInterval caps the redelivery delay.
	RetryMaxInterval time.Duration
}

// ShardWorker feeds the records of one shard to a Handler in order. A record
// whose handling fails with a retryable error is redelivered with
// exponential backoff until it succeeds; any other error stops the worker.
type ShardWorker struct {
	cfg       WorkerConfig
	reader    Reader
	handler   Handler
	positions PositionStore
	retryable func(error) bool
	limiter   *rate.Limiter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewShardWorker creates a worker. retryable decides which handler errors
// are redelivered; nil treats every error as fatal.
func NewShardWorker(
	cfg WorkerConfig,
	reader Reader,
	handler Handler,
	positions PositionStore,
	retryable func(error) bool,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ShardWorker {
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = time.Second
	}
	if cfg.RetryMaxInterval < cfg.RetryInitialInterval {
		cfg.RetryMaxInterval = cfg.RetryInitialInterval
	}
	if retryable == nil {
		retryable = func(error) bool { return false }
	}

	var limiter *rate.Limiter
	if cfg.RecordsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RecordsPerSecond), 1)
	}

	return &ShardWorker{
		cfg:       cfg,
		reader:    reader,
		handler:   handler,
		positions: positions,
		retryable: retryable,
		limiter:   limiter,
		metrics:   metrics,
		logger:    logger.With().Str("component", "shard_worker").Int("shard", cfg.Shard).Logger(),
	}
}

// Run consumes the shard until ctx is cancelled, returning nil, or until a
// record fails fatally, returning that error. The reader is closed on return.
func (w *ShardWorker) Run(ctx context.Context) error {
	defer func() {
		if err := w.reader.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("failed to close shard reader")
		}
	}()

	offset, err := w.startOffset(ctx)
	if err != nil {
		return err
	}
	if err := w.reader.SetOffset(offset); err != nil {
		return fmt.Errorf("shard %d: setting offset %d: %w", w.cfg.Shard, offset, err)
	}
	w.logger.Info().Int64("offset", offset).Msg("starting shard worker")

	for {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return w.stopped(err)
			}
		}

		msg, err := w.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return w.stopped(err)
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("shard %d: reader closed: %w", w.cfg.Shard, err)
			}
			w.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		rec := Record{
			Shard:    w.cfg.Shard,
			Position: msg.Offset,
			Key:      msg.Key,
			Data:     msg.Value,
			Time:     msg.Time,
		}
		if err := w.deliver(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return w.stopped(err)
			}
			return fmt.Errorf("shard %d: record at position %d: %w", w.cfg.Shard, rec.Position, err)
		}
	}
}

func (w *ShardWorker) stopped(err error) error {
	w.logger.Info().AnErr("cause", err).Msg("shard worker stopped via context cancellation")
	return nil
}

// startOffset resumes after the checkpoint, or at the configured start
// position for a shard that has none.
func (w *ShardWorker) startOffset(ctx context.Context) (int64, error) {
	position, ok, err := w.positions.Position(ctx, w.cfg.Shard)
	if err != nil {
		return 0, fmt.Errorf("shard %d: reading checkpoint: %w", w.cfg.Shard, err)
	}
	if ok {
		return position + 1, nil
	}
	return w.cfg.StartOffset, nil
}

// deliver hands rec to the handler, redelivering it after retryable
// failures.
func (w *ShardWorker) deliver(ctx context.Context, rec Record) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryInitialInterval
	b.MaxInterval = w.cfg.RetryMaxInterval
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := w.handler.Handle(ctx, rec)
		if err == nil || w.retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		w.metrics.RecordRedelivery(w.cfg.Shard)
		w.logger.Warn().Err(err).
			Int64("position", rec.Position).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("record failed, redelivering")
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}
