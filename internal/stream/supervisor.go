package stream

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/search-agent/internal/observability"
)

// Start positions for shards without a checkpoint.
const (
	StartFirst = "first"
	StartLast  = "last"
)

// StartOffset converts a start position name to a Kafka offset.
func StartOffset(position string) int64 {
	if position == StartLast {
		return kafka.LastOffset
	}
	return kafka.FirstOffset
}

// Config holds configuration for the stream supervisor.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic carries the metadata-available notifications.
	Topic string
	// Shards are the partitions to consume. Empty means all of them.
	Shards []int
	// StartPosition applies to shards without a checkpoint (first, last).
	StartPosition string
	// MinBytes, MaxBytes and MaxWait tune reader fetches.
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
	// RecordsPerSecond throttles each shard worker.
	RecordsPerSecond float64
	// RetryInitialInterval and RetryMaxInterval bound redelivery backoff.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// ReaderFactory opens a reader for one shard.
type ReaderFactory func(cfg Config, shard int) Reader

// ShardDiscovery lists the partitions of a topic.
type ShardDiscovery func(ctx context.Context, brokers []string, topic string) ([]int, error)

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithReaderFactory replaces the Kafka reader constructor.
func WithReaderFactory(f ReaderFactory) SupervisorOption {
	return func(s *Supervisor) {
		s.newReader = f
	}
}

// WithShardDiscovery replaces partition discovery.
func WithShardDiscovery(d ShardDiscovery) SupervisorOption {
	return func(s *Supervisor) {
		s.discover = d
	}
}

// Supervisor runs one ShardWorker per shard. The first worker that fails
// stops the others.
type Supervisor struct {
	cfg       Config
	handler   Handler
	positions PositionStore
	retryable func(error) bool
	newReader ReaderFactory
	discover  ShardDiscovery
	metrics   *observability.Metrics
	base      zerolog.Logger
	logger    zerolog.Logger
}

// NewSupervisor creates a supervisor.
func NewSupervisor(
	cfg Config,
	handler Handler,
	positions PositionStore,
	retryable func(error) bool,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	opts ...SupervisorOption,
) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		handler:   handler,
		positions: positions,
		retryable: retryable,
		newReader: NewKafkaReader,
		discover:  DiscoverShards,
		metrics:   metrics,
		base:      logger,
		logger:    logger.With().Str("component", "stream_supervisor").Str("topic", cfg.Topic).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run consumes every configured shard until ctx is cancelled or a worker
// fails.
func (s *Supervisor) Run(ctx context.Context) error {
	shards := s.cfg.Shards
	if len(shards) == 0 {
		discovered, err := s.discover(ctx, s.cfg.Brokers, s.cfg.Topic)
		if err != nil {
			return err
		}
		shards = discovered
	}
	s.logger.Info().Ints("shards", shards).Msg("starting stream consumer")

	g, gctx := errgroup.WithContext(ctx)
	for _, shard := range shards {
		worker := NewShardWorker(WorkerConfig{
			Shard:                shard,
			StartOffset:          StartOffset(s.cfg.StartPosition),
			RecordsPerSecond:     s.cfg.RecordsPerSecond,
			RetryInitialInterval: s.cfg.RetryInitialInterval,
			RetryMaxInterval:     s.cfg.RetryMaxInterval,
		}, s.newReader(s.cfg, shard), s.handler, s.positions, s.retryable, s.metrics, s.base)

		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("stream consumer stopped")
		return err
	}
	s.logger.Info().Msg("stream consumer stopped")
	return nil
}

// NewKafkaReader opens a reader bound to a single partition. Offsets are
// managed by the checkpoint store, so no consumer group is used.
func NewKafkaReader(cfg Config, shard int) Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:   cfg.Brokers,
		Topic:     cfg.Topic,
		Partition: shard,
		MinBytes:  cfg.MinBytes,
		MaxBytes:  cfg.MaxBytes,
		MaxWait:   cfg.MaxWait,
	})
}

// DiscoverShards returns the sorted partition ids of topic, asking each
// broker in turn until one answers.
func DiscoverShards(ctx context.Context, brokers []string, topic string) ([]int, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("discovering partitions of %s: no brokers configured", topic)
	}

	var lastErr error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		partitions, err := conn.ReadPartitions(topic)
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}

		shards := make([]int, 0, len(partitions))
		for _, p := range partitions {
			shards = append(shards, p.ID)
		}
		if len(shards) == 0 {
			return nil, fmt.Errorf("topic %s has no partitions", topic)
		}
		slices.Sort(shards)
		return shards, nil
	}
	return nil, fmt.Errorf("discovering partitions of %s: %w", topic, lastErr)
}
