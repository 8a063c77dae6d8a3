// Package checkpoint persists per-shard stream progress and the log of
// records skipped because of permanent failures.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/search-agent/internal/database"
	"github.com/helixir/search-agent/internal/observability"
)

// Checkpoint is the highest fully processed position of one stream shard.
type Checkpoint struct {
	Stream    string    `json:"stream"`
	Shard     int       `json:"shard"`
	Position  int64     `json:"position"`
	OwnerID   string    `json:"owner_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Failure records a stream record that was checkpointed past without being
// indexed.
type Failure struct {
	ID        int64     `json:"id"`
	Stream    string    `json:"stream"`
	Shard     int       `json:"shard"`
	Position  int64     `json:"position"`
	PaperID   string    `json:"paper_id,omitempty"`
	Operation string    `json:"operation"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// PgStore is the PostgreSQL checkpoint store for one stream. Each shard row
// is written only by the worker that owns the shard.
type PgStore struct {
	db      database.DBTX
	stream  string
	ownerID string
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewPgStore creates a checkpoint store bound to stream. ownerID identifies
// this consumer instance in the rows it writes.
func NewPgStore(db database.DBTX, stream, ownerID string, metrics *observability.Metrics, logger zerolog.Logger) *PgStore {
	return &PgStore{
		db:      db,
		stream:  stream,
		ownerID: ownerID,
		metrics: metrics,
		logger:  logger.With().Str("component", "checkpoint").Str("stream", stream).Logger(),
	}
}

// Stream returns the stream the store is bound to.
func (s *PgStore) Stream() string {
	return s.stream
}

// Advance records position as processed for shard. A position at or below
// the stored one leaves the row untouched, so checkpoints never move back.
func (s *PgStore) Advance(ctx context.Context, shard int, position int64) error {
	if shard < 0 || position < 0 {
		return fmt.Errorf("invalid checkpoint shard=%d position=%d", shard, position)
	}

	query := `
		INSERT INTO stream_checkpoints (stream_name, shard_id, position, owner_id, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (stream_name, shard_id) DO UPDATE
		SET position = EXCLUDED.position, owner_id = EXCLUDED.owner_id, updated_at = NOW()
		WHERE stream_checkpoints.position < EXCLUDED.position`

	tag, err := s.db.Exec(ctx, query, s.stream, shard, position, s.ownerID)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint for shard %d: %w", shard, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug().Int("shard", shard).Int64("position", position).Msg("checkpoint already at or beyond position")
		return nil
	}

	s.metrics.RecordCheckpoint(s.stream, shard, position)
	return nil
}

// Position returns the stored position for shard. The boolean is false when
// the shard has never been checkpointed.
func (s *PgStore) Position(ctx context.Context, shard int) (int64, bool, error) {
	query := `SELECT position FROM stream_checkpoints WHERE stream_name = $1 AND shard_id = $2`

	var position int64
	if err := s.db.QueryRow(ctx, query, s.stream, shard).Scan(&position); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read checkpoint for shard %d: %w", shard, err)
	}
	return position, true, nil
}

// List returns every checkpoint of the stream ordered by shard.
func (s *PgStore) List(ctx context.Context) ([]Checkpoint, error) {
	query := `
		SELECT stream_name, shard_id, position, owner_id, updated_at
		FROM stream_checkpoints
		WHERE stream_name = $1
		ORDER BY shard_id`

	rows, err := s.db.Query(ctx, query, s.stream)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []Checkpoint{}
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.Stream, &cp.Shard, &cp.Position, &cp.OwnerID, &cp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}
	return checkpoints, nil
}

// RecordFailure appends a permanently failed record to the failure log.
func (s *PgStore) RecordFailure(ctx context.Context, f Failure) error {
	query := `
		INSERT INTO document_failures (stream_name, shard_id, position, paper_id, operation, reason)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.db.Exec(ctx, query, s.stream, f.Shard, f.Position, f.PaperID, f.Operation, f.Reason); err != nil {
		return fmt.Errorf("failed to record document failure: %w", err)
	}
	return nil
}

// ListFailures returns the most recent failures of the stream, newest first.
func (s *PgStore) ListFailures(ctx context.Context, limit int) ([]Failure, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, stream_name, shard_id, position, paper_id, operation, reason, created_at
		FROM document_failures
		WHERE stream_name = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, s.stream, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list document failures: %w", err)
	}
	defer rows.Close()

	failures := []Failure{}
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.ID, &f.Stream, &f.Shard, &f.Position, &f.PaperID, &f.Operation, &f.Reason, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document failures: %w", err)
	}
	return failures, nil
}
