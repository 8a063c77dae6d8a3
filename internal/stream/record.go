// Package stream consumes the metadata change stream. Each shard (a Kafka
// partition) is read by one worker that hands records to a Handler strictly
// in delivery order.
package stream

import (
	"context"
	"time"
)

// Record is one notification read from a shard.
type Record struct {
	// Shard is the partition the record was read from.
	Shard int
	// Position is the record's offset within the shard.
	Position int64
	// Key is the partition key set by the producer.
	Key []byte
	// Data is the raw payload.
	Data []byte
	// Time is the producer timestamp.
	Time time.Time
}

// Handler processes records. An error returned by Handle means the record
// was not checkpointed.
type Handler interface {
	Handle(ctx context.Context, rec Record) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, rec Record) error

// Handle calls f(ctx, rec).
func (f HandlerFunc) Handle(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}
