package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	shardKey     contextKey = "shard"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithShard marks the context as belonging to the worker of a stream shard.
func WithShard(ctx context.Context, shard int) context.Context {
	return context.WithValue(ctx, shardKey, shard)
}

// ShardFromContext retrieves the shard from context.
// The boolean is false when the context is not bound to a shard.
func ShardFromContext(ctx context.Context) (int, bool) {
	if v := ctx.Value(shardKey); v != nil {
		if shard, ok := v.(int); ok {
			return shard, true
		}
	}
	return 0, false
}

// EnrichLogger adds any request ID or shard found in ctx to logger.
func EnrichLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	lc := logger.With()
	if id := RequestIDFromContext(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	if shard, ok := ShardFromContext(ctx); ok {
		lc = lc.Int("shard", shard)
	}
	return lc.Logger()
}
