package agent

import (
	"context"

	"github.com/helixir/search-agent/internal/checkpoint"
	"github.com/helixir/search-agent/internal/domain"
)

// MetadataClient retrieves paper metadata. Errors should wrap the failure
// classes of the metadata package so they can be classified.
type MetadataClient interface {
	// Retrieve returns the metadata of the latest version of a paper.
	Retrieve(ctx context.Context, paperID string) (*domain.DocMeta, error)
	// BulkRetrieve returns the metadata of every version of a paper.
	BulkRetrieve(ctx context.Context, paperID string) ([]*domain.DocMeta, error)
}

// IndexClient writes search documents. Every error it returns is treated as
// transient.
type IndexClient interface {
	AddDocument(ctx context.Context, doc *domain.Document) error
	BulkAddDocuments(ctx context.Context, docs []*domain.Document) error
}

// DocumentTransform builds the search document for one version.
type DocumentTransform interface {
	ToSearchDocument(meta *domain.DocMeta, agg domain.Aggregation) (*domain.Document, error)
}

// Checkpointer records the last fully processed position of a shard. An
// error from Advance stops the shard worker.
type Checkpointer interface {
	Advance(ctx context.Context, shard int, position int64) error
}

// FailureRecorder keeps a log of records skipped because of permanent
// failures.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, f checkpoint.Failure) error
}
