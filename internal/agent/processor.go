// Package agent turns change-stream notifications into indexed search
// documents. The Processor reconciles every version of a changed paper,
// writes the resulting documents and decides, from the classification of any
// failure, whether the triggering record may be checkpointed.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/search-agent/internal/checkpoint"
	"github.com/helixir/search-agent/internal/domain"
	"github.com/helixir/search-agent/internal/metadata"
	"github.com/helixir/search-agent/internal/observability"
	"github.com/helixir/search-agent/internal/stream"
)

var errNoDocuments = errors.New("no documents to index")

// Config holds processor settings.
type Config struct {
	// MaxDocumentFailures is the number of permanent failures tolerated
	// before Handle refuses further records. Zero means unlimited.
	MaxDocumentFailures int
}

// Option configures a Processor.
type Option func(*Processor)

// WithFailureRecorder logs every permanently failed record to r.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(p *Processor) {
		p.failures = r
	}
}

// Processor handles stream records and administrative reindex requests.
// It is safe for concurrent use by several shard workers; each worker must
// deliver its own records in order.
type Processor struct {
	metadata     MetadataClient
	index        IndexClient
	transform    DocumentTransform
	checkpointer Checkpointer
	failures     FailureRecorder

	cfg     Config
	metrics *observability.Metrics
	logger  zerolog.Logger

	documentFailures atomic.Int64
}

// NewProcessor creates a Processor. checkpointer may be nil when the
// processor is only used for IndexPaper and IndexPapers.
func NewProcessor(
	metadataClient MetadataClient,
	indexClient IndexClient,
	transformer DocumentTransform,
	checkpointer Checkpointer,
	cfg Config,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	opts ...Option,
) *Processor {
	p := &Processor{
		metadata:     metadataClient,
		index:        indexClient,
		transform:    transformer,
		checkpointer: checkpointer,
		cfg:          cfg,
		metrics:      metrics,
		logger:       logger.With().Str("component", "processor").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DocumentFailures returns the number of permanent failures seen so far.
func (p *Processor) DocumentFailures() int64 {
	return p.documentFailures.Load()
}

// recordPayload is the body of a MetadataIsAvailable notification.
type recordPayload struct {
	DocumentID string `json:"document_id"`
}

// Handle indexes the paper named by rec and checkpoints rec's position.
//
// A permanent failure is logged and checkpointed past. A transient failure
// is returned unchanged and leaves the checkpoint where it was, so the caller
// can redeliver rec. Any other returned error is fatal to the shard.
func (p *Processor) Handle(ctx context.Context, rec stream.Record) error {
	if p.checkpointer == nil {
		return errors.New("processor has no checkpointer")
	}
	if p.budgetExhausted() {
		return fmt.Errorf("%w: %d failures, limit %d",
			ErrTooManyFailures, p.documentFailures.Load(), p.cfg.MaxDocumentFailures)
	}

	logger := observability.WithRecordContext(p.logger, rec.Shard, rec.Position)
	logger.Debug().Msg("processing record")

	paperID, err := decodeRecord(rec.Data)
	if err != nil {
		logger.Error().Err(err).Bytes("payload", rec.Data).Msg("undecodable record, skipping")
		p.metrics.RecordFailure(KindDocumentFailed.String(), OpDecode)
		p.permanentFailure(ctx, logger, rec, documentFailed(OpDecode, "", err))
		p.metrics.RecordRecordProcessed(rec.Shard, observability.OutcomeUndecodable)
		return p.advance(ctx, rec)
	}

	logger = observability.WithPaperContext(logger, paperID)
	ctx = observability.WithShard(ctx, rec.Shard)

	if err := p.IndexPaper(ctx, paperID); err != nil {
		if !errors.Is(err, ErrDocumentFailed) {
			logger.Warn().Err(err).Msg("indexing failed, record will be redelivered")
			p.metrics.RecordRecordProcessed(rec.Shard, observability.OutcomeIndexingFailed)
			return err
		}
		logger.Error().Err(err).Msg("document failed, skipping record")
		p.permanentFailure(ctx, logger, rec, err)
		p.metrics.RecordRecordProcessed(rec.Shard, observability.OutcomeDocumentFailed)
		return p.advance(ctx, rec)
	}

	p.metrics.RecordRecordProcessed(rec.Shard, observability.OutcomeIndexed)
	return p.advance(ctx, rec)
}

func decodeRecord(data []byte) (string, error) {
	var payload recordPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("decoding record payload: %w", err)
	}
	if payload.DocumentID == "" {
		return "", errors.New("record payload has no document_id")
	}
	return domain.NormalizePaperID(payload.DocumentID)
}

func (p *Processor) budgetExhausted() bool {
	return p.cfg.MaxDocumentFailures > 0 &&
		p.documentFailures.Load() > int64(p.cfg.MaxDocumentFailures)
}

func (p *Processor) permanentFailure(ctx context.Context, logger zerolog.Logger, rec stream.Record, err error) {
	p.documentFailures.Add(1)
	if p.failures == nil {
		return
	}

	f := checkpoint.Failure{Shard: rec.Shard, Position: rec.Position, Reason: err.Error()}
	var classified *Error
	if errors.As(err, &classified) {
		f.PaperID = classified.PaperID
		f.Operation = classified.Op
		if classified.Err != nil {
			f.Reason = classified.Err.Error()
		}
	}
	if rerr := p.failures.RecordFailure(ctx, f); rerr != nil {
		logger.Warn().Err(rerr).Msg("failed to record document failure")
	}
}

func (p *Processor) advance(ctx context.Context, rec stream.Record) error {
	if err := p.checkpointer.Advance(ctx, rec.Shard, rec.Position); err != nil {
		return fmt.Errorf("checkpointing shard %d at position %d: %w", rec.Shard, rec.Position, err)
	}
	return nil
}

// IndexPaper builds and writes the documents of every version of a paper.
// The returned error, if any, is an *Error.
func (p *Processor) IndexPaper(ctx context.Context, paperID string) error {
	start := time.Now()
	logger := observability.WithPaperContext(observability.EnrichLogger(ctx, p.logger), paperID)

	n, err := p.indexPaper(ctx, paperID)
	if err != nil {
		p.metrics.RecordFailure(KindOf(err).String(), opOf(err))
		return err
	}

	p.metrics.RecordPaperIndexed(n)
	logger.Info().
		Int("documents", n).
		Dur("duration", time.Since(start)).
		Msg("paper indexed")
	return nil
}

func (p *Processor) indexPaper(ctx context.Context, rawID string) (int, error) {
	paperID, err := domain.NormalizePaperID(rawID)
	if err != nil {
		return 0, documentFailed(OpDecode, rawID, err)
	}

	current, err := p.getMetadata(ctx, paperID)
	if err != nil {
		return 0, err
	}

	if current.Version <= 1 {
		agg := domain.NewAggregation(current.Version, current.SubmittedDate).With(current.SubmittedDate)
		doc, err := p.transformToDocument(current, agg)
		if err != nil {
			return 0, err
		}
		if err := p.addToIndex(ctx, doc); err != nil {
			return 0, err
		}
		return 1, nil
	}

	history, err := p.getAllVersions(ctx, paperID)
	if err != nil {
		return 0, err
	}
	versions, err := reconcile(paperID, current, history)
	if err != nil {
		return 0, documentFailed(OpReconcile, paperID, err)
	}

	latest := versions[len(versions)-1]
	agg := domain.NewAggregation(latest.Version, latest.SubmittedDate)
	docs := make([]*domain.Document, 0, len(versions))
	for _, meta := range versions {
		agg = agg.With(meta.SubmittedDate)
		doc, err := p.transformToDocument(meta, agg)
		if err != nil {
			return 0, err
		}
		docs = append(docs, doc)
	}

	if err := p.bulkAddToIndex(ctx, paperID, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// reconcile orders the version history of paperID ascending by version. The
// current entry is merged in first so that history entries for the same
// version replace it; later duplicates replace earlier ones. The result must
// cover versions 1..n without gaps.
func reconcile(paperID string, current *domain.DocMeta, history []*domain.DocMeta) ([]*domain.DocMeta, error) {
	byVersion := make(map[int]*domain.DocMeta, len(history)+1)
	highest := 0
	for _, meta := range append([]*domain.DocMeta{current}, history...) {
		if meta == nil {
			return nil, errors.New("version history contains an empty entry")
		}
		if meta.PaperID != paperID {
			return nil, fmt.Errorf("version %d belongs to %q", meta.Version, meta.PaperID)
		}
		if meta.Version < 1 {
			return nil, fmt.Errorf("invalid version %d", meta.Version)
		}
		byVersion[meta.Version] = meta
		highest = max(highest, meta.Version)
	}

	if len(byVersion) != highest {
		for v := 1; v <= highest; v++ {
			if _, ok := byVersion[v]; !ok {
				return nil, fmt.Errorf("version history is missing version %d of %d", v, highest)
			}
		}
	}

	versions := make([]*domain.DocMeta, highest)
	for v, meta := range byVersion {
		versions[v-1] = meta
	}
	return versions, nil
}

// getMetadata retrieves the latest version of a paper.
func (p *Processor) getMetadata(ctx context.Context, paperID string) (*domain.DocMeta, error) {
	meta, err := p.metadata.Retrieve(ctx, paperID)
	if err != nil {
		return nil, classifyMetadataError(OpGetMetadata, paperID, err)
	}
	if meta == nil {
		return nil, documentFailedf(OpGetMetadata, paperID, "empty metadata response")
	}
	if meta.PaperID != paperID {
		return nil, documentFailedf(OpGetMetadata, paperID, "metadata belongs to %q", meta.PaperID)
	}
	return meta, nil
}

// getAllVersions retrieves every version of a paper in one request.
func (p *Processor) getAllVersions(ctx context.Context, paperID string) ([]*domain.DocMeta, error) {
	history, err := p.metadata.BulkRetrieve(ctx, paperID)
	if err != nil {
		return nil, classifyMetadataError(OpGetAllVersions, paperID, err)
	}
	return history, nil
}

// classifyMetadataError maps metadata failures onto the processor's kinds.
// Anything unrecognised is treated as transient so the record is retried.
func classifyMetadataError(op, paperID string, err error) *Error {
	if errors.Is(err, metadata.ErrRequestFailed) || errors.Is(err, metadata.ErrBadResponse) {
		return documentFailed(op, paperID, err)
	}
	return indexingFailed(op, paperID, err)
}

func (p *Processor) transformToDocument(meta *domain.DocMeta, agg domain.Aggregation) (*domain.Document, error) {
	doc, err := p.transform.ToSearchDocument(meta, agg)
	if err != nil {
		return nil, documentFailed(OpTransform, meta.PaperID, err)
	}
	if doc == nil {
		return nil, documentFailedf(OpTransform, meta.PaperID, "transform produced no document for version %d", meta.Version)
	}
	return doc, nil
}

func (p *Processor) addToIndex(ctx context.Context, doc *domain.Document) error {
	if err := p.index.AddDocument(ctx, doc); err != nil {
		return indexingFailed(OpAddToIndex, doc.PaperID, err)
	}
	return nil
}

func (p *Processor) bulkAddToIndex(ctx context.Context, paperID string, docs []*domain.Document) error {
	if len(docs) == 0 {
		return indexingFailed(OpBulkAddToIndex, paperID, errNoDocuments)
	}
	if err := p.index.BulkAddDocuments(ctx, docs); err != nil {
		return indexingFailed(OpBulkAddToIndex, paperID, err)
	}
	return nil
}

func opOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return "unknown"
}
