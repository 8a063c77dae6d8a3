package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Record outcomes reported by the record processor.
const (
	OutcomeIndexed        = "indexed"
	OutcomeDocumentFailed = "document_failed"
	OutcomeIndexingFailed = "indexing_failed"
	OutcomeUndecodable    = "undecodable"
)

// Metrics holds all Prometheus metrics for the search indexing agent.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// RecordsProcessed counts stream records handled, labeled by shard and outcome.
	RecordsProcessed *prometheus.CounterVec

	// PapersIndexed counts papers whose full version history was indexed.
	PapersIndexed prometheus.Counter

	// DocumentsIndexed counts individual version documents written to the index.
	DocumentsIndexed prometheus.Counter

	// VersionsPerPaper tracks the number of versions reconciled per paper.
	VersionsPerPaper prometheus.Histogram

	// Failures counts classified processor failures, labeled by kind and operation.
	Failures *prometheus.CounterVec

	// MetadataRequestDuration tracks docmeta service latency, labeled by operation and status.
	MetadataRequestDuration *prometheus.HistogramVec

	// IndexRequestDuration tracks search engine latency, labeled by operation and status.
	IndexRequestDuration *prometheus.HistogramVec

	// CheckpointPosition is the last checkpointed position, labeled by stream and shard.
	CheckpointPosition *prometheus.GaugeVec

	// Redeliveries counts records redelivered after a transient failure, labeled by shard.
	Redeliveries *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RecordsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Total number of stream records processed by outcome",
		}, []string{"shard", "outcome"}),
		PapersIndexed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_indexed_total",
			Help:      "Total number of papers indexed",
		}),
		DocumentsIndexed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Total number of version documents written to the index",
		}),
		VersionsPerPaper: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "versions_per_paper",
			Help:      "Number of versions reconciled per paper",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of classified processing failures",
		}, []string{"kind", "operation"}),
		MetadataRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "metadata_request_duration_seconds",
			Help:      "Duration of docmeta service requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "status"}),
		IndexRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_request_duration_seconds",
			Help:      "Duration of search engine requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "status"}),
		CheckpointPosition: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_position",
			Help:      "Last checkpointed stream position per shard",
		}, []string{"stream", "shard"}),
		Redeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redeliveries_total",
			Help:      "Total number of record redeliveries after transient failures",
		}, []string{"shard"}),
	}
}

// RecordRecordProcessed records the outcome of handling one stream record.
func (m *Metrics) RecordRecordProcessed(shard int, outcome string) {
	if m == nil {
		return
	}
	m.RecordsProcessed.WithLabelValues(strconv.Itoa(shard), outcome).Inc()
}

// RecordPaperIndexed records a paper whose documents were all written.
func (m *Metrics) RecordPaperIndexed(documents int) {
	if m == nil {
		return
	}
	m.PapersIndexed.Inc()
	m.DocumentsIndexed.Add(float64(documents))
	m.VersionsPerPaper.Observe(float64(documents))
}

// RecordFailure records a classified failure.
func (m *Metrics) RecordFailure(kind, operation string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(kind, operation).Inc()
}

// RecordMetadataRequest records a docmeta service request.
func (m *Metrics) RecordMetadataRequest(operation, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.MetadataRequestDuration.WithLabelValues(operation, status).Observe(durationSeconds)
}

// RecordIndexRequest records a search engine request.
func (m *Metrics) RecordIndexRequest(operation, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.IndexRequestDuration.WithLabelValues(operation, status).Observe(durationSeconds)
}

// RecordCheckpoint records a checkpoint advance.
func (m *Metrics) RecordCheckpoint(stream string, shard int, position int64) {
	if m == nil {
		return
	}
	m.CheckpointPosition.WithLabelValues(stream, strconv.Itoa(shard)).Set(float64(position))
}

// RecordRedelivery records a record being redelivered to the processor.
func (m *Metrics) RecordRedelivery(shard int) {
	if m == nil {
		return
	}
	m.Redeliveries.WithLabelValues(strconv.Itoa(shard)).Inc()
}
