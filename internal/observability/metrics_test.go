package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_search_agent_new")

	assert.NotNil(t, m.RecordsProcessed)
	assert.NotNil(t, m.PapersIndexed)
	assert.NotNil(t, m.DocumentsIndexed)
	assert.NotNil(t, m.VersionsPerPaper)
	assert.NotNil(t, m.Failures)
	assert.NotNil(t, m.MetadataRequestDuration)
	assert.NotNil(t, m.IndexRequestDuration)
	assert.NotNil(t, m.CheckpointPosition)
	assert.NotNil(t, m.Redeliveries)
}

func TestRecordRecordProcessed(t *testing.T) {
	m := NewMetrics("test_records_processed")

	m.RecordRecordProcessed(0, OutcomeIndexed)
	m.RecordRecordProcessed(0, OutcomeIndexed)
	m.RecordRecordProcessed(1, OutcomeDocumentFailed)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RecordsProcessed.WithLabelValues("0", OutcomeIndexed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecordsProcessed.WithLabelValues("1", OutcomeDocumentFailed)))
}

func TestRecordPaperIndexed(t *testing.T) {
	m := NewMetrics("test_paper_indexed")

	m.RecordPaperIndexed(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PapersIndexed))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.DocumentsIndexed))

	histCount, err := getHistogramSampleCount(m.VersionsPerPaper)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordFailure(t *testing.T) {
	m := NewMetrics("test_failures")

	m.RecordFailure("document_failed", "get_metadata")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Failures.WithLabelValues("document_failed", "get_metadata")))
}

func TestRecordRequestDurations(t *testing.T) {
	m := NewMetrics("test_request_durations")

	m.RecordMetadataRequest("retrieve", "ok", 0.2)
	m.RecordIndexRequest("bulk", "error", 1.5)

	assert.Equal(t, 1, testutil.CollectAndCount(m.MetadataRequestDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.IndexRequestDuration))
}

func TestRecordCheckpoint(t *testing.T) {
	m := NewMetrics("test_checkpoint")

	m.RecordCheckpoint("MetadataIsAvailable", 2, 41)
	m.RecordCheckpoint("MetadataIsAvailable", 2, 42)

	assert.Equal(t, float64(42), testutil.ToFloat64(m.CheckpointPosition.WithLabelValues("MetadataIsAvailable", "2")))
}

func TestRecordRedelivery(t *testing.T) {
	m := NewMetrics("test_redeliveries")

	m.RecordRedelivery(5)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Redeliveries.WithLabelValues("5")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordRecordProcessed(0, OutcomeIndexed)
		m.RecordPaperIndexed(1)
		m.RecordFailure("indexing_failed", "bulk_add")
		m.RecordMetadataRequest("retrieve", "ok", 0.1)
		m.RecordIndexRequest("add", "ok", 0.1)
		m.RecordCheckpoint("s", 0, 1)
		m.RecordRedelivery(0)
	})
}

func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var dto = &dto.Metric{}
	if err := m.Write(dto); err != nil {
		return 0, err
	}

	return dto.Histogram.GetSampleCount(), nil
}
