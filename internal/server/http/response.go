package httpserver

import (
	"github.com/helixir/search-agent/internal/agent"
	"github.com/helixir/search-agent/internal/checkpoint"
)

// Response types for JSON serialization.

type readinessResponse struct {
	Status   string   `json:"status"`
	Database string   `json:"database"`
	Index    string   `json:"index"`
	Errors   []string `json:"errors,omitempty"`
}

type reindexPaperResponse struct {
	PaperID string `json:"paper_id"`
	Status  string `json:"status"`
}

type reindexFailureResponse struct {
	PaperID   string `json:"paper_id"`
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Operation string `json:"operation,omitempty"`
}

type reindexBatchResponse struct {
	Indexed []string             `json:"indexed"`
	Failed  []agent.PaperFailure `json:"failed"`
	Error   string               `json:"error,omitempty"`
}

type listCheckpointsResponse struct {
	Stream      string                  `json:"stream"`
	Checkpoints []checkpoint.Checkpoint `json:"checkpoints"`
}

type listFailuresResponse struct {
	Stream   string               `json:"stream"`
	Failures []checkpoint.Failure `json:"failures"`
}

func batchToResponse(report agent.BatchReport) reindexBatchResponse {
	return reindexBatchResponse{
		Indexed: report.Indexed,
		Failed:  report.Failed,
	}
}
