package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helixir/search-agent/internal/agent"
	"github.com/helixir/search-agent/internal/domain"
	"github.com/helixir/search-agent/internal/observability"
)

// Request limits.
const (
	defaultFailureLimit = 100
	maxFailureLimit     = 1000
	maxBatchSize        = 500
	maxRequestBodySize  = 1 << 20 // 1 MB limit for request bodies
)

// reindexRequest is the JSON request body for a batch reindex.
type reindexRequest struct {
	PaperIDs []string `json:"paper_ids" validate:"required,min=1,max=500,dive,required"`
}

// reindexPaper handles POST /api/v1/papers/{paperID}/reindex.
// It rebuilds every version of one paper in the search index.
func (s *Server) reindexPaper(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.EnrichLogger(ctx, s.logger)

	paperID, err := domain.NormalizePaperID(chi.URLParam(r, "paperID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.indexer.IndexPaper(ctx, paperID); err != nil {
		logger.Warn().Err(err).Str("paper_id", paperID).Msg("reindex failed")
		writeIndexError(w, paperID, err)
		return
	}

	writeJSON(w, http.StatusOK, reindexPaperResponse{PaperID: paperID, Status: "indexed"})
}

// reindexPapers handles POST /api/v1/reindex.
// Papers that fail permanently are reported and skipped. A transient failure
// aborts the batch with 503 and the partial report.
func (s *Server) reindexPapers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.EnrichLogger(ctx, s.logger)

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req reindexRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	paperIDs := make([]string, 0, len(req.PaperIDs))
	for _, raw := range req.PaperIDs {
		paperID, err := domain.NormalizePaperID(raw)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		paperIDs = append(paperIDs, paperID)
	}

	report, err := s.indexer.IndexPapers(ctx, paperIDs)
	resp := batchToResponse(report)
	if err != nil {
		logger.Warn().Err(err).Int("requested", len(paperIDs)).Msg("batch reindex aborted")
		resp.Error = err.Error()
		writeJSON(w, statusForIndexError(err), resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// listCheckpoints handles GET /api/v1/checkpoints.
func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := s.checkpoints.List(r.Context())
	if err != nil {
		logger := observability.EnrichLogger(r.Context(), s.logger)
		logger.Error().Err(err).Msg("failed to list checkpoints")
		writeError(w, http.StatusInternalServerError, "failed to list checkpoints")
		return
	}

	writeJSON(w, http.StatusOK, listCheckpointsResponse{
		Stream:      s.checkpoints.Stream(),
		Checkpoints: checkpoints,
	})
}

// listFailures handles GET /api/v1/failures.
// It returns the most recent permanent document failures.
func (s *Server) listFailures(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	failures, err := s.checkpoints.ListFailures(r.Context(), limit)
	if err != nil {
		logger := observability.EnrichLogger(r.Context(), s.logger)
		logger.Error().Err(err).Msg("failed to list document failures")
		writeError(w, http.StatusInternalServerError, "failed to list document failures")
		return
	}

	writeJSON(w, http.StatusOK, listFailuresResponse{
		Stream:   s.checkpoints.Stream(),
		Failures: failures,
	})
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeIndexError reports a failed reindex of one paper.
func writeIndexError(w http.ResponseWriter, paperID string, err error) {
	status := statusForIndexError(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal server error")
		return
	}

	resp := reindexFailureResponse{
		PaperID: paperID,
		Error:   err.Error(),
		Kind:    agent.KindOf(err).String(),
	}
	var classified *agent.Error
	if errors.As(err, &classified) {
		resp.Operation = classified.Op
	}
	writeJSON(w, status, resp)
}

// statusForIndexError maps a processing failure to a status code. Permanent
// failures are the paper's fault; transient ones may succeed on retry.
func statusForIndexError(err error) int {
	switch {
	case errors.Is(err, agent.ErrDocumentFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, agent.ErrIndexingFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseLimit reads the limit query parameter, applying default and maximum
// bounds.
func parseLimit(r *http.Request) (int, error) {
	limit := defaultFailureLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return 0, fmt.Errorf("limit must be a positive integer")
		}
		limit = parsed
	}
	if limit > maxFailureLimit {
		limit = maxFailureLimit
	}
	return limit, nil
}

// validationMessage turns validator errors into a single client message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		if fe.Field() == "PaperIDs" {
			return "paper_ids is required"
		}
		return "paper_ids must not contain empty values"
	case "min":
		return "paper_ids must not be empty"
	case "max":
		return fmt.Sprintf("paper_ids must contain at most %d entries", maxBatchSize)
	default:
		return fmt.Sprintf("invalid field %s", fe.Namespace())
	}
}
