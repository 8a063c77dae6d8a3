// Package metadata provides a client for the docmeta service, the
// authoritative source of arXiv paper version metadata.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/search-agent/internal/domain"
	"github.com/helixir/search-agent/internal/observability"
)

// Failure classes reported by the client. Every error returned by Retrieve
// and BulkRetrieve wraps exactly one of these, or a context error.
var (
	// ErrConnectionFailed indicates the service could not be reached or kept
	// failing with server errors.
	ErrConnectionFailed = errors.New("metadata service connection failed")

	// ErrRequestFailed indicates the service rejected the request (4xx).
	ErrRequestFailed = errors.New("metadata request failed")

	// ErrBadResponse indicates the service answered with a body that could not
	// be decoded or failed validation.
	ErrBadResponse = errors.New("bad metadata response")

	// ErrResponseTooLarge indicates the body exceeded the client's size limit.
	ErrResponseTooLarge = errors.New("metadata response too large")
)

const (
	sourceName = "docmeta"

	// defaultMaxResponseSize bounds the body read from the service.
	defaultMaxResponseSize = 32 << 20
)

// Config holds configuration for the metadata client.
type Config struct {
	// Endpoints are the service base URLs. Requests rotate through them.
	Endpoints []string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// MaxRetries is the maximum number of retries for 5xx and network errors.
	MaxRetries int

	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration

	// VerifyCert enables TLS certificate verification.
	VerifyCert bool
}

// Client retrieves DocMeta records from the docmeta service.
// It is safe for concurrent use.
type Client struct {
	httpClient *HTTPClient
	endpoints  []*url.URL
	maxBody    int64
	next       atomic.Uint64
	validate   *validator.Validate
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// New creates a metadata client.
func New(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) (*Client, error) {
	httpClient := NewHTTPClient(HTTPClientConfig{
		Timeout:            cfg.Timeout,
		RateLimit:          cfg.RateLimit,
		MaxRetries:         cfg.MaxRetries,
		RetryDelay:         cfg.RetryDelay,
		InsecureSkipVerify: !cfg.VerifyCert,
	})
	return NewWithHTTPClient(cfg.Endpoints, httpClient, metrics, logger)
}

// NewWithHTTPClient creates a metadata client using the given HTTP client.
func NewWithHTTPClient(endpoints []string, httpClient *HTTPClient, metrics *observability.Metrics, logger zerolog.Logger) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one metadata endpoint is required")
	}
	parsed := make([]*url.URL, 0, len(endpoints))
	for _, endpoint := range endpoints {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid metadata endpoint %q: %w", endpoint, err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		parsed = append(parsed, u)
	}

	return &Client{
		httpClient: httpClient,
		endpoints:  parsed,
		maxBody:    defaultMaxResponseSize,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		metrics:    metrics,
		logger:     logger.With().Str("component", "metadata").Logger(),
	}, nil
}

// Retrieve fetches the metadata of the latest version of a paper.
func (c *Client) Retrieve(ctx context.Context, paperID string) (*domain.DocMeta, error) {
	var resp docMetaResponse
	if err := c.get(ctx, "retrieve", "docmeta/"+paperID, &resp); err != nil {
		return nil, err
	}
	meta, err := c.toDocMeta(&resp)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// BulkRetrieve fetches the metadata of every version of a paper. The result is
// returned in the order the service produced it.
func (c *Client) BulkRetrieve(ctx context.Context, paperID string) ([]*domain.DocMeta, error) {
	var resp []docMetaResponse
	if err := c.get(ctx, "bulk_retrieve", "docmeta/"+paperID+"/versions", &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("%w: no versions returned for %s", ErrBadResponse, paperID)
	}

	metas := make([]*domain.DocMeta, 0, len(resp))
	for i := range resp {
		meta, err := c.toDocMeta(&resp[i])
		if err != nil {
			return nil, fmt.Errorf("version entry %d: %w", i, err)
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// nextEndpoint returns the base URL for the next request.
func (c *Client) nextEndpoint() *url.URL {
	n := c.next.Add(1) - 1
	return c.endpoints[n%uint64(len(c.endpoints))]
}

// get issues a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, operation, path string, out any) error {
	target := c.nextEndpoint().JoinPath(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: creating request: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	status := "error"
	defer func() {
		c.metrics.RecordMetadataRequest(operation, status, time.Since(start).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", operation, target.Redacted(), ctxErr)
		}
		c.logger.Warn().Err(err).Str("url", target.Redacted()).Msg("metadata service unreachable")
		return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, target.Redacted(), err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := domain.NewExternalAPIError(sourceName, resp.StatusCode, strings.TrimSpace(string(body)), nil)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrConnectionFailed, apiErr)
		}
		return fmt.Errorf("%w: %v", ErrRequestFailed, apiErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrConnectionFailed, err)
	}
	if int64(len(body)) > c.maxBody {
		c.logger.Warn().Str("url", target.Redacted()).Int64("limit", c.maxBody).Msg("metadata response exceeds size limit")
		return fmt.Errorf("%w: %s: body exceeds %d bytes", ErrResponseTooLarge, target.Redacted(), c.maxBody)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrBadResponse, err)
	}
	return nil
}
