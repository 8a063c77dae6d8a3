// Package index writes paper documents to Elasticsearch.
package index

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"

	"github.com/helixir/search-agent/internal/domain"
	"github.com/helixir/search-agent/internal/observability"
)

// Failure classes reported by the client.
var (
	// ErrConnection indicates the search engine could not be reached, or
	// answered with a server-side or throttling status.
	ErrConnection = errors.New("search index connection failed")

	// ErrRequest indicates the search engine rejected the request or some of
	// the documents in it.
	ErrRequest = errors.New("search index request failed")

	// ErrNoDocuments is returned by BulkAddDocuments for an empty batch.
	ErrNoDocuments = errors.New("no documents to index")
)

//go:embed mapping.json
var indexMapping []byte

// Mapping returns the settings and mappings used to create the index.
func Mapping() []byte {
	return bytes.Clone(indexMapping)
}

// Config holds configuration for the index client.
type Config struct {
	// Addresses are the Elasticsearch node URLs.
	Addresses []string
	// Index is the name of the index receiving documents.
	Index string
	// Username and Password enable basic authentication when set.
	Username string
	Password string
	// APIKey enables API key authentication when set.
	APIKey string
	// Refresh is the refresh policy applied to writes.
	Refresh string
	// MaxRetries is the transport retry count.
	MaxRetries int
	// DisableRetry turns off transport retries entirely.
	DisableRetry bool
	// Timeout bounds each request.
	Timeout time.Duration
	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
}

// Client writes documents to one Elasticsearch index.
// It is safe for concurrent use.
type Client struct {
	es      *elasticsearch.Client
	index   string
	refresh string
	timeout time.Duration
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// New creates an index client.
func New(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) (*Client, error) {
	if cfg.Index == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.Username,
		Password:      cfg.Password,
		APIKey:        cfg.APIKey,
		MaxRetries:    cfg.MaxRetries,
		DisableRetry:  cfg.DisableRetry,
		RetryOnStatus: []int{502, 503, 504, 429},
		Transport:     cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	return &Client{
		es:      es,
		index:   cfg.Index,
		refresh: cfg.Refresh,
		timeout: cfg.Timeout,
		metrics: metrics,
		logger:  logger.With().Str("component", "index").Str("index", cfg.Index).Logger(),
	}, nil
}

// AddDocument writes one document, replacing any document with the same id.
func (c *Client) AddDocument(ctx context.Context, doc *domain.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encoding document %s: %v", ErrRequest, doc.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := []func(*esapi.IndexRequest){
		c.es.Index.WithContext(ctx),
		c.es.Index.WithDocumentID(doc.ID),
	}
	if c.refresh != "" {
		opts = append(opts, c.es.Index.WithRefresh(c.refresh))
	}

	start := time.Now()
	res, err := c.es.Index(c.index, bytes.NewReader(body), opts...)
	if err := c.check("add", start, res, err); err != nil {
		return fmt.Errorf("indexing %s: %w", doc.ID, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// BulkAddDocuments writes documents in one bulk request, preserving order.
// The call fails if any document in the batch is rejected.
func (c *Client) BulkAddDocuments(ctx context.Context, docs []*domain.Document) error {
	if len(docs) == 0 {
		return ErrNoDocuments
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		action := map[string]map[string]string{"index": {"_index": c.index, "_id": doc.ID}}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("%w: encoding bulk action for %s: %v", ErrRequest, doc.ID, err)
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("%w: encoding document %s: %v", ErrRequest, doc.ID, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := []func(*esapi.BulkRequest){
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
	}
	if c.refresh != "" {
		opts = append(opts, c.es.Bulk.WithRefresh(c.refresh))
	}

	start := time.Now()
	res, err := c.es.Bulk(&buf, opts...)
	if err := c.check("bulk", start, res, err); err != nil {
		return fmt.Errorf("bulk indexing %d documents: %w", len(docs), err)
	}
	defer res.Body.Close()

	var result bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return fmt.Errorf("%w: decoding bulk response: %v", ErrRequest, err)
	}
	if result.Errors {
		for _, item := range result.Items {
			for _, op := range item {
				if op.Error != nil {
					return fmt.Errorf("%w: document %s: status %d: %s: %s",
						ErrRequest, op.ID, op.Status, op.Error.Type, op.Error.Reason)
				}
			}
		}
		return fmt.Errorf("%w: bulk response reported errors", ErrRequest)
	}
	return nil
}

// CreateIndex creates the index with its mapping. An index that already
// exists is left untouched.
func (c *Client) CreateIndex(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	res, err := c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(indexMapping)),
	)
	if err != nil {
		c.metrics.RecordIndexRequest("create_index", "error", time.Since(start).Seconds())
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer res.Body.Close()
	c.metrics.RecordIndexRequest("create_index", strconv.Itoa(res.StatusCode), time.Since(start).Seconds())

	if !res.IsError() {
		c.logger.Info().Msg("index created")
		return nil
	}

	e := decodeError(res)
	if e.Error.Type == "resource_already_exists_exception" {
		c.logger.Info().Msg("index already exists")
		return nil
	}
	return statusError(res.StatusCode, e)
}

// Ping checks that the cluster is reachable.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: ping returned status %d", ErrConnection, res.StatusCode)
	}
	return nil
}

// check records the request and classifies transport and HTTP failures.
// On success the caller owns res.Body.
func (c *Client) check(operation string, start time.Time, res *esapi.Response, err error) error {
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.metrics.RecordIndexRequest(operation, "error", elapsed)
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	c.metrics.RecordIndexRequest(operation, strconv.Itoa(res.StatusCode), elapsed)
	if !res.IsError() {
		return nil
	}
	defer res.Body.Close()
	return statusError(res.StatusCode, decodeError(res))
}

type errorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

type bulkResponse struct {
	Errors bool                           `json:"errors"`
	Items  []map[string]bulkItemResponse `json:"items"`
}

type bulkItemResponse struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

func decodeError(res *esapi.Response) errorResponse {
	var e errorResponse
	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Type == "" {
		e.Error.Reason = string(bytes.TrimSpace(body))
	}
	return e
}

func statusError(status int, e errorResponse) error {
	sentinel := ErrRequest
	if status == http.StatusTooManyRequests || status >= 500 {
		sentinel = ErrConnection
	}
	return fmt.Errorf("%w: status %d: %s: %s", sentinel, status, e.Error.Type, e.Error.Reason)
}
