package index

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/search-agent/internal/domain"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// newESServer starts a fake cluster that answers every request with handler.
func newESServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body string)) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r, string(body))
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := New(Config{
		Addresses:    []string{url},
		Index:        "arxiv",
		Refresh:      "wait_for",
		DisableRetry: true,
	}, nil, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func testDoc(version int) *domain.Document {
	return &domain.Document{
		ID:               domain.VersionedID("1234.56789", version),
		PaperID:          "1234.56789",
		Version:          version,
		Title:            "foo",
		SubmittedDateAll: []string{"2001-03-02T03:04:05-0400"},
	}
}

func TestNew_RequiresIndex(t *testing.T) {
	_, err := New(Config{Addresses: []string{"http://localhost:9200"}}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestClient_AddDocument(t *testing.T) {
	t.Run("puts document under its versioned id", func(t *testing.T) {
		server, requests := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"_id":"1234.56789v1","result":"created"}`))
		})

		client := newTestClient(t, server.URL)
		require.NoError(t, client.AddDocument(context.Background(), testDoc(1)))

		require.Len(t, *requests, 1)
		req := (*requests)[0]
		assert.Equal(t, http.MethodPut, req.Method)
		assert.Equal(t, "/arxiv/_doc/1234.56789v1", req.Path)
		assert.Contains(t, req.Query, "refresh=wait_for")

		var doc domain.Document
		require.NoError(t, json.Unmarshal([]byte(req.Body), &doc))
		assert.Equal(t, "1234.56789", doc.PaperID)
		assert.Equal(t, []string{"2001-03-02T03:04:05-0400"}, doc.SubmittedDateAll)
	})

	t.Run("client error is a request failure", func(t *testing.T) {
		server, _ := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"mapper_parsing_exception","reason":"failed to parse"},"status":400}`))
		})

		client := newTestClient(t, server.URL)
		err := client.AddDocument(context.Background(), testDoc(1))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRequest)
		assert.Contains(t, err.Error(), "mapper_parsing_exception")
	})

	t.Run("server error is a connection failure", func(t *testing.T) {
		server, _ := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"type":"cluster_block_exception","reason":"blocked"},"status":503}`))
		})

		client := newTestClient(t, server.URL)
		err := client.AddDocument(context.Background(), testDoc(1))
		assert.ErrorIs(t, err, ErrConnection)
	})

	t.Run("unreachable cluster is a connection failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		client := newTestClient(t, url)
		err := client.AddDocument(context.Background(), testDoc(1))
		assert.ErrorIs(t, err, ErrConnection)
	})
}

func TestClient_BulkAddDocuments(t *testing.T) {
	t.Run("writes ndjson in order", func(t *testing.T) {
		server, requests := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
			_, _ = w.Write([]byte(`{"took":3,"errors":false,"items":[{"index":{"_id":"1234.56789v1","status":200}},{"index":{"_id":"1234.56789v2","status":200}}]}`))
		})

		client := newTestClient(t, server.URL)
		require.NoError(t, client.BulkAddDocuments(context.Background(), []*domain.Document{testDoc(1), testDoc(2)}))

		require.Len(t, *requests, 1)
		req := (*requests)[0]
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/arxiv/_bulk", req.Path)

		var lines []string
		scanner := bufio.NewScanner(strings.NewReader(req.Body))
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		require.Len(t, lines, 4)
		assert.JSONEq(t, `{"index":{"_index":"arxiv","_id":"1234.56789v1"}}`, lines[0])
		assert.JSONEq(t, `{"index":{"_index":"arxiv","_id":"1234.56789v2"}}`, lines[2])

		var second domain.Document
		require.NoError(t, json.Unmarshal([]byte(lines[3]), &second))
		assert.Equal(t, 2, second.Version)
	})

	t.Run("empty batch is rejected without a request", func(t *testing.T) {
		server, requests := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {})

		client := newTestClient(t, server.URL)
		err := client.BulkAddDocuments(context.Background(), nil)
		assert.ErrorIs(t, err, ErrNoDocuments)
		assert.Empty(t, *requests)
	})

	t.Run("item failure fails the batch", func(t *testing.T) {
		server, _ := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
			_, _ = w.Write([]byte(`{"took":3,"errors":true,"items":[
				{"index":{"_id":"1234.56789v1","status":200}},
				{"index":{"_id":"1234.56789v2","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad date"}}}
			]}`))
		})

		client := newTestClient(t, server.URL)
		err := client.BulkAddDocuments(context.Background(), []*domain.Document{testDoc(1), testDoc(2)})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRequest)
		assert.Contains(t, err.Error(), "1234.56789v2")
		assert.Contains(t, err.Error(), "bad date")
	})

	t.Run("throttling is a connection failure", func(t *testing.T) {
		server, _ := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"type":"es_rejected_execution_exception","reason":"queue full"},"status":429}`))
		})

		client := newTestClient(t, server.URL)
		err := client.BulkAddDocuments(context.Background(), []*domain.Document{testDoc(1)})
		assert.ErrorIs(t, err, ErrConnection)
	})
}

func TestClient_CreateIndex(t *testing.T) {
	t.Run("creates index with mapping", func(t *testing.T) {
		server, requests := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
			_, _ = w.Write([]byte(`{"acknowledged":true,"index":"arxiv"}`))
		})

		client := newTestClient(t, server.URL)
		require.NoError(t, client.CreateIndex(context.Background()))

		require.Len(t, *requests, 1)
		req := (*requests)[0]
		assert.Equal(t, http.MethodPut, req.Method)
		assert.Equal(t, "/arxiv", req.Path)
		assert.JSONEq(t, string(Mapping()), req.Body)
	})

	t.Run("existing index is tolerated", func(t *testing.T) {
		server, _ := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"resource_already_exists_exception","reason":"index [arxiv] already exists"},"status":400}`))
		})

		client := newTestClient(t, server.URL)
		assert.NoError(t, client.CreateIndex(context.Background()))
	})

	t.Run("other errors are returned", func(t *testing.T) {
		server, _ := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"type":"security_exception","reason":"unauthorized"},"status":403}`))
		})

		client := newTestClient(t, server.URL)
		err := client.CreateIndex(context.Background())
		assert.True(t, errors.Is(err, ErrRequest))
	})
}

func TestClient_Ping(t *testing.T) {
	server, _ := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t, server.URL)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestMapping(t *testing.T) {
	var m map[string]any
	require.NoError(t, json.Unmarshal(Mapping(), &m))
	assert.Contains(t, m, "mappings")
	assert.Contains(t, m, "settings")
}
