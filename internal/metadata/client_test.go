package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const versionJSON = `{
	"paper_id": "1234.56789",
	"version": %d,
	"title": "foo",
	"submitted_date": "2001-03-0%dT03:04:05-400",
	"latest_version": 3,
	"authors": "Ada Lovelace",
	"license": {"uri": "http://arxiv.org/licenses/nonexclusive-distrib/1.0/"},
	"primary_classification": {"group": {"id": "grp_physics"}, "archive": {"id": "hep-th"}, "category": {"id": "hep-th"}}
}`

func newTestClient(t *testing.T, endpoints ...string) *Client {
	t.Helper()
	httpClient := NewHTTPClient(HTTPClientConfig{
		Timeout:    5 * time.Second,
		RateLimit:  1000,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
	})
	client, err := NewWithHTTPClient(endpoints, httpClient, nil, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func version(v, day int) string {
	return fmt.Sprintf(versionJSON, v, day)
}

func TestClient_Retrieve(t *testing.T) {
	t.Run("decodes current version", func(t *testing.T) {
		var gotPath, gotAccept string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAccept = r.Header.Get("Accept")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(version(3, 4)))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		meta, err := client.Retrieve(context.Background(), "1234.56789")
		require.NoError(t, err)

		assert.Equal(t, "/docmeta/1234.56789", gotPath)
		assert.Equal(t, "application/json", gotAccept)
		assert.Equal(t, "1234.56789", meta.PaperID)
		assert.Equal(t, 3, meta.Version)
		assert.Equal(t, "foo", meta.Title)
		assert.True(t, meta.IsCurrent)
		require.NotNil(t, meta.PrimaryClassification)
		assert.Equal(t, "hep-th", meta.PrimaryClassification.Category.ID)

		_, offset := meta.SubmittedDate.Zone()
		assert.Equal(t, -4*60*60, offset)
		assert.Equal(t, 4, meta.SubmittedDate.Day())
	})

	t.Run("endpoint with base path", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			_, _ = w.Write([]byte(version(1, 2)))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL+"/api")
		_, err := client.Retrieve(context.Background(), "hep-th/9901001")
		require.NoError(t, err)
		assert.Equal(t, "/api/docmeta/hep-th/9901001", gotPath)
	})
}

func TestClient_RoundRobin(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	serverA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsA.Add(1)
		_, _ = w.Write([]byte(version(1, 2)))
	}))
	defer serverA.Close()
	serverB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsB.Add(1)
		_, _ = w.Write([]byte(version(1, 2)))
	}))
	defer serverB.Close()

	client := newTestClient(t, serverA.URL, serverB.URL)
	for i := 0; i < 4; i++ {
		_, err := client.Retrieve(context.Background(), "1234.56789")
		require.NoError(t, err)
	}

	assert.Equal(t, int32(2), hitsA.Load())
	assert.Equal(t, int32(2), hitsB.Load())
}

func TestClient_BulkRetrieve(t *testing.T) {
	t.Run("returns entries in service order", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			_, _ = w.Write([]byte("[" + version(3, 4) + "," + version(1, 2) + "," + version(2, 3) + "]"))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		metas, err := client.BulkRetrieve(context.Background(), "1234.56789")
		require.NoError(t, err)

		assert.Equal(t, "/docmeta/1234.56789/versions", gotPath)
		require.Len(t, metas, 3)
		assert.Equal(t, 3, metas[0].Version)
		assert.Equal(t, 1, metas[1].Version)
		assert.False(t, metas[1].IsCurrent)
	})

	t.Run("empty history is a bad response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("[]"))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.BulkRetrieve(context.Background(), "1234.56789")
		assert.ErrorIs(t, err, ErrBadResponse)
	})

	t.Run("one invalid entry fails the whole history", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("[" + version(1, 2) + `,{"paper_id":"1234.56789","version":2}]`))
		}))
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.BulkRetrieve(context.Background(), "1234.56789")
		assert.ErrorIs(t, err, ErrBadResponse)
		assert.Contains(t, err.Error(), "version entry 1")
	})
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, body: "no such paper", wantErr: ErrRequestFailed},
		{name: "bad request", status: http.StatusBadRequest, body: "invalid id", wantErr: ErrRequestFailed},
		{name: "server error", status: http.StatusInternalServerError, wantErr: ErrConnectionFailed},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantErr: ErrConnectionFailed},
		{name: "throttled", status: http.StatusTooManyRequests, wantErr: ErrConnectionFailed},
		{name: "not json", status: http.StatusOK, body: "<html>oops</html>", wantErr: ErrBadResponse},
		{name: "missing title", status: http.StatusOK, body: `{"paper_id":"1234.56789","version":1,"submitted_date":"2001-03-02"}`, wantErr: ErrBadResponse},
		{name: "version zero", status: http.StatusOK, body: `{"paper_id":"1234.56789","version":0,"title":"foo","submitted_date":"2001-03-02"}`, wantErr: ErrBadResponse},
		{name: "unparseable date", status: http.StatusOK, body: `{"paper_id":"1234.56789","version":1,"title":"foo","submitted_date":"yesterday"}`, wantErr: ErrBadResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			_, err := client.Retrieve(context.Background(), "1234.56789")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_ResponseTooLarge(t *testing.T) {
	body := version(1, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	t.Run("over the limit", func(t *testing.T) {
		client := newTestClient(t, server.URL)
		client.maxBody = int64(len(body)) - 1

		_, err := client.Retrieve(context.Background(), "1234.56789")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrResponseTooLarge)
		assert.NotErrorIs(t, err, ErrBadResponse)
	})

	t.Run("exactly at the limit", func(t *testing.T) {
		client := newTestClient(t, server.URL)
		client.maxBody = int64(len(body))

		meta, err := client.Retrieve(context.Background(), "1234.56789")
		require.NoError(t, err)
		assert.Equal(t, 1, meta.Version)
	})
}

func TestClient_ServerErrorRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(version(1, 2)))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	meta, err := client.Retrieve(context.Background(), "1234.56789")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Version)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, url)
	_, err := client.Retrieve(context.Background(), "1234.56789")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(version(1, 2)))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(t, server.URL)
	_, err := client.Retrieve(ctx, "1234.56789")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrConnectionFailed))
	assert.False(t, errors.Is(err, ErrRequestFailed))
	assert.False(t, errors.Is(err, ErrBadResponse))
}

func TestNewWithHTTPClient_RequiresEndpoint(t *testing.T) {
	_, err := NewWithHTTPClient(nil, NewHTTPClient(HTTPClientConfig{}), nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input  string
		offset int
		day    int
	}{
		{input: "2001-03-02T03:04:05-400", offset: -4 * 3600, day: 2},
		{input: "2001-03-02T03:04:05-0400", offset: -4 * 3600, day: 2},
		{input: "2001-03-02T03:04:05-04:00", offset: -4 * 3600, day: 2},
		{input: "2001-03-02T03:04:05Z", offset: 0, day: 2},
		{input: "2001-03-02T03:04:05", offset: 0, day: 2},
		{input: "2001-03-02", offset: 0, day: 2},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDate(tt.input)
			require.NoError(t, err)
			_, offset := got.Zone()
			assert.Equal(t, tt.offset, offset)
			assert.Equal(t, tt.day, got.Day())
		})
	}

	_, err := parseDate("not a date")
	assert.Error(t, err)
}
