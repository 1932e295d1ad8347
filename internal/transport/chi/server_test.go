package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localrag/internal/answer"
	"localrag/internal/chunker"
	"localrag/internal/domain"
	"localrag/internal/embedding/hashing"
	"localrag/internal/service"
	"localrag/internal/vectorstore/local"
)

func newTestServer(t *testing.T) (*httptest.Server, *local.Storage) {
	t.Helper()
	ch, err := chunker.NewWordChunker(8, 2)
	require.NoError(t, err)
	emb, err := hashing.NewEmbedder(64)
	require.NoError(t, err)
	store, err := local.Open(local.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := service.NewRAGService(ch, emb, store, answer.NewTemplateSynthesizer(0), 3, nil)
	srv := httptest.NewServer(NewServer(svc, nil).Router())
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestServer_IngestAndQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["dimension"])
	assert.EqualValues(t, 0, body["records"])

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/documents", `{"documents":[
		{"source":"go.md","text":"Goroutines are lightweight threads managed by the Go runtime."},
		{"source":"bread.txt","text":"Sourdough bread needs flour, water, salt and a starter."},
		{"source":"blank.txt","text":"   "}
	]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["documents"])
	assert.EqualValues(t, 64, body["dimension"])
	assert.Equal(t, []any{"blank.txt"}, body["skipped"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/query", `{"query":"sourdough bread flour water","top_k":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	contexts, ok := body["contexts"].([]any)
	require.True(t, ok)
	require.Len(t, contexts, 2)
	first := contexts[0].(map[string]any)
	assert.Equal(t, "bread.txt", first["source"])
	assert.Contains(t, body["answer"], "1. Sourdough bread")

	resp, _ = do(t, http.MethodDelete, srv.URL+"/v1/store", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/query", `{"query":"bread"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, answer.NoAnswer, body["answer"])
	assert.Equal(t, []any{}, body["contexts"])
}

func TestServer_CreateIndex(t *testing.T) {
	srv, store := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/index", `{"dimension":0}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", body["code"])

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/index", `{"dimension":32}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 32, body["dimension"])
	assert.FileExists(t, store.Path())

	// the hashing embedder produces 64-dimensional vectors
	resp, body = do(t, http.MethodPost, srv.URL+"/v1/documents", `{"documents":[{"source":"a","text":"hello world"}]}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "dimension_mismatch", body["code"])
	assert.Contains(t, body["message"], "expected 32, got 64")
}

func TestServer_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   string
	}{
		{"malformed json", http.MethodPost, "/v1/query", `{"query":`, "bad_request"},
		{"blank query", http.MethodPost, "/v1/query", `{"query":"  "}`, "bad_request"},
		{"negative top_k", http.MethodPost, "/v1/query", `{"query":"x","top_k":-1}`, "invalid_argument"},
		{"no documents", http.MethodPost, "/v1/documents", `{"documents":[]}`, "bad_request"},
		{"missing source", http.MethodPost, "/v1/documents", `{"documents":[{"text":"x"}]}`, "bad_request"},
		{"duplicate source", http.MethodPost, "/v1/documents", `{"documents":[{"source":"a","text":"x"},{"source":"a","text":"y"}]}`, "invalid_argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type failingPipeline struct {
	err error
}

func (p failingPipeline) CreateIndex(context.Context, int) error { return p.err }

func (p failingPipeline) Ingest(context.Context, []domain.Document) (service.IngestResult, error) {
	return service.IngestResult{}, p.err
}

func (p failingPipeline) Answer(context.Context, string, int) (service.Response, error) {
	return service.Response{}, p.err
}

func (p failingPipeline) Reset(context.Context) error { return p.err }

func (p failingPipeline) Stats() domain.IndexStats { return domain.IndexStats{} }

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{
			name:    "embedding failure hides provider detail",
			err:     fmt.Errorf("%w: upstream said no", domain.ErrEmbeddingFailure),
			status:  http.StatusBadGateway,
			code:    "embedding_failure",
			message: "embedding failure",
		},
		{
			name:    "storage",
			err:     &domain.StorageError{Op: "write", Path: "/x/docs_index.json", Err: errors.New("disk full")},
			status:  http.StatusInternalServerError,
			code:    "storage_error",
			message: "storage i/o error",
		},
		{
			name:    "unclassified",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			code:    "internal_error",
			message: "internal error",
		},
		{
			name:    "dimension mismatch",
			err:     domain.NewDimensionMismatch(4, 3),
			status:  http.StatusBadRequest,
			code:    "dimension_mismatch",
			message: "dimension mismatch: expected 4, got 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewServer(failingPipeline{err: tt.err}, nil).Router())
			defer srv.Close()

			resp, body := do(t, http.MethodPost, srv.URL+"/v1/query", `{"query":"q"}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, tt.message, body["message"])

			resp, body = do(t, http.MethodDelete, srv.URL+"/v1/store", "")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}
