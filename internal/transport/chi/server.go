package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"localrag/internal/domain"
	logpkg "localrag/internal/logger"
	"localrag/internal/metrics"
	"localrag/internal/service"
)

const maxBodyBytes = 32 << 20

// Pipeline is the subset of the retrieval service exposed over HTTP.
type Pipeline interface {
	CreateIndex(ctx context.Context, dimension int) error
	Ingest(ctx context.Context, docs []domain.Document) (service.IngestResult, error)
	Answer(ctx context.Context, query string, topK int) (service.Response, error)
	Reset(ctx context.Context) error
	Stats() domain.IndexStats
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server serves the retrieval pipeline as a JSON API.
type Server struct {
	pipeline      Pipeline
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(pipeline Pipeline, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{pipeline: pipeline, logger: logger}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusBadRequest, "dimension_mismatch", true),
		sentinelHandler(domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument", true),
		sentinelHandler(domain.ErrInvalidConfiguration, http.StatusBadRequest, "invalid_configuration", true),
		sentinelHandler(domain.ErrEmbeddingFailure, http.StatusBadGateway, "embedding_failure", false),
		sentinelHandler(domain.ErrIndexLocked, http.StatusConflict, "index_locked", false),
	}
	return s
}

// Router builds the chi router with recovery, request IDs, access logging
// and metrics middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.Stats)
		r.Post("/index", s.CreateIndex)
		r.Post("/documents", s.IngestDocuments)
		r.Post("/query", s.Query)
		r.Delete("/store", s.ResetStore)
	})
	return r
}

type statsResponse struct {
	Dimension *int `json:"dimension"`
	Records   int  `json:"records"`
}

type createIndexRequest struct {
	Dimension int `json:"dimension"`
}

type documentPayload struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

type ingestRequest struct {
	Documents []documentPayload `json:"documents"`
}

type ingestResponse struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Skipped   []string `json:"skipped"`
	Dimension int      `json:"dimension"`
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats handles GET /v1/stats.
func (s *Server) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStatsResponse(s.pipeline.Stats()))
}

// CreateIndex handles POST /v1/index.
func (s *Server) CreateIndex(w http.ResponseWriter, r *http.Request) {
	var req createIndexRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.pipeline.CreateIndex(r.Context(), req.Dimension); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(s.pipeline.Stats()))
}

// IngestDocuments handles POST /v1/documents.
func (s *Server) IngestDocuments(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "documents must not be empty")
		return
	}
	docs := make([]domain.Document, len(req.Documents))
	for i, d := range req.Documents {
		if d.Source == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "document source is required")
			return
		}
		docs[i] = domain.Document{Source: d.Source, Content: d.Text}
	}

	res, err := s.pipeline.Ingest(r.Context(), docs)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	skipped := res.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		Documents: res.Documents,
		Chunks:    res.Chunks,
		Skipped:   skipped,
		Dimension: res.Dimension,
	})
}

// Query handles POST /v1/query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "query is required")
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, "invalid_argument", "top_k must not be negative")
		return
	}

	resp, err := s.pipeline.Answer(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if resp.Contexts == nil {
		resp.Contexts = []domain.Context{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetStore handles DELETE /v1/store.
func (s *Server) ResetStore(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Reset(r.Context()); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toStatsResponse(st domain.IndexStats) statsResponse {
	resp := statsResponse{Records: st.Records}
	if st.Dimension > 0 {
		d := st.Dimension
		resp.Dimension = &d
	}
	return resp
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// sentinelHandler maps a sentinel to a status. With detailed set the full
// error text is returned; otherwise only the sentinel message.
func sentinelHandler(sentinel error, status int, code string, detailed bool) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		msg := sentinel.Error()
		if detailed {
			msg = err.Error()
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Warn("domain error", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	if errors.Is(err, domain.ErrStorageIO) {
		writeError(w, http.StatusInternalServerError, "storage_error", domain.ErrStorageIO.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits one log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
