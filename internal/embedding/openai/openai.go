package openai

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"localrag/internal/domain"
	"localrag/internal/metrics"
)

const provider = "openai"

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
// Works against OpenAI, Ollama's /v1 endpoint and similar servers.
type Client struct {
	client      *openai.Client
	model       openai.EmbeddingModel
	dimensions  int
	batchSize   int
	concurrency int
	maxRetries  int
	backoff     time.Duration
	limiter     *rate.Limiter // nil if unlimited
	logger      *zap.Logger
}

// Config configures the OpenAI-compatible embeddings client.
// APIKey wins over APIKeyEnv.
type Config struct {
	BaseURL    string
	APIKey     string
	APIKeyEnv  string
	Model      string
	Dimensions int
	BatchSize  int
	// Concurrency bounds the batches in flight. Defaults to 1.
	Concurrency int
	// RequestsPerSecond paces API calls; 0 disables pacing.
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxRetries        int
	Logger            *zap.Logger
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s: %w", cfg.APIKeyEnv, domain.ErrInvalidConfiguration)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(key)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	c := &Client{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       openai.EmbeddingModel(cfg.Model),
		dimensions:  cfg.Dimensions,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		maxRetries:  cfg.MaxRetries,
		backoff:     200 * time.Millisecond,
		logger:      cfg.Logger,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	return c, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return provider }

// Embed returns one vector per text, in input order. Texts are sent in
// batches of the configured size, at most Concurrency at a time.
// Every failure wraps domain.ErrEmbeddingFailure.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.embedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float64, error) {
	req := openai.EmbeddingRequest{
		Input:          batch,
		Model:          c.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}
	model := string(c.model)

	var resp openai.EmbeddingResponse
	var err error
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
			}
		}
		start := time.Now()
		resp, err = c.client.CreateEmbeddings(ctx, req)
		if err == nil {
			metrics.EmbeddingRequestDuration.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())
			break
		}
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		if attempt >= c.maxRetries || !retryable(err) || ctx.Err() != nil {
			metrics.EmbeddingErrorsTotal.WithLabelValues(provider, model, "api_error").Inc()
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, err)
		}
		delay := retryDelay(c.backoff, attempt)
		c.logger.Warn("Embedding request failed, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingFailure, ctx.Err())
		case <-time.After(delay):
		}
	}

	if len(resp.Data) != len(batch) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(provider, model, "count_mismatch").Inc()
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			domain.ErrEmbeddingFailure, len(resp.Data), len(batch))
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "success").Inc()
	if resp.Usage.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(provider, model, "total").Add(float64(resp.Usage.TotalTokens))
	}

	data := resp.Data
	slices.SortStableFunc(data, func(a, b openai.Embedding) int { return cmp.Compare(a.Index, b.Index) })
	vecs := make([][]float64, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", domain.ErrEmbeddingFailure, d.Index)
		}
		v := make([]float64, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float64(x)
		}
		vecs[i] = v
	}
	return vecs, nil
}

// retryable reports whether err is a rate limit, a server error or a transport failure.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second || d <= 0 {
		d = 5 * time.Second
	}
	return d
}
