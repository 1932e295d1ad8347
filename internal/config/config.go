package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"localrag/internal/domain"
)

// HashingEmbedderConfig holds configuration for the offline hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimensions  int    `yaml:"dimensions"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
	MaxRetries  int    `yaml:"max_retries"`
	Concurrency int    `yaml:"concurrency"`
	// RequestsPerSecond paces API calls; 0 disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type"` // hashing, openai
	Hashing *HashingEmbedderConfig `yaml:"hashing,omitempty"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"` // word, sentence
	ChunkSize         int    `yaml:"chunk_size"`
	Overlap           int    `yaml:"overlap"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type  string      `yaml:"type"` // local, memory
	Local LocalConfig `yaml:"local"`
}

// LocalConfig locates the file-backed index.
type LocalConfig struct {
	Dir   string `yaml:"dir"`
	Index string `yaml:"index"`
	Lock  bool   `yaml:"lock"`
}

// RetrievalConfig tunes retrieval and answer synthesis.
type RetrievalConfig struct {
	TopK           int `yaml:"top_k"`
	AnswerContexts int `yaml:"answer_contexts"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // local, dev, prod
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Logging     LoggingConfig     `yaml:"logging"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, expanding ${VAR} references first,
// then applies defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	data = expandEnvVars(data)

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/localrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/localrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "localrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty fields with default values.
func (c *AppConfig) ApplyDefaults() {
	if c.Embedder.Type == "" {
		c.Embedder.Type = "hashing"
	}
	switch c.Embedder.Type {
	case "hashing":
		if c.Embedder.Hashing == nil {
			c.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if c.Embedder.Hashing.Dimension == 0 {
			c.Embedder.Hashing.Dimension = 384
		}
	case "openai":
		if c.Embedder.OpenAI == nil {
			c.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := c.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 32
		}
		if o.Concurrency == 0 {
			o.Concurrency = 1
		}
	}

	if c.Chunker.Type == "" {
		c.Chunker.Type = "word"
	}
	if c.Chunker.ChunkSize == 0 {
		c.Chunker.ChunkSize = 250
		if c.Chunker.Overlap == 0 {
			c.Chunker.Overlap = 50
		}
	}
	if c.Chunker.SentencesPerChunk == 0 {
		c.Chunker.SentencesPerChunk = 5
	}

	if c.VectorStore.Type == "" {
		c.VectorStore.Type = "local"
	}
	if c.VectorStore.Local.Dir == "" {
		c.VectorStore.Local.Dir = "local_db"
	}
	if c.VectorStore.Local.Index == "" {
		c.VectorStore.Local.Index = "docs_index"
	}

	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.AnswerContexts == 0 {
		c.Retrieval.AnswerContexts = 3
	}

	if c.Logging.Env == "" {
		c.Logging.Env = "local"
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
}

// Validate checks the configuration for correctness. Every error wraps
// domain.ErrInvalidConfiguration.
func (c *AppConfig) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), domain.ErrInvalidConfiguration)
	}

	switch c.Embedder.Type {
	case "hashing":
		if c.Embedder.Hashing != nil && c.Embedder.Hashing.Dimension <= 0 {
			return invalid("embedder.hashing.dimension must be positive, got %d", c.Embedder.Hashing.Dimension)
		}
	case "openai":
		if o := c.Embedder.OpenAI; o != nil {
			if o.BatchSize < 0 || o.Concurrency < 0 || o.MaxRetries < 0 || o.RequestsPerSecond < 0 {
				return invalid("embedder.openai batch_size, concurrency, max_retries and requests_per_second must not be negative")
			}
		}
	default:
		return invalid("embedder.type must be \"hashing\" or \"openai\", got %q", c.Embedder.Type)
	}

	switch c.Chunker.Type {
	case "word":
		if c.Chunker.ChunkSize <= 0 {
			return invalid("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize)
		}
		if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
			return invalid("chunker.overlap must be in [0, %d), got %d", c.Chunker.ChunkSize, c.Chunker.Overlap)
		}
	case "sentence":
		if c.Chunker.SentencesPerChunk <= 0 {
			return invalid("chunker.sentences_per_chunk must be positive, got %d", c.Chunker.SentencesPerChunk)
		}
		if c.Chunker.OverlapSentences < 0 || c.Chunker.OverlapSentences >= c.Chunker.SentencesPerChunk {
			return invalid("chunker.overlap_sentences must be in [0, %d), got %d",
				c.Chunker.SentencesPerChunk, c.Chunker.OverlapSentences)
		}
	default:
		return invalid("chunker.type must be \"word\" or \"sentence\", got %q", c.Chunker.Type)
	}

	switch c.VectorStore.Type {
	case "local", "memory":
	default:
		return invalid("vector_store.type must be \"local\" or \"memory\", got %q", c.VectorStore.Type)
	}

	if c.Retrieval.TopK < 0 {
		return invalid("retrieval.top_k must not be negative, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.AnswerContexts < 0 {
		return invalid("retrieval.answer_contexts must not be negative, got %d", c.Retrieval.AnswerContexts)
	}
	return nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
