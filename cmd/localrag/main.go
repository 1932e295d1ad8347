package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"localrag/internal/answer"
	"localrag/internal/chunker"
	"localrag/internal/config"
	"localrag/internal/domain"
	"localrag/internal/embedding/hashing"
	"localrag/internal/embedding/openai"
	logpkg "localrag/internal/logger"
	"localrag/internal/metrics"
	"localrag/internal/service"
	chiTransport "localrag/internal/transport/chi"
	"localrag/internal/tui"
	"localrag/internal/vectorstore"
	"localrag/internal/vectorstore/local"
	"localrag/internal/vectorstore/memory"
)

const usage = `Usage: localrag [--config=config.yaml] <command> [args]

Commands:
  ingest <file|glob>...   index .txt and .md files
  query <question>        print an answer and its contexts
  reset                   delete the index and its persisted data
  serve                   run the HTTP API
  tui [file|glob]...      interactive terminal UI (default), optionally ingesting files first
`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	var topK int
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/localrag/config.yaml if not provided)")
	flag.IntVar(&topK, "top-k", 0, "Number of contexts to retrieve (overrides retrieval.top_k)")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if topK > 0 {
		cfg.Retrieval.TopK = topK
	}

	args := flag.Args()
	cmd := "tui"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var logger *zap.Logger
	if cmd == "tui" {
		// console output would corrupt the terminal UI
		logger = zap.NewNop()
	} else {
		logger, err = logpkg.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
		if err != nil {
			log.Fatalf("failed to init logger: %v", err)
		}
	}
	defer func() { _ = logger.Sync() }()
	metrics.Register()

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to assemble components", zap.Error(err))
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "ingest":
		err = runIngest(ctx, app, args)
	case "query":
		err = runQuery(ctx, app, strings.Join(args, " "))
	case "reset":
		err = app.svc.Reset(ctx)
		if err == nil {
			fmt.Println("Database cleared.")
		}
	case "serve":
		err = runServe(ctx, app, cfg.HTTP, logger)
	case "tui":
		err = runTUI(ctx, app, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		app.Close()
		os.Exit(2)
	}
	if err != nil {
		app.Close()
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

type app struct {
	svc      *service.RAGServiceImpl
	store    vectorstore.Storage
	recovery local.Recovery
	topK     int
}

func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
}

// newApp assembles chunker, embedder, store and synthesizer from cfg.
func newApp(cfg *config.AppConfig, logger *zap.Logger) (*app, error) {
	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "hashing":
		e, err := hashing.NewEmbedder(cfg.Embedder.Hashing.Dimension)
		if err != nil {
			return nil, fmt.Errorf("hashing embedder: %w", err)
		}
		emb = e
	case "openai":
		o := cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:           o.BaseURL,
			APIKeyEnv:         o.APIKeyEnv,
			Model:             o.Model,
			Dimensions:        o.Dimensions,
			BatchSize:         o.BatchSize,
			Concurrency:       o.Concurrency,
			RequestsPerSecond: o.RequestsPerSecond,
			Timeout:           time.Duration(o.TimeoutSecs) * time.Second,
			MaxRetries:        o.MaxRetries,
			Logger:            logger.Named("openai"),
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		emb = client
	default:
		return nil, fmt.Errorf("unknown embedder %q: %w", cfg.Embedder.Type, domain.ErrInvalidConfiguration)
	}

	var ch domain.Chunker
	var err error
	switch cfg.Chunker.Type {
	case "word":
		ch, err = chunker.NewWordChunker(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap)
	case "sentence":
		ch, err = chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences)
	default:
		err = fmt.Errorf("unknown chunker %q: %w", cfg.Chunker.Type, domain.ErrInvalidConfiguration)
	}
	if err != nil {
		return nil, err
	}

	a := &app{topK: cfg.Retrieval.TopK}
	switch cfg.VectorStore.Type {
	case "local":
		st, err := local.Open(local.Config{
			Dir:    cfg.VectorStore.Local.Dir,
			Index:  cfg.VectorStore.Local.Index,
			Lock:   cfg.VectorStore.Local.Lock,
			Logger: logger.Named("store"),
		})
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		a.store = st
		a.recovery = st.Recovery()
	case "memory":
		a.store = memory.NewStorage(logger.Named("store"))
	default:
		return nil, fmt.Errorf("unknown vector store %q: %w", cfg.VectorStore.Type, domain.ErrInvalidConfiguration)
	}

	syn := answer.NewTemplateSynthesizer(cfg.Retrieval.AnswerContexts)
	a.svc = service.NewRAGService(ch, emb, a.store, syn, cfg.Retrieval.TopK, logger.Named("rag"))
	return a, nil
}

func runIngest(ctx context.Context, a *app, paths []string) error {
	if len(paths) == 0 {
		return errors.New("ingest needs at least one file")
	}
	res, err := a.svc.IngestFiles(ctx, paths)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d documents into %d chunks (dimension %d).\n", res.Documents, res.Chunks, res.Dimension)
	for _, s := range res.Skipped {
		fmt.Printf("Skipped %s: no text extracted.\n", s)
	}
	return nil
}

func runQuery(ctx context.Context, a *app, question string) error {
	if strings.TrimSpace(question) == "" {
		return errors.New("please enter a question")
	}
	resp, err := a.svc.Answer(ctx, question, a.topK)
	if err != nil {
		return err
	}
	fmt.Println(resp.Answer)
	if len(resp.Contexts) > 0 {
		fmt.Println("\nRetrieved contexts:")
	}
	for i, c := range resp.Contexts {
		fmt.Printf("\n[%d] %s (score %.3f)\n%s\n", i+1, c.Source, c.Score, c.Text)
	}
	return nil
}

func runServe(ctx context.Context, a *app, cfg config.HTTPConfig, logger *zap.Logger) error {
	server := chiTransport.NewServer(a.svc, logger.Named("http"))
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func runTUI(ctx context.Context, a *app, paths []string) error {
	var notes []string
	if a.recovery.Recovered {
		notes = append(notes, fmt.Sprintf("Index artifact was unreadable and has been reset (%v).", a.recovery.Err))
	}
	if len(paths) > 0 {
		res, err := a.svc.IngestFiles(ctx, paths)
		if err != nil {
			return err
		}
		notes = append(notes, fmt.Sprintf("Indexed %d documents into %d chunks.", res.Documents, res.Chunks))
		if len(res.Skipped) > 0 {
			notes = append(notes, "Skipped: "+strings.Join(res.Skipped, ", "))
		}
	}

	m := tui.New(a.svc, a.topK, strings.Join(notes, " "))
	_, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
