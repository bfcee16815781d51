package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"

	"recalld/internal/adapter/embedding"
	"recalld/internal/adapter/gateway"
	chromemidx "recalld/internal/adapter/index/chromem"
	sqliteidx "recalld/internal/adapter/index/sqlite"
	"recalld/internal/domain"
	"recalld/internal/infra/config"
	"recalld/internal/infra/logger"
	"recalld/internal/infra/tracer"
	"recalld/internal/usecase"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "encrypt":
			if err := runEncrypt(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`recalld - session-scoped context recall daemon

USAGE:
    recalld [COMMAND] [FLAGS]

COMMANDS:
    encrypt     Encrypt a secret for use in the config file
                (reads RECALLD_CONFIG_KEY for the passphrase)

    (no command) - Run the daemon with existing config

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./recalld.yaml)

CONFIGURATION:
    Config file: ./recalld.yaml
    Environment: RECALLD_* variables override config

EXAMPLES:
    recalld                              # Run with recalld.yaml
    recalld --config /etc/recalld.yaml   # Run with custom config
    RECALLD_CONFIG_KEY=pass recalld encrypt sk-...   # Encrypt an API key`)
}

// runEncrypt prints an "enc:" value suitable for the config file.
func runEncrypt(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: recalld encrypt <value>")
	}
	passphrase := os.Getenv("RECALLD_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("RECALLD_CONFIG_KEY is not set")
	}
	encrypted, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Printf("enc:%s\n", encrypted)
	return nil
}

func run(args []string) error {
	flags := flag.NewFlagSet("recalld", flag.ExitOnError)
	configPath := flags.String("config", "recalld.yaml", "config file path")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	index, err := buildIndex(cfg.Index, log)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}

	embedder, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		index.Close()
		return fmt.Errorf("init embedder: %w", err)
	}

	engine := usecase.NewEngine(cfg.Engine, index, embedder, nil, log)
	defer engine.Close()

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Engine.SweepSchedule, func() {
		engine.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", cfg.Engine.SweepSchedule, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	log.Info("recalld started",
		"index", index.Name(),
		"embedder", embedder.Name(),
		"durability", cfg.Engine.Durability,
		"retrieval_timeout", cfg.Engine.RetrievalTimeout,
	)

	if !cfg.Gateway.Enabled {
		<-ctx.Done()
		log.Info("shutting down")
		return nil
	}

	srv := gateway.NewServer(engine, cfg.Gateway, log)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("shutting down")
	return nil
}

// buildIndex selects the persistent index backend.
func buildIndex(cfg config.IndexConfig, log *slog.Logger) (domain.Index, error) {
	switch cfg.Backend {
	case "chromem":
		return chromemidx.New(log)
	case "sqlite", "":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return sqliteidx.New(cfg.Path, log)
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Backend)
	}
}

// buildEmbedder selects the embedding provider and wraps it in the query
// embedding cache.
func buildEmbedder(cfg config.EmbeddingConfig) (domain.EmbeddingProvider, error) {
	var provider domain.EmbeddingProvider

	switch cfg.Provider {
	case "local", "":
		var opts []embedding.LocalOption
		if cfg.Dims > 0 {
			opts = append(opts, embedding.WithLocalDimensions(cfg.Dims))
		}
		provider = embedding.NewLocalProvider(opts...)
	case "ollama":
		opts := []embedding.OllamaOption{embedding.WithOllamaModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, embedding.WithOllamaBaseURL(cfg.BaseURL))
		}
		if cfg.Dims > 0 {
			opts = append(opts, embedding.WithOllamaDimensions(cfg.Dims))
		}
		provider = embedding.NewOllamaProvider(opts...)
	case "openai":
		var opts []embedding.OpenAIOption
		if cfg.Model != "" {
			opts = append(opts, embedding.WithOpenAIModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, embedding.WithOpenAIBaseURL(cfg.BaseURL))
		}
		if cfg.Dims > 0 {
			opts = append(opts, embedding.WithOpenAIDimensions(cfg.Dims))
		}
		provider = embedding.NewOpenAIProvider(cfg.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}

	return embedding.NewCachedEmbedder(provider, cfg.CacheSize), nil
}
