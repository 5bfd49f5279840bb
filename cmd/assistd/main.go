// Assistd serves per-tenant retrieval-augmented answers over HTTP or MCP.
//
// Usage:
//
//	# Start the HTTP API with defaults
//	assistd
//
//	# Load a config file and serve MCP on stdio instead
//	assistd --config /etc/assistd/config.yaml --mcp
//
//	# Override settings through the environment
//	ASSISTD_SERVER_PORT=8080 ASSISTD_STORAGE_PROVIDER=qdrant assistd
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
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/cache"
	"github.com/fyrsmithlabs/assistd/internal/config"
	"github.com/fyrsmithlabs/assistd/internal/faq"
	"github.com/fyrsmithlabs/assistd/internal/gateway"
	httpserver "github.com/fyrsmithlabs/assistd/internal/http"
	"github.com/fyrsmithlabs/assistd/internal/ingest"
	"github.com/fyrsmithlabs/assistd/internal/logging"
	mcpserver "github.com/fyrsmithlabs/assistd/internal/mcp"
	"github.com/fyrsmithlabs/assistd/internal/prompt"
	"github.com/fyrsmithlabs/assistd/internal/rag"
	"github.com/fyrsmithlabs/assistd/internal/scrub"
	"github.com/fyrsmithlabs/assistd/internal/telemetry"
	"github.com/fyrsmithlabs/assistd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	mcpMode := flag.Bool("mcp", false, "serve MCP on stdio instead of HTTP")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  assistd [--config file] [--mcp]   Start the server\n")
			fmt.Fprintf(os.Stderr, "  assistd version                   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *mcpMode); err != nil {
		log.Fatalf("assistd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("assistd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run loads configuration, wires every component and serves until ctx is
// cancelled.
func run(ctx context.Context, configPath string, mcpMode bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := initLogger(cfg, mcpMode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), zl)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			zl.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	app, err := wire(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.NATS.Enabled {
		consumer, nc, err := startConsumer(cfg.NATS, app.ingest, zl)
		if err != nil {
			return err
		}
		defer nc.Close()
		defer func() { _ = consumer.Stop() }()
	}

	if mcpMode {
		return serveMCP(ctx, app, zl)
	}
	return serveHTTP(ctx, cfg, app, zl)
}

func initLogger(cfg *config.Config, mcpMode bool) (*logging.Logger, error) {
	lcfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	lcfg.Fields["version"] = version
	lcfg.Stderr = mcpMode
	return logging.NewLogger(lcfg, nil)
}

// application holds the wired services.
type application struct {
	gateway  *gateway.Gateway
	store    *vectorstore.Store
	matcher  *faq.Matcher
	faqGen   *faq.Generator
	prompts  *prompt.Synthesizer
	answers  *rag.Service
	ingest   *ingest.Service
	logger   *zap.Logger
}

func wire(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	gw, err := gateway.New(ctx, cfg, logger.Named("gateway"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model gateway: %w", err)
	}

	store, err := vectorstore.Open(ctx, cfg.Storage, gw.Embedder, logger.Named("vectorstore"))
	if err != nil {
		_ = gw.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	app := &application{gateway: gw, store: store, logger: logger}

	staleness, err := faq.ParsePolicy(cfg.FAQ.Staleness)
	if err != nil {
		app.Close()
		return nil, err
	}
	files := faq.NewFiles(cfg.FAQ.DataDir)
	app.matcher, err = faq.NewMatcher(files, gw.Embedder, faq.Options{
		Threshold: cfg.FAQ.Threshold,
		Staleness: staleness,
		Logger:    logger.Named("faq"),
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create faq matcher: %w", err)
	}
	app.faqGen = faq.NewGenerator(store, gw.Generator, files, app.matcher, cfg.FAQ.GenerateMaxChars, logger.Named("faq"))

	promptCache, err := cache.New("prompt", cfg.Prompt.CacheSize, logger.Named("cache"))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create prompt cache: %w", err)
	}
	app.prompts = prompt.New(promptCache, gw.Generator, store, prompt.Options{
		DiscoverMaxChars: cfg.Prompt.DiscoverMaxChars,
		Temperature:      cfg.Prompt.Temperature,
		Logger:           logger.Named("prompt"),
	})

	app.answers, err = rag.New(app.matcher, store, app.prompts, gw.Generator, rag.Options{
		TopK:          cfg.Retrieval.TopK,
		ContextBudget: cfg.Retrieval.ContextBudget,
		HistoryTurns:  cfg.Retrieval.HistoryTurns,
		Temperature:   cfg.Retrieval.Temperature,
		Policy:        cfg.Retrieval.SystemPrompt,
		AnswerTimeout: cfg.Retrieval.AnswerTimeout.Duration(),
		Logger:        logger.Named("rag"),
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create answer service: %w", err)
	}

	var ingestOpts []ingest.Option
	if cfg.Ingest.ScrubSecrets {
		allow, err := scrub.LoadAllowlist(cfg.Ingest.SecretAllowlist)
		if err != nil {
			app.Close()
			return nil, err
		}
		scrubber, err := scrub.New(allow)
		if err != nil {
			app.Close()
			return nil, err
		}
		ingestOpts = append(ingestOpts, ingest.WithScrubber(scrubber))
	}
	app.ingest = ingest.NewService(store, cfg.Ingest.ChunkSize, logger.Named("ingest"), ingestOpts...)

	logger.Info("services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("faq_staleness", string(staleness)),
		zap.String("system_prompt_policy", cfg.Retrieval.SystemPrompt),
		zap.Bool("scrub_secrets", cfg.Ingest.ScrubSecrets))
	return app, nil
}

// Close releases every resource in reverse order of creation.
func (a *application) Close() {
	if a.matcher != nil {
		_ = a.matcher.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("vector store close failed", zap.Error(err))
	}
	if err := a.gateway.Close(); err != nil {
		a.logger.Warn("gateway close failed", zap.Error(err))
	}
}

func startConsumer(cfg config.NATSConfig, svc *ingest.Service, logger *zap.Logger) (*ingest.Consumer, *nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("assistd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	consumer := ingest.NewConsumer(nc, svc, ingest.ConsumerConfig{
		Subject:    cfg.Subject,
		DLQSubject: cfg.DLQSubject,
		Queue:      cfg.Queue,
		MaxRetries: cfg.MaxRetries,
	}, logger.Named("ingest.consumer"))
	if err := consumer.Start(); err != nil {
		nc.Close()
		return nil, nil, err
	}

	logger.Info("connected to NATS", zap.String("url", cfg.URL))
	return consumer, nc, nil
}

func serveMCP(ctx context.Context, app *application, logger *zap.Logger) error {
	server, err := mcpserver.NewServer(&mcpserver.Config{
		Name:    "assistd",
		Version: version,
		Logger:  logger.Named("mcp"),
	}, mcpserver.Services{
		Answers:   app.answers,
		Ingest:    app.ingest,
		Prompts:   app.prompts,
		FAQ:       app.faqGen,
		Documents: app.store,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "assistd MCP stdio mode started\n")
	return server.Run(ctx)
}

func serveHTTP(ctx context.Context, cfg *config.Config, app *application, logger *zap.Logger) error {
	server, err := httpserver.NewServer(httpserver.Services{
		Answers:   app.answers,
		Ingest:    app.ingest,
		Prompts:   app.prompts,
		FAQ:       app.faqGen,
		Documents: app.store,
	}, logger.Named("http"), &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}
