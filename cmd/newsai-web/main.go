package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/matthewjhunter/newsai"
	"github.com/matthewjhunter/newsai/internal/storage"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "config file path (.yaml or .toml)")
	dbPath := flag.String("db", "", "path to SQLite database (overrides config)")
	addr := flag.String("addr", "", "listen address (overrides config)")
	verbose := flag.Bool("verbose", false, "debug logging")
	noScheduler := flag.Bool("no-scheduler", false, "serve only; do not refresh feeds in the background")
	flag.Parse()

	if err := run(*configPath, *dbPath, *addr, *verbose, !*noScheduler); err != nil {
		fmt.Fprintf(os.Stderr, "newsai-web: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dbPath, addr string, verbose, schedule bool) error {
	_ = godotenv.Load()

	cfg, err := storage.LoadConfig(configPath)
	if err != nil {
		return err
	}
	storage.ApplyEnv(cfg, os.Getenv)
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger, err := newsai.NewLogger(verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	engine, err := newsai.NewEngine(newsai.EngineConfig{
		Config: cfg,
		DBPath: dbPath,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	if schedule {
		if err := engine.StartScheduler(); err != nil {
			return err
		}
	}
	if cfg.Server.AdminSecret == "" {
		logger.Warn("no admin secret configured; feed and cleanup routes are unauthenticated")
	}

	var handler http.Handler = newRouter(engine, cfg.Server.AdminSecret, logger.Named("http"))
	handler = recovery(logger)(handler)
	handler = logging(logger.Named("access"))(handler)
	handler = withRequestID(handler)

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Article pages wait on scraping and generation.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-done:
	}
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}
