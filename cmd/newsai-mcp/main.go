// newsai-mcp is a standalone MCP server for the newsai engine. It opens the
// newsai SQLite database directly and serves article, chat and feed tools
// over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/matthewjhunter/newsai"
	"github.com/matthewjhunter/newsai/internal/storage"
)

func main() {
	configPath := flag.String("config", "./config/config.yaml", "config file path (.yaml or .toml)")
	dbPath := flag.String("db", "", "path to newsai database (overrides config)")
	refresh := flag.Bool("refresh", false, "refresh feeds on the configured schedule while connected")
	verbose := flag.Bool("verbose", false, "debug logging (stderr)")
	flag.Parse()

	if err := run(*configPath, *dbPath, *refresh, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "newsai-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dbPath string, refresh, verbose bool) error {
	_ = godotenv.Load()

	cfg, err := storage.LoadConfig(configPath)
	if err != nil {
		return err
	}
	storage.ApplyEnv(cfg, os.Getenv)

	// stdout carries the protocol; the logger writes to stderr.
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
		return fmt.Errorf("create newsai engine: %w", err)
	}
	defer engine.Close()

	if refresh {
		if err := engine.StartScheduler(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newServer(engine, logger.Named("mcp")).run(ctx)
}
