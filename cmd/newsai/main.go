package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/matthewjhunter/newsai"
	"github.com/matthewjhunter/newsai/internal/auth"
	"github.com/matthewjhunter/newsai/internal/output"
	"github.com/matthewjhunter/newsai/internal/storage"
)

var (
	configPath   string
	dbPath       string
	outputFormat string
	verbose      bool

	cfg       *storage.Config
	logger    *zap.Logger
	formatter *output.Formatter
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "newsai",
		Short:         "RSS reader that scrapes, summarizes and tags articles with an LLM",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path, .yaml or .toml (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "human", "output format: json, text, human")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(contentCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(regenerateCmd())
	rootCmd.AddCommand(feedsCmd())
	rootCmd.AddCommand(tagsCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	formatter = output.NewFormatter(format)

	// .env is optional
	_ = godotenv.Load()

	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err = storage.LoadConfig(configPath)
	if err != nil {
		return err
	}
	storage.ApplyEnv(cfg, os.Getenv)
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	logger, err = newsai.NewLogger(verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

func openEngine() (*newsai.Engine, error) {
	engine, err := newsai.NewEngine(newsai.EngineConfig{
		Config: cfg,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

// withEngine opens the engine for the duration of fn.
func withEngine(fn func(ctx context.Context, engine *newsai.Engine) error) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, engine)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch every due feed once and store new articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				if _, err := engine.RegisterDefaultFeeds(); err != nil {
					formatter.Warning("failed to register default feeds: %v", err)
				}
				result, err := engine.RefreshFeeds(ctx)
				if err != nil {
					return err
				}
				return formatter.OutputRefreshResult(result)
			})
		},
	}
}

func listCmd() *cobra.Command {
	var req newsai.PageRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a page of articles, scraping and summarizing them as needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				page, err := engine.ListArticles(ctx, req)
				if err != nil {
					return err
				}
				return formatter.OutputPage(page)
			})
		},
	}
	cmd.Flags().IntVarP(&req.Page, "page", "p", 1, "page number")
	cmd.Flags().IntVarP(&req.PageSize, "size", "n", 0, "articles per page (default from config)")
	cmd.Flags().Int64SliceVar(&req.FeedIDs, "feed", nil, "only articles from these feed IDs")
	cmd.Flags().Int64SliceVar(&req.TagIDs, "tag", nil, "only articles carrying all of these tag IDs")
	cmd.Flags().StringVarP(&req.Keyword, "keyword", "k", "", "match title or content")
	cmd.Flags().StringVar(&req.SummaryPrompt, "summary-prompt", "", "custom summary prompt for missing summaries")
	cmd.Flags().StringVar(&req.TagPrompt, "tag-prompt", "", "custom tag prompt for missing tags")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <article-id>",
		Short: "Show one article, processing it first if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				article, err := engine.GetArticle(ctx, id)
				if err != nil {
					return err
				}
				return formatter.OutputArticle(article)
			})
		},
	}
}

func contentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "content <article-id>",
		Short: "Print the sanitized HTML captured when the article was scraped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				c, err := engine.ArticleContent(id)
				if err != nil {
					return err
				}
				return formatter.OutputArticleContent(c)
			})
		},
	}
}

func chatCmd() *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "chat <article-id> <question...>",
		Short: "Ask a question about an article",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req := newsai.ChatRequest{
				Question: strings.Join(args[1:], " "),
				Prompt:   prompt,
			}
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				resp, err := engine.Chat(ctx, id, req)
				if err != nil {
					return err
				}
				return formatter.OutputChat(resp)
			})
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "custom chat prompt")
	return cmd
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <article-id>",
		Short: "Show the stored conversation about an article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				turns, err := engine.ChatHistory(id)
				if err != nil {
					return err
				}
				return formatter.OutputChatHistory(turns)
			})
		},
	}
}

func regenerateCmd() *cobra.Command {
	var req newsai.RegenerateRequest
	cmd := &cobra.Command{
		Use:   "regenerate <article-id>",
		Short: "Re-scrape if needed and regenerate an article's summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				article, err := engine.RegenerateSummary(ctx, id, req)
				if err != nil {
					return err
				}
				return formatter.OutputArticle(article)
			})
		},
	}
	cmd.Flags().StringVar(&req.Prompt, "prompt", "", "custom summary prompt")
	cmd.Flags().BoolVar(&req.RegenerateTags, "tags", false, "also regenerate tags")
	return cmd
}

func feedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Manage feed sources",
	}
	cmd.AddCommand(feedsListCmd(), feedsAddCmd(), feedsUpdateCmd(), feedsRemoveCmd(), feedsImportCmd())
	return cmd
}

func feedsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				ff, err := engine.Feeds()
				if err != nil {
					return err
				}
				return formatter.OutputFeeds(ff)
			})
		},
	}
}

func feedsAddCmd() *cobra.Command {
	var name string
	var interval int
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Register a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := newsai.AddFeedRequest{URL: args[0], Name: name}
			if cmd.Flags().Changed("interval") {
				req.FetchIntervalMinutes = &interval
			}
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				feed, err := engine.AddFeed(req)
				if err != nil {
					return err
				}
				return formatter.OutputFeeds([]newsai.Feed{*feed})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (default: the URL host)")
	cmd.Flags().IntVar(&interval, "interval", 0, "fetch interval in minutes (default from config)")
	return cmd
}

func feedsUpdateCmd() *cobra.Command {
	var name string
	var interval int
	cmd := &cobra.Command{
		Use:   "update <feed-id>",
		Short: "Rename a feed or change its fetch interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var req newsai.UpdateFeedRequest
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("interval") {
				req.FetchIntervalMinutes = &interval
			}
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				feed, err := engine.UpdateFeed(id, req)
				if err != nil {
					return err
				}
				return formatter.OutputFeeds([]newsai.Feed{*feed})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new display name")
	cmd.Flags().IntVar(&interval, "interval", 0, "new fetch interval in minutes")
	return cmd
}

func feedsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <feed-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a feed and its articles",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				if err := engine.DeleteFeed(id); err != nil {
					return err
				}
				fmt.Printf("Deleted feed %d\n", id)
				return nil
			})
		},
	}
}

func feedsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <opml-file>",
		Short: "Register every feed listed in an OPML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				n, err := engine.ImportOPML(args[0])
				if err != nil {
					return fmt.Errorf("failed to import OPML: %w", err)
				}
				fmt.Printf("Imported %d feeds from %s\n", n, args[0])
				return nil
			})
		},
	}
}

func tagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List tags with their article counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				tags, err := engine.Tags()
				if err != nil {
					return err
				}
				return formatter.OutputTags(tags)
			})
		},
	}
}

func cleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete articles older than a number of days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, engine *newsai.Engine) error {
				result, err := engine.Cleanup(days)
				if err != nil {
					return err
				}
				return formatter.OutputCleanup(result)
			})
		},
	}
	cmd.Flags().IntVar(&days, "older-than-days", 30, "age threshold in days")
	return cmd
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Create a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := filepath.Dir(configPath)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config file already exists: %s", configPath)
			}

			data, err := yaml.Marshal(storage.DefaultConfig())
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}

			if err := os.WriteFile(configPath, data, 0644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Printf("Created default config at %s\n", configPath)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token for the web API",
		Long: `Signs an HS256 token with server.admin_secret (or NEWSAI_ADMIN_SECRET).
Send it as "Authorization: Bearer <token>" to the feed, refresh and cleanup routes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := auth.NewToken(cfg.Server.AdminSecret, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}
