package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coderag/internal/app"
	"coderag/internal/config"
	"coderag/internal/logger"
	"coderag/internal/repo"
)

var (
	flagConfig     string
	flagDataDir    string
	flagDB         string
	flagOllama     string
	flagModel      string
	flagChatModel  string
	flagCollection string
	flagLogLevel   string
)

// flagKeys binds config keys to the flags that override them. Flags a
// command does not define are ignored.
var flagKeys = map[string]string{
	"data_dir":                 "data-dir",
	"store.path":               "db",
	"embedding.base_url":       "ollama",
	"llm.base_url":             "ollama",
	"embedding.model":          "model",
	"llm.model":                "chat-model",
	"log.level":                "log-level",
	"index.strategy":           "strategy",
	"index.max_tokens":         "max-chunk",
	"index.overlap":            "overlap",
	"index.workers":            "workers",
	"query.top_k":              "top-k",
	"query.min_similarity":     "min-similarity",
	"query.max_context_tokens": "max-context",
}

// tuiAnnotation marks commands that take over the terminal.
const tuiAnnotation = "tui"

var (
	cfg *config.Config
	log = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "coderag",
	Short:         "Index source repositories and search them by meaning",
	Annotations:   map[string]string{tuiAnnotation: "true"},
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd, cmd.Annotations[tuiAnnotation] == "true")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = log.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd.Context(), "")
	},
}

// Execute runs the CLI and exits 1 on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default ./.coderag/coderag.toml, then ~/.config/coderag/coderag.toml)")
	pf.StringVar(&flagDataDir, "data-dir", config.DefaultDataDir, "directory holding the index and embedding cache")
	pf.StringVar(&flagDB, "db", "", "vector index path (default <data-dir>/index.db)")
	pf.StringVar(&flagOllama, "ollama", config.DefaultOllamaURL, "ollama base URL")
	pf.StringVar(&flagModel, "model", "nomic-embed-text", "embedding model")
	pf.StringVar(&flagChatModel, "chat-model", "llama3.2", "generative model for ask and chat")
	pf.StringVarP(&flagCollection, "collection", "c", "", "collection name (default derived from the indexed directory)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// setup loads the configuration and builds the logger. The TUI owns the
// terminal, so its logs go to a file under the data directory.
func setup(cmd *cobra.Command, tui bool) error {
	c, _, err := config.Load(config.Options{
		File:     flagConfig,
		Flags:    cmd.Flags(),
		FlagKeys: flagKeys,
	})
	if err != nil {
		return err
	}
	logOpts := logger.Options{Level: c.Log.Level, Format: c.Log.Format, Output: c.Log.Output}
	if tui && (logOpts.Output == "" || logOpts.Output == "stderr" || logOpts.Output == "stdout") {
		if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		logOpts.Output = filepath.Join(c.DataDir, "coderag.log")
	}
	l, err := logger.New(logOpts)
	if err != nil {
		return err
	}
	cfg = c
	log = l
	return nil
}

func openApp(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, cfg, log)
}

// collectionFor returns --collection, or a name derived from dir.
func collectionFor(dir string) (string, error) {
	if flagCollection != "" {
		return repo.SanitizeCollectionName(flagCollection), nil
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return repo.SanitizeCollectionName(filepath.Base(abs)), nil
}
