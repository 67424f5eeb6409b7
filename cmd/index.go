package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coderag/internal/index"
	"coderag/internal/repo"
)

var (
	flagURL      string
	flagForce    bool
	flagStrategy string
	flagMaxChunk int
	flagOverlap  int
	flagWorkers  int
	flagQuiet    bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a source tree or a remote repository for search",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		var root, collection string
		switch {
		case flagURL != "":
			name := repo.NameFromURL(flagURL)
			root = filepath.Join(cfg.CloneDir(), name)
			if err := repo.Clone(ctx, flagURL, root, cfg.Index.CloneDepth, log); err != nil {
				return err
			}
			collection = repo.SanitizeCollectionName(name)
			if flagCollection != "" {
				collection = repo.SanitizeCollectionName(flagCollection)
			}
		case len(args) == 1:
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			root = abs
		default:
			return fmt.Errorf("give a path or --url")
		}
		if collection == "" {
			c, err := collectionFor(root)
			if err != nil {
				return err
			}
			collection = c
		}

		if info, err := repo.Describe(ctx, root); err == nil {
			printRepoInfo(out, info)
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Embedder.Ping(ctx); err != nil {
			return fmt.Errorf("embedding backend %s unavailable: %w", a.Embedder.Model(), err)
		}

		opts := a.IndexOptions(collection)
		opts.Force = flagForce
		if !flagQuiet {
			opts.Progress = func(stage string, current, total int) {
				fmt.Fprintf(cmd.ErrOrStderr(), "\r  %s %d/%d", stage, current, total)
			}
		}

		fmt.Fprintf(out, "Indexing %s into collection %q...\n", root, collection)
		sum, err := a.Indexer.Index(ctx, root, opts)
		if !flagQuiet {
			fmt.Fprintln(cmd.ErrOrStderr())
		}
		if sum != nil {
			printSummary(out, sum)
		}
		if err != nil {
			log.Error("indexing failed", zap.String("collection", collection), zap.Error(err))
		}
		return err
	},
}

func printRepoInfo(w io.Writer, info *repo.Info) {
	line := info.Name
	if info.Language != "" {
		line += " (" + info.Language + ")"
	}
	if info.Description != "" {
		line += ": " + info.Description
	}
	fmt.Fprintln(w, line)
}

func printSummary(w io.Writer, sum *index.Summary) {
	fmt.Fprintf(w, "\nDone in %s\n", sum.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Files:    %d discovered, %d indexed, %d unchanged, %d failed, %d removed\n",
		sum.FilesDiscovered, sum.FilesProcessed, sum.FilesUnchanged, sum.FilesFailed, sum.FilesRemoved)
	fmt.Fprintf(w, "  Chunks:   %d created, %d embedded, %d from cache\n",
		sum.ChunksCreated, sum.ChunksEmbedded, sum.CacheHits)
	if len(sum.Warnings) > 0 {
		fmt.Fprintf(w, "  Warnings: %d\n", len(sum.Warnings))
		for _, warn := range sum.Warnings {
			fmt.Fprintf(w, "    %s\n", warn)
		}
	}
}

func init() {
	f := indexCmd.Flags()
	f.StringVar(&flagURL, "url", "", "clone and index a git repository")
	f.BoolVar(&flagForce, "force", false, "re-index files even when unchanged")
	f.StringVar(&flagStrategy, "strategy", "function", "chunking strategy (function, class, file, sliding)")
	f.IntVar(&flagMaxChunk, "max-chunk", 1000, "maximum chunk size in tokens")
	f.IntVar(&flagOverlap, "overlap", 0, "sliding window overlap in tokens (default 10% of --max-chunk)")
	f.IntVar(&flagWorkers, "workers", 0, "parallel workers (default number of CPUs)")
	f.BoolVarP(&flagQuiet, "quiet", "q", false, "do not print progress")
	rootCmd.AddCommand(indexCmd)
}
