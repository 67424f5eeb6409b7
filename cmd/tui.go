package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"coderag/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:         "tui [path]",
	Short:       "Index a directory and chat about it in an interactive terminal UI",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{tuiAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		root := ""
		if len(args) == 1 {
			root = args[0]
		}
		return runTUI(cmd.Context(), root)
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(ctx context.Context, root string) error {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		root = wd
	}
	collection, err := collectionFor(root)
	if err != nil {
		return err
	}
	log.Info("tui starting")
	return tui.Run(ctx, tui.Config{
		Settings:   cfg,
		Root:       root,
		Collection: collection,
		Logger:     log,
	})
}
