package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"coderag/internal/app"
	"coderag/internal/llm"
	"coderag/internal/types"
)

var flagNoSources bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question about an indexed collection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		collection, err := collectionFor("")
		if err != nil {
			return err
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		_, matches, err := answer(ctx, a, out, collection, strings.Join(args, " "), filterFromFlags(), nil)
		if err != nil {
			return err
		}
		if !flagNoSources && len(matches) > 0 {
			fmt.Fprintln(out, "\nSources:")
			printSources(out, matches)
		}
		return nil
	},
}

// answer retrieves context for question and streams the generated reply to
// w. It returns the full reply and the matches it was grounded on.
func answer(ctx context.Context, a *app.App, w io.Writer, collection, question string, filter types.Filter, history []llm.Message) (string, types.QueryResult, error) {
	ans, err := a.Engine.Ask(ctx, collection, question, a.AskOptions(cfg.Query.TopK, filter, history))
	if err != nil {
		return "", nil, fmt.Errorf("retrieval: %w", err)
	}

	var sb strings.Builder
	for part, err := range a.Generator.Stream(ctx, a.Request(ans)) {
		if err != nil {
			fmt.Fprintln(w)
			return sb.String(), ans.Matches, fmt.Errorf("generation: %w", err)
		}
		sb.WriteString(part)
		fmt.Fprint(w, part)
	}
	fmt.Fprintln(w)
	return sb.String(), ans.Matches, nil
}

func printSources(w io.Writer, matches types.QueryResult) {
	for _, m := range matches {
		fmt.Fprintf(w, "  %s:%d-%d (%.3f)\n", m.Chunk.FilePath, m.Chunk.StartLine, m.Chunk.EndLine, m.Score)
	}
}

func init() {
	f := askCmd.Flags()
	addRetrievalFlags(f)
	addFilterFlags(f)
	f.BoolVar(&flagNoSources, "no-sources", false, "do not list the chunks the answer was based on")
	rootCmd.AddCommand(askCmd)
}
