package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"coderag/internal/query"
	"coderag/internal/types"
)

var (
	flagTopK        int
	flagMinSim      float64
	flagMaxContext  int
	flagShowContext bool
	flagShowCode    bool

	flagFilterPath   string
	flagFilterPrefix string
	flagFilterKind   string
	flagFilterLang   string
	flagFilterName   string
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search an indexed collection and print the best matching chunks",
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

		text := strings.Join(args, " ")
		matches, err := a.Engine.Retrieve(ctx, collection, text, cfg.Query.TopK, filterFromFlags())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if flagShowContext {
			fmt.Fprintln(out, query.BuildContext(matches, cfg.Query.MaxContextTokens))
			return nil
		}
		printMatches(out, text, matches, flagShowCode)
		return nil
	},
}

func addFilterFlags(f *pflag.FlagSet) {
	f.StringVar(&flagFilterPath, "file", "", "only chunks of this file")
	f.StringVar(&flagFilterPrefix, "path-prefix", "", "only chunks under this path prefix")
	f.StringVar(&flagFilterKind, "kind", "", "only chunks of this kind (function, class, module, file, window)")
	f.StringVar(&flagFilterLang, "lang", "", "only chunks in this language")
	f.StringVar(&flagFilterName, "name", "", "only chunks with this name")
}

func addRetrievalFlags(f *pflag.FlagSet) {
	f.IntVarP(&flagTopK, "top-k", "k", 10, "number of chunks to retrieve")
	f.Float64Var(&flagMinSim, "min-similarity", 0.3, "drop matches below this score (negative keeps all)")
	f.IntVar(&flagMaxContext, "max-context", 4000, "token budget for the assembled context")
}

func filterFromFlags() types.Filter {
	return types.Filter{
		FilePath:   flagFilterPath,
		PathPrefix: flagFilterPrefix,
		Kind:       types.ChunkKind(flagFilterKind),
		Language:   flagFilterLang,
		Name:       flagFilterName,
	}
}

func printMatches(w io.Writer, text string, matches types.QueryResult, code bool) {
	if len(matches) == 0 {
		fmt.Fprintf(w, "No results found for %q\n", text)
		return
	}
	for i, m := range matches {
		c := m.Chunk
		label := string(c.Kind)
		if c.Name != "" {
			label += " " + c.Name
		}
		fmt.Fprintf(w, "%2d. %.3f  %s:%d-%d  %s\n", i+1, m.Score, c.FilePath, c.StartLine, c.EndLine, label)
		if code {
			for _, line := range strings.Split(c.Content, "\n") {
				fmt.Fprintf(w, "      %s\n", line)
			}
			fmt.Fprintln(w)
		}
	}
}

func init() {
	f := queryCmd.Flags()
	addRetrievalFlags(f)
	addFilterFlags(f)
	f.BoolVar(&flagShowContext, "context", false, "print the assembled context block instead of the match list")
	f.BoolVar(&flagShowCode, "code", false, "print each match's source")
	rootCmd.AddCommand(queryCmd)
}
