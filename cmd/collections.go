package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"coderag/internal/types"
)

var flagYes bool

var collectionsCmd = &cobra.Command{
	Use:     "collections",
	Aliases: []string{"col"},
	Short:   "Inspect and remove indexed collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		cols, err := a.Index.ListCollections(ctx)
		if err != nil {
			return err
		}
		printCollections(cmd.OutOrStdout(), cols)
		return nil
	},
}

var collectionsShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show one collection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name, err := nameArg(args)
		if err != nil {
			return err
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		col, err := a.Index.GetCollection(ctx, name)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Name:      %s\n", col.Name)
		fmt.Fprintf(out, "Model:     %s\n", col.Model)
		fmt.Fprintf(out, "Dimension: %d\n", col.Dimension)
		fmt.Fprintf(out, "Files:     %d\n", col.Files)
		fmt.Fprintf(out, "Chunks:    %d\n", col.Chunks)
		fmt.Fprintf(out, "Created:   %s\n", formatTime(col.CreatedAt))
		return nil
	},
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection and everything indexed in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name := args[0]
		out := cmd.OutOrStdout()
		if !flagYes && !confirm(cmd.InOrStdin(), out, fmt.Sprintf("Delete collection %q?", name)) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Index.DeleteCollection(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted collection %q.\n", name)
		return nil
	},
}

func nameArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return collectionFor("")
}

func printCollections(w io.Writer, cols []types.Collection) {
	if len(cols) == 0 {
		fmt.Fprintln(w, "No collections. Run 'coderag index <path>' to create one.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMODEL\tDIM\tFILES\tCHUNKS\tCREATED")
	for _, c := range cols {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", c.Name, c.Model, c.Dimension, c.Files, c.Chunks, formatTime(c.CreatedAt))
	}
	tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func init() {
	collectionsDeleteCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "do not ask for confirmation")
	collectionsCmd.AddCommand(collectionsListCmd, collectionsShowCmd, collectionsDeleteCmd)
	rootCmd.AddCommand(collectionsCmd)
}
