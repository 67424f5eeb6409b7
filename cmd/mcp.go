package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coderag/internal/query"
	"coderag/internal/types"
)

const mcpVersion = "1.0.0"

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing code search tools over stdio",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
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

	s := newMCPServer(a.Engine, a.Index, collection, cfg.Query.TopK, cfg.Query.MaxContextTokens)
	log.Info("mcp server starting", zap.String("collection", collection))
	return mcpserver.ServeStdio(s)
}

// retriever is the part of query.Engine the tools use.
type retriever interface {
	Retrieve(ctx context.Context, collection, text string, topK int, filter types.Filter) (types.QueryResult, error)
}

type collectionLister interface {
	ListCollections(ctx context.Context) ([]types.Collection, error)
}

func newMCPServer(r retriever, cols collectionLister, collection string, topK, maxTokens int) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("coderag", mcpVersion, mcpserver.WithToolCapabilities(false))
	s.AddTool(searchCodeTool(), makeSearchHandler(r, collection, topK))
	s.AddTool(buildContextTool(), makeContextHandler(r, collection, topK, maxTokens))
	s.AddTool(listCollectionsTool(), makeListCollectionsHandler(cols))
	return s
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchCodeTool() mcp.Tool {
	return mcp.NewTool("search_code",
		mcp.WithDescription("Semantically search an indexed codebase. Returns the most similar code chunks with file paths, line ranges and similarity scores."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language description of the code you are looking for"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of chunks to return (default 10)"),
		),
		mcp.WithString("collection",
			mcp.Description("Collection to search (default: the server's collection)"),
		),
		mcp.WithString("path_prefix",
			mcp.Description("Only return chunks from files under this path"),
		),
		mcp.WithString("language",
			mcp.Description("Only return chunks in this language (e.g. 'go', 'python')"),
		),
		mcp.WithString("kind",
			mcp.Description("Only return chunks of this kind: function, class, module, file or window"),
		),
	)
}

func buildContextTool() mcp.Tool {
	return mcp.NewTool("build_context",
		mcp.WithDescription("Retrieve code relevant to a question and assemble it into a single token-budgeted context block ready to include in a prompt."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question the context should help answer"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of chunks to consider (default 10)"),
		),
		mcp.WithNumber("max_tokens",
			mcp.Description("Token budget for the context block (default 4000)"),
		),
		mcp.WithString("collection",
			mcp.Description("Collection to search (default: the server's collection)"),
		),
	)
}

func listCollectionsTool() mcp.Tool {
	return mcp.NewTool("list_collections",
		mcp.WithDescription("List the indexed collections with their embedding model and chunk counts."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

// --- Handler factories ---

func makeSearchHandler(r retriever, collection string, topK int) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q := req.GetString("query", "")
		if strings.TrimSpace(q) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		k := req.GetInt("k", topK)
		if k <= 0 {
			k = topK
		}
		filter := types.Filter{
			PathPrefix: req.GetString("path_prefix", ""),
			Language:   strings.ToLower(req.GetString("language", "")),
			Kind:       types.ChunkKind(req.GetString("kind", "")),
		}

		matches, err := r.Retrieve(ctx, req.GetString("collection", collection), q, k, filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatSearchResults(q, matches)), nil
	}
}

func makeContextHandler(r retriever, collection string, topK, maxTokens int) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q := req.GetString("query", "")
		if strings.TrimSpace(q) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		k := req.GetInt("k", topK)
		if k <= 0 {
			k = topK
		}
		budget := req.GetInt("max_tokens", maxTokens)
		if budget <= 0 {
			budget = maxTokens
		}

		matches, err := r.Retrieve(ctx, req.GetString("collection", collection), q, k, types.Filter{})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}
		block := query.BuildContext(matches, budget)
		if block == "" {
			return mcp.NewToolResultText(fmt.Sprintf("No relevant code found for %q.", q)), nil
		}
		return mcp.NewToolResultText(block), nil
	}
}

func makeListCollectionsHandler(cols collectionLister) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := cols.ListCollections(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list collections failed: %v", err)), nil
		}
		if len(list) == 0 {
			return mcp.NewToolResultText("No collections indexed yet. Run 'coderag index <path>' to create one."), nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "## Collections (%d)\n\n", len(list))
		for _, c := range list {
			fmt.Fprintf(&sb, "- **%s** (model %s, %d files, %d chunks)\n", c.Name, c.Model, c.Files, c.Chunks)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// --- Formatting helpers ---

func formatSearchResults(q string, matches types.QueryResult) string {
	if len(matches) == 0 {
		return fmt.Sprintf("No results found for query: %q", q)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search results for %q (%d chunks)\n\n", q, len(matches))

	for i, m := range matches {
		c := m.Chunk
		fmt.Fprintf(&sb, "### Result %d: `%s`\n\n", i+1, c.FilePath)
		fmt.Fprintf(&sb, "**Kind:** %s  \n**Name:** %s  \n**Lines:** %d-%d  \n**Language:** %s  \n**Similarity:** %.3f\n\n",
			c.Kind, c.Name, c.StartLine, c.EndLine, c.Language, m.Score)
		fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", strings.ToLower(c.Language), c.Content)
	}

	return sb.String()
}
