package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"coderag/internal/app"
	"coderag/internal/types"
)

type indexStatus int

const (
	indexNotFound indexStatus = iota
	indexReady
	indexStale
)

type welcomeModel struct {
	root        string
	name        string
	embedding   string
	status      indexStatus
	staleReason string
	collection  *types.Collection
	ready       bool // true once the check has completed
	err         error
}

// checkIndexMsg is sent after checking the index status.
type checkIndexMsg struct {
	status      indexStatus
	staleReason string
	collection  *types.Collection
	err         error
}

func checkIndex(ctx context.Context, cfg Config) tea.Cmd {
	return func() tea.Msg {
		return inspectCollection(ctx, cfg)
	}
}

func inspectCollection(ctx context.Context, cfg Config) checkIndexMsg {
	idx, err := app.OpenIndex(cfg.Settings, cfg.Logger)
	if err != nil {
		return checkIndexMsg{status: indexNotFound, err: err}
	}
	defer idx.Close()

	col, err := idx.GetCollection(ctx, cfg.Collection)
	if errors.Is(err, types.ErrCollectionNotFound) {
		return checkIndexMsg{status: indexNotFound}
	}
	if err != nil {
		return checkIndexMsg{status: indexNotFound, err: err}
	}
	if want := cfg.Settings.Embedding.Model; col.Model != want {
		return checkIndexMsg{
			status:      indexStale,
			staleReason: fmt.Sprintf("model changed: %s -> %s", col.Model, want),
			collection:  col,
		}
	}
	if col.Dimension == 0 {
		return checkIndexMsg{status: indexNotFound, collection: col}
	}
	return checkIndexMsg{status: indexReady, collection: col}
}

func (m welcomeModel) Update(msg tea.Msg) (welcomeModel, tea.Cmd) {
	switch msg := msg.(type) {
	case checkIndexMsg:
		m.status = msg.status
		m.staleReason = msg.staleReason
		m.collection = msg.collection
		m.err = msg.err
		m.ready = true
	}
	return m, nil
}

func newWelcomeModel(cfg Config) welcomeModel {
	e := cfg.Settings.Embedding
	return welcomeModel{
		root:      cfg.Root,
		name:      cfg.Collection,
		embedding: e.Provider + "/" + e.Model,
	}
}

func (m welcomeModel) View(width, height int) string {
	var sb strings.Builder
	sb.WriteString("\n" + titleStyle.Render("  ◆ coderag") + "\n")
	sb.WriteString(subtitleStyle.Render("  Semantic search and answers over your source code") + "\n\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  %-11s %s", "source", m.root)) + "\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  %-11s %s", "collection", m.name)) + "\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  %-11s %s", "embeddings", m.embedding)) + "\n\n")

	if !m.ready {
		sb.WriteString(dimStyle.Render("  Checking index...") + "\n")
		return sb.String()
	}

	switch m.status {
	case indexReady:
		c := m.collection
		sb.WriteString(successStyle.Render("  ✓ Index ready") + "\n")
		sb.WriteString(dimStyle.Render(fmt.Sprintf("    %d files, %d chunks, %d dimensions", c.Files, c.Chunks, c.Dimension)) + "\n")
		sb.WriteString("\n" + dimStyle.Render("  Press Enter to chat") + "\n")
	case indexStale:
		sb.WriteString(warnStyle.Render("  ⚠ Index stale, it will be rebuilt") + "\n")
		sb.WriteString(dimStyle.Render("    "+m.staleReason) + "\n")
		sb.WriteString("\n" + dimStyle.Render("  Press Enter to rebuild") + "\n")
	default:
		sb.WriteString(warnStyle.Render("  ✗ Not indexed yet") + "\n")
		if m.err != nil {
			sb.WriteString(errorStyle.Render("    "+m.err.Error()) + "\n")
		}
		sb.WriteString("\n" + dimStyle.Render("  Press Enter to index") + "\n")
	}
	return sb.String()
}
