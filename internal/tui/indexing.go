package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"coderag/internal/app"
	"coderag/internal/index"
	"coderag/internal/types"
)

type indexingModel struct {
	spinner        spinner.Model
	bar            progress.Model
	phase          string
	filesProcessed int
	filesTotal     int
	done           bool
	summary        *index.Summary
	err            error
}

func newIndexingModel() indexingModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedStyle
	return indexingModel{
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		phase:   "Checking embedding backend...",
	}
}

// indexDoneMsg is sent when indexing completes.
type indexDoneMsg struct {
	summary *index.Summary
	err     error
}

// indexProgressMsg is sent as files complete.
type indexProgressMsg struct {
	phase          string
	filesProcessed int
	filesTotal     int
}

// runIndex indexes cfg.Root into cfg.Collection. With rebuild set the
// collection is dropped first, as it was built with another model.
func runIndex(ctx context.Context, a *app.App, cfg Config, rebuild bool) tea.Cmd {
	return func() tea.Msg {
		if err := a.Embedder.Ping(ctx); err != nil {
			return indexDoneMsg{err: fmt.Errorf("embedding backend %s unavailable: %w", a.Embedder.Model(), err)}
		}
		if rebuild {
			err := a.Index.DeleteCollection(ctx, cfg.Collection)
			if err != nil && !errors.Is(err, types.ErrCollectionNotFound) {
				return indexDoneMsg{err: err}
			}
		}

		opts := a.IndexOptions(cfg.Collection)
		opts.Progress = func(stage string, processed, total int) {
			cfg.program.send(indexProgressMsg{
				phase:          stage,
				filesProcessed: processed,
				filesTotal:     total,
			})
		}
		sum, err := a.Indexer.Index(ctx, cfg.Root, opts)
		return indexDoneMsg{summary: sum, err: err}
	}
}

func (m indexingModel) Update(msg tea.Msg) (indexingModel, tea.Cmd) {
	switch msg := msg.(type) {
	case indexDoneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		return m, nil
	case indexProgressMsg:
		m.phase = msg.phase
		m.filesProcessed = msg.filesProcessed
		m.filesTotal = msg.filesTotal
		return m, nil
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m indexingModel) View(width, height int) string {
	var sb strings.Builder
	sb.WriteString("\n" + titleStyle.Render("  Indexing") + "\n\n")

	if !m.done {
		fmt.Fprintf(&sb, "  %s %s\n", m.spinner.View(), m.phase)
		if m.filesTotal > 0 {
			pct := float64(m.filesProcessed) / float64(m.filesTotal)
			fmt.Fprintf(&sb, "  %s %d/%d files\n", m.bar.ViewAs(pct), m.filesProcessed, m.filesTotal)
		}
		sb.WriteString("\n" + dimStyle.Render("  Unchanged files are skipped on later runs.") + "\n")
		return sb.String()
	}

	if m.err != nil {
		sb.WriteString(errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)) + "\n\n")
		sb.WriteString(dimStyle.Render("  Press Enter to chat over what was indexed, or q to quit.") + "\n")
		return sb.String()
	}

	sb.WriteString(successStyle.Render("  ✓ Index up to date") + "\n\n")
	if sum := m.summary; sum != nil {
		fmt.Fprintf(&sb, "  Files:  %d discovered, %d indexed, %d unchanged, %d failed\n",
			sum.FilesDiscovered, sum.FilesProcessed, sum.FilesUnchanged, sum.FilesFailed)
		fmt.Fprintf(&sb, "  Chunks: %d created, %d embedded, %d from cache\n",
			sum.ChunksCreated, sum.ChunksEmbedded, sum.CacheHits)
		if n := len(sum.Warnings); n > 0 {
			sb.WriteString(warnStyle.Render(fmt.Sprintf("  %d warnings, first: %s", n, sum.Warnings[0])) + "\n")
		}
		sb.WriteString(dimStyle.Render(fmt.Sprintf("  Took %s", sum.Duration.Round(time.Millisecond))) + "\n")
	}
	sb.WriteString("\n" + dimStyle.Render("  Press Enter to start chatting") + "\n")
	return sb.String()
}
