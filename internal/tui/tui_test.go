package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coderag/internal/config"
	"coderag/internal/index"
	"coderag/internal/llm"
	"coderag/internal/store"
	"coderag/internal/types"
)

func testSettings(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestSplitModels(t *testing.T) {
	models := []llm.LocalModel{
		{Name: "llama3.2:latest"},
		{Name: "nomic-embed-text:latest"},
		{Name: "bge-m3"},
		{Name: "qwen2.5-coder"},
	}
	embed, chat := splitModels(models)
	assert.Equal(t, []llm.LocalModel{{Name: "nomic-embed-text:latest"}, {Name: "bge-m3"}}, embed)
	assert.Equal(t, []llm.LocalModel{{Name: "llama3.2:latest"}, {Name: "qwen2.5-coder"}}, chat)

	only := []llm.LocalModel{{Name: "llama3.2"}}
	embed, chat = splitModels(only)
	assert.Equal(t, only, embed)
	assert.Equal(t, only, chat)
}

func TestIndexOfModel(t *testing.T) {
	models := []llm.LocalModel{{Name: "bge-m3"}, {Name: "nomic-embed-text:latest"}}
	assert.Equal(t, 1, indexOfModel(models, "nomic-embed-text"))
	assert.Equal(t, 1, indexOfModel(models, "nomic-embed-text:latest"))
	assert.Equal(t, 0, indexOfModel(models, "missing"))
}

func TestSetupSelection(t *testing.T) {
	cfg := testSettings(t)
	var m setupModel
	m, _ = m.Update(fetchModelsMsg{models: []llm.LocalModel{
		{Name: "bge-m3"},
		{Name: "llama3.2:latest"},
		{Name: "nomic-embed-text:latest"},
		{Name: "qwen2.5-coder"},
	}}, cfg)
	require.True(t, m.loaded)
	assert.Equal(t, "nomic-embed-text", m.selectedEmbedModel())
	assert.Equal(t, "llama3.2:latest", m.selectedChatModel())

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")}, cfg)
	assert.Equal(t, "bge-m3", m.selectedEmbedModel())

	assert.True(t, m.advancePage())
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown}, cfg)
	assert.Equal(t, "qwen2.5-coder", m.selectedChatModel())
	assert.False(t, m.advancePage())
}

func TestSetupChatFixed(t *testing.T) {
	cfg := testSettings(t)
	cfg.LLM.Provider = "openai"
	var m setupModel
	m, _ = m.Update(fetchModelsMsg{models: []llm.LocalModel{
		{Name: "all-minilm"}, {Name: "bge-m3"}, {Name: "nomic-embed-text"},
	}}, cfg)
	assert.Contains(t, m.View(80, 24), "configured")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("G")}, cfg)
	assert.Equal(t, "nomic-embed-text", m.selectedEmbedModel())
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("g")}, cfg)
	assert.Equal(t, "bge-m3", m.selectedEmbedModel())

	assert.False(t, m.advancePage())
	assert.Empty(t, m.selectedChatModel())
}

func TestDescribeModel(t *testing.T) {
	m := llm.LocalModel{Name: "llama3.2", Size: 2 << 30}
	assert.Equal(t, "2.0 GB", describeModel(m))
	m.Details.ParameterSize = "3.2B"
	assert.Equal(t, "2.0 GB, 3.2B", describeModel(m))
	assert.Equal(t, "262 MB", formatSize(274302450))
}

func TestSetupFetchError(t *testing.T) {
	var m setupModel
	m, _ = m.Update(fetchModelsMsg{err: errors.New("connection refused")}, testSettings(t))
	assert.True(t, m.loaded)
	assert.Contains(t, m.View(80, 24), "connection refused")
	assert.Empty(t, m.selectedEmbedModel())
}

func TestInspectCollection(t *testing.T) {
	ctx := context.Background()
	cfg := testSettings(t)
	tcfg := Config{Settings: cfg, Collection: "proj"}

	msg := inspectCollection(ctx, tcfg)
	require.NoError(t, msg.err)
	assert.Equal(t, indexNotFound, msg.status)

	idx, err := store.OpenSQLite(cfg.IndexPath())
	require.NoError(t, err)
	_, err = idx.Initialize(ctx, "proj", cfg.Embedding.Model)
	require.NoError(t, err)

	// Created but never written to.
	msg = inspectCollection(ctx, tcfg)
	assert.Equal(t, indexNotFound, msg.status)

	chunk := types.Chunk{
		ID: "c1", Collection: "proj", FilePath: "main.go", Language: "go",
		Kind: types.ChunkFunction, Name: "main", StartLine: 1, EndLine: 3,
		Content: "func main() {}", ContentHash: "h1", Strategy: types.StrategyFunction, Tokens: 4,
	}
	require.NoError(t, idx.Upsert(ctx, "proj", []types.Chunk{chunk}, [][]float32{{1, 0, 0}}))
	require.NoError(t, idx.Close())

	msg = inspectCollection(ctx, tcfg)
	require.NoError(t, msg.err)
	assert.Equal(t, indexReady, msg.status)
	require.NotNil(t, msg.collection)
	assert.Equal(t, 3, msg.collection.Dimension)

	cfg.Embedding.Model = "bge-m3"
	msg = inspectCollection(ctx, tcfg)
	assert.Equal(t, indexStale, msg.status)
	assert.Equal(t, "model changed: nomic-embed-text -> bge-m3", msg.staleReason)

	var w welcomeModel
	w, _ = w.Update(msg)
	assert.True(t, w.ready)
	assert.Contains(t, w.View(80, 24), "rebuilt")
}

func TestIndexingUpdate(t *testing.T) {
	m := newIndexingModel()
	m, _ = m.Update(indexProgressMsg{phase: "embedding", filesProcessed: 2, filesTotal: 5})
	assert.Equal(t, "embedding", m.phase)
	assert.Contains(t, m.View(80, 24), "2/5 files")

	m, _ = m.Update(indexDoneMsg{summary: &index.Summary{
		FilesDiscovered: 5, FilesProcessed: 4, FilesUnchanged: 1,
		ChunksCreated: 12, ChunksEmbedded: 10, CacheHits: 2,
		Warnings: []types.Warning{{Path: "x.bin", Kind: types.WarnSkippedFile, Message: "binary"}},
	}})
	require.True(t, m.done)
	view := m.View(80, 24)
	assert.Contains(t, view, "5 discovered, 4 indexed, 1 unchanged, 0 failed")
	assert.Contains(t, view, "1 warnings, first: x.bin: binary (skipped-file)")

	m, cmd := m.Update(indexDoneMsg{err: errors.New("boom")})
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(80, 24), "boom")
}

func TestChatStreaming(t *testing.T) {
	m := newChatModel(context.Background(), nil, nil, "proj", 5, 4)
	m.initViewport(80, 24)

	m.history = []llm.Message{{Role: "user", Content: "what does foo do?"}}
	m.messages = []chatMessage{{role: "user", content: "what does foo do?"}}
	m.state = chatSearching

	m, _ = m.Update(tokenMsg{text: "foo "})
	m, _ = m.Update(tokenMsg{text: "returns 1."})
	assert.Equal(t, chatGenerating, m.state)
	assert.Equal(t, "foo returns 1.", m.pending)

	m, _ = m.Update(answerMsg{
		answer: "foo returns 1.",
		sources: types.QueryResult{{
			Chunk: types.Chunk{FilePath: "main.py", StartLine: 1, EndLine: 2},
			Score: 0.9,
		}},
	})
	assert.Equal(t, chatIdle, m.state)
	assert.Empty(t, m.pending)
	require.Len(t, m.messages, 3)
	assert.Equal(t, "assistant", m.messages[1].role)
	assert.Equal(t, chatMessage{role: "sources", content: "Sources: main.py:1-2"}, m.messages[2])
	assert.Equal(t, []llm.Message{
		{Role: "user", Content: "what does foo do?"},
		{Role: "assistant", Content: "foo returns 1."},
	}, m.history)
}

func TestChatError(t *testing.T) {
	m := newChatModel(context.Background(), nil, nil, "proj", 5, 4)
	m.initViewport(80, 24)
	m.history = []llm.Message{{Role: "user", Content: "q"}}
	m.state = chatSearching

	m, _ = m.Update(answerMsg{err: errors.New("retrieval error: down")})
	assert.Equal(t, chatIdle, m.state)
	assert.Empty(t, m.history)
	require.Len(t, m.messages, 1)
	assert.Equal(t, "error", m.messages[0].role)
}

func TestChatHistoryLimit(t *testing.T) {
	m := newChatModel(context.Background(), nil, nil, "proj", 5, 2)
	m.history = []llm.Message{
		{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"}, {Role: "assistant", Content: "d"},
	}
	m.trimHistory()
	assert.Equal(t, []llm.Message{{Role: "user", Content: "c"}, {Role: "assistant", Content: "d"}}, m.history)

	m.historyLimit = 0
	m.trimHistory()
	assert.Nil(t, m.history)
}

func TestChatCommands(t *testing.T) {
	m := newChatModel(context.Background(), nil, nil, "proj", 5, 4)
	m.initViewport(80, 24)
	m.messages = []chatMessage{{role: "user", content: "hi"}}
	m.history = []llm.Message{{Role: "user", Content: "hi"}}

	m.input.SetValue("/clear")
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, m.messages)
	assert.Empty(t, m.history)

	m.input.SetValue("/help")
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Len(t, m.messages, 1)
	assert.Contains(t, m.messages[0].content, "/clear")

	m.input.SetValue("/exit")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
