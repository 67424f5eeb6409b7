package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"coderag/internal/config"
	"coderag/internal/llm"
)

type setupPage int

const (
	setupPageEmbed setupPage = iota
	setupPageChat
)

// modelPicker is one page of the setup screen: a list of installed models
// with the configured one marked.
type modelPicker struct {
	title   string
	purpose string
	models  []llm.LocalModel
	current string
	cursor  int
}

func (p *modelPicker) move(delta int) {
	p.cursor = min(max(p.cursor+delta, 0), max(len(p.models)-1, 0))
}

func (p modelPicker) selected() string {
	if p.cursor < len(p.models) {
		return p.models[p.cursor].Name
	}
	return ""
}

func (p modelPicker) view(action string) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("  "+p.title) + "\n")
	sb.WriteString(dimStyle.Render("  "+p.purpose) + "\n\n")
	for i, model := range p.models {
		cursor, style := "  ", listItemStyle
		if i == p.cursor {
			cursor, style = "▸ ", selectedStyle
		}
		line := style.Render(model.Name) + dimStyle.Render("  "+describeModel(model))
		if sameModel(model.Name, p.current) {
			line += currentStyle.Render("  configured")
		}
		fmt.Fprintf(&sb, "  %s%s\n", cursor, line)
	}
	sb.WriteString("\n" + helpStyle.Render("  ↑/↓ navigate • Enter "+action) + "\n")
	return sb.String()
}

type setupModel struct {
	models []llm.LocalModel
	embed  modelPicker
	chat   modelPicker
	// chatFixed is set when the generation backend is not Ollama, so only
	// the embedding model is picked here.
	chatFixed bool
	page      setupPage
	loaded    bool
	err       error
}

// fetchModelsMsg is sent when models have been fetched from Ollama.
type fetchModelsMsg struct {
	models []llm.LocalModel
	err    error
}

func fetchModels(ctx context.Context, baseURL string) tea.Cmd {
	return func() tea.Msg {
		models, err := llm.ListLocalModels(ctx, baseURL)
		return fetchModelsMsg{models: models, err: err}
	}
}

func (m setupModel) Update(msg tea.Msg, cfg *config.Config) (setupModel, tea.Cmd) {
	switch msg := msg.(type) {
	case fetchModelsMsg:
		m.loaded = true
		m.err = msg.err
		if msg.err != nil {
			return m, nil
		}
		m.models = msg.models
		embed, chat := splitModels(msg.models)
		m.embed = modelPicker{
			title:   "Select Embedding Model",
			purpose: "Turns code chunks and questions into vectors",
			models:  embed,
			current: cfg.Embedding.Model,
			cursor:  indexOfModel(embed, cfg.Embedding.Model),
		}
		m.chat = modelPicker{
			title:   "Select Chat Model",
			purpose: "Answers questions from the retrieved code",
			models:  chat,
			current: cfg.LLM.Model,
			cursor:  indexOfModel(chat, cfg.LLM.Model),
		}
		m.chatFixed = cfg.LLM.Provider != "ollama"

	case tea.KeyMsg:
		if !m.loaded || m.err != nil {
			return m, nil
		}
		p := m.picker()
		switch msg.String() {
		case "up", "k":
			p.move(-1)
		case "down", "j":
			p.move(1)
		case "home", "g":
			p.move(-len(p.models))
		case "end", "G":
			p.move(len(p.models))
		}
	}
	return m, nil
}

func (m *setupModel) picker() *modelPicker {
	if m.page == setupPageChat {
		return &m.chat
	}
	return &m.embed
}

// splitModels separates embedding models from generative ones by name. A
// side left empty falls back to every model.
func splitModels(models []llm.LocalModel) (embed, chat []llm.LocalModel) {
	for _, model := range models {
		name := strings.ToLower(model.Name)
		if strings.Contains(name, "embed") || strings.Contains(name, "nomic") || strings.Contains(name, "bge") {
			embed = append(embed, model)
		} else {
			chat = append(chat, model)
		}
	}
	if len(embed) == 0 {
		embed = models
	}
	if len(chat) == 0 {
		chat = models
	}
	return embed, chat
}

// describeModel summarizes size and parameter count, e.g. "2.0 GB, 3.2B".
func describeModel(m llm.LocalModel) string {
	desc := formatSize(m.Size)
	if p := m.Details.ParameterSize; p != "" {
		desc += ", " + p
	}
	return desc
}

func formatSize(bytes int64) string {
	const mb, gb = 1 << 20, 1 << 30
	if bytes >= gb {
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	}
	return fmt.Sprintf("%.0f MB", float64(bytes)/mb)
}

// sameModel treats "name" and "name:latest" as one model.
func sameModel(a, b string) bool {
	return strings.TrimSuffix(a, ":latest") == strings.TrimSuffix(b, ":latest")
}

func indexOfModel(models []llm.LocalModel, name string) int {
	for i, model := range models {
		if sameModel(model.Name, name) {
			return i
		}
	}
	return 0
}

// advancePage moves from the embedding page to the chat page and reports
// whether it did.
func (m *setupModel) advancePage() bool {
	if m.page == setupPageEmbed && !m.chatFixed {
		m.page = setupPageChat
		return true
	}
	return false
}

func (m setupModel) View(width, height int) string {
	s := "\n"
	switch {
	case !m.loaded:
		s += titleStyle.Render("  Model Selection") + "\n\n"
		s += dimStyle.Render("  Fetching models from Ollama...") + "\n"
	case m.err != nil:
		s += titleStyle.Render("  Model Selection") + "\n\n"
		s += errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)) + "\n\n"
		s += dimStyle.Render("  Make sure Ollama is running, then restart. Press q to quit.") + "\n"
	case len(m.models) == 0:
		s += titleStyle.Render("  Model Selection") + "\n\n"
		s += warnStyle.Render("  No models installed in Ollama.") + "\n"
		s += dimStyle.Render("  Pull one first: ollama pull nomic-embed-text") + "\n"
	case m.page == setupPageEmbed && !m.chatFixed:
		s += m.embed.view("next")
	case m.page == setupPageEmbed:
		s += m.embed.view("start indexing")
	default:
		s += m.chat.view("start indexing")
	}
	return s
}

// selectedEmbedModel drops the ":latest" tag so collections record the
// same model name the configuration uses.
func (m setupModel) selectedEmbedModel() string {
	return strings.TrimSuffix(m.embed.selected(), ":latest")
}

func (m setupModel) selectedChatModel() string {
	if m.chatFixed {
		return ""
	}
	return m.chat.selected()
}
