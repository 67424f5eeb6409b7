package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"coderag/internal/app"
	"coderag/internal/llm"
	"coderag/internal/types"
)

type chatState int

const (
	chatIdle chatState = iota
	chatSearching
	chatGenerating
)

type chatModel struct {
	viewport     viewport.Model
	input        textinput.Model
	spinner      spinner.Model
	renderer     *glamour.TermRenderer
	messages     []chatMessage
	history      []llm.Message
	pending      string
	ctx          context.Context
	app          *app.App
	program      *programRef
	collection   string
	state        chatState
	k            int
	historyLimit int
	width        int
	height       int
	initialized  bool
}

type chatMessage struct {
	role    string
	content string
}

// tokenMsg carries one streamed piece of the answer.
type tokenMsg struct {
	text string
}

// answerMsg is sent when a question has been fully answered.
type answerMsg struct {
	answer  string
	sources types.QueryResult
	err     error
}

func newChatModel(ctx context.Context, a *app.App, program *programRef, collection string, k, historyLimit int) chatModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedStyle

	ti := textinput.New()
	ti.Placeholder = "Ask a question about your codebase..."
	ti.CharLimit = 2000
	ti.Focus()

	return chatModel{
		spinner:      sp,
		input:        ti,
		ctx:          ctx,
		app:          a,
		program:      program,
		collection:   collection,
		k:            k,
		historyLimit: historyLimit,
		state:        chatIdle,
	}
}

func (m *chatModel) initViewport(width, height int) {
	m.width = width
	m.height = height

	// Layout: viewport + status bar (1 line) + input (1 line) + borders/gaps (1 line).
	vpHeight := height - 3
	if vpHeight < 5 {
		vpHeight = 5
	}
	m.viewport = viewport.New(width, vpHeight)
	m.viewport.SetContent(dimStyle.Render("Ask a question about " + m.collection + ".\n\nCommands: /help, /clear, /exit"))

	m.input.Width = width - 4

	// Create glamour renderer matched to current width.
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(width-2, 20)),
	)
	if err == nil {
		m.renderer = r
	}

	m.initialized = true
}

// askQuestion retrieves context and streams the answer, forwarding each
// piece to the program as a tokenMsg.
func askQuestion(ctx context.Context, a *app.App, program *programRef, collection, question string, history []llm.Message, k int) tea.Cmd {
	return func() tea.Msg {
		ans, err := a.Engine.Ask(ctx, collection, question, a.AskOptions(k, types.Filter{}, history))
		if err != nil {
			return answerMsg{err: fmt.Errorf("retrieval error: %w", err)}
		}

		var sb strings.Builder
		for part, err := range a.Generator.Stream(ctx, a.Request(ans)) {
			if err != nil {
				return answerMsg{answer: sb.String(), sources: ans.Matches, err: fmt.Errorf("generation error: %w", err)}
			}
			sb.WriteString(part)
			program.send(tokenMsg{text: part})
		}
		return answerMsg{answer: sb.String(), sources: ans.Matches}
	}
}

func (m chatModel) Update(msg tea.Msg) (chatModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.initViewport(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case tokenMsg:
		m.state = chatGenerating
		m.pending += msg.text
		m.refresh()
		return m, nil

	case answerMsg:
		m.state = chatIdle
		m.pending = ""
		if msg.answer != "" {
			m.messages = append(m.messages, chatMessage{role: "assistant", content: msg.answer})
		}
		if msg.err != nil {
			m.messages = append(m.messages, chatMessage{role: "error", content: msg.err.Error()})
			// Drop the unanswered question from the model's history.
			if n := len(m.history); n > 0 && m.history[n-1].Role == "user" {
				m.history = m.history[:n-1]
			}
		} else {
			if len(msg.sources) > 0 {
				m.messages = append(m.messages, chatMessage{role: "sources", content: formatSources(msg.sources)})
			}
			m.history = append(m.history, llm.Message{Role: "assistant", Content: msg.answer})
			m.trimHistory()
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.state != chatIdle {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			// Re-render viewport so the spinner frame updates.
			m.refresh()
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case tea.KeyMsg:
		if m.state != chatIdle {
			return m, nil
		}
		switch msg.Type {
		case tea.KeyEnter:
			question := strings.TrimSpace(m.input.Value())
			if question == "" {
				return m, nil
			}
			m.input.Reset()

			switch question {
			case "/exit", "/quit":
				return m, tea.Quit
			case "/clear":
				m.messages = nil
				m.history = nil
				m.viewport.SetContent(dimStyle.Render("Conversation cleared."))
				return m, nil
			case "/help":
				helpText := "Commands:\n  /clear  - clear conversation history\n  /exit   - quit\n  /help   - show this help"
				m.messages = append(m.messages, chatMessage{role: "system", content: helpText})
				m.refresh()
				return m, nil
			}

			m.messages = append(m.messages, chatMessage{role: "user", content: question})
			m.history = append(m.history, llm.Message{Role: "user", Content: question})
			m.state = chatSearching
			m.refresh()

			return m, tea.Batch(
				m.spinner.Tick,
				askQuestion(m.ctx, m.app, m.program, m.collection, question, m.history[:len(m.history)-1], m.k),
			)
		}
	}

	// Update text input.
	if m.state == chatIdle {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Update viewport (scrolling).
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// trimHistory keeps the newest historyLimit messages.
func (m *chatModel) trimHistory() {
	if m.historyLimit <= 0 {
		m.history = nil
		return
	}
	if len(m.history) > m.historyLimit {
		m.history = m.history[len(m.history)-m.historyLimit:]
	}
}

func (m *chatModel) refresh() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func formatSources(matches types.QueryResult) string {
	parts := make([]string, len(matches))
	for i, mt := range matches {
		parts[i] = fmt.Sprintf("%s:%d-%d", mt.Chunk.FilePath, mt.Chunk.StartLine, mt.Chunk.EndLine)
	}
	return "Sources: " + strings.Join(parts, ", ")
}

func (m chatModel) renderMarkdown(content string) string {
	if m.renderer == nil {
		return assistantMsgStyle.Render(content)
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return assistantMsgStyle.Render(content)
	}
	return strings.TrimRight(rendered, "\n")
}

func (m chatModel) renderMessages() string {
	var sb strings.Builder
	for _, msg := range m.messages {
		switch msg.role {
		case "user":
			sb.WriteString(userMsgStyle.Render("You: ") + msg.content + "\n\n")
		case "assistant":
			sb.WriteString(m.renderMarkdown(msg.content) + "\n\n")
		case "error":
			sb.WriteString(errorStyle.Render("Error: "+msg.content) + "\n\n")
		case "sources":
			sb.WriteString(sourceStyle.Render(msg.content) + "\n\n")
		case "system":
			sb.WriteString(dimStyle.Render(msg.content) + "\n\n")
		}
	}

	// Streamed text is shown raw until the answer is complete.
	if m.pending != "" {
		sb.WriteString(assistantMsgStyle.Render(m.pending) + "\n")
	}

	if m.state != chatIdle {
		label := "Searching..."
		if m.state == chatGenerating {
			label = "Generating..."
		}
		sb.WriteString(m.spinner.View() + " " + dimStyle.Render(label) + "\n")
	}

	return sb.String()
}

func (m chatModel) View(width, height int) string {
	if !m.initialized {
		return ""
	}

	statusText := "idle"
	switch m.state {
	case chatSearching:
		statusText = "searching..."
	case chatGenerating:
		statusText = "generating..."
	}
	statusBar := statusBarStyle.
		Width(m.width).
		Render(fmt.Sprintf(" coderag chat • %s • %s", m.collection, statusText))

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.viewport.View(),
		statusBar,
		m.input.View(),
	)
}
