// Package tui is the interactive terminal front end: it checks the
// collection, offers model selection, indexes with a progress view and then
// runs a streaming chat over the index.
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"coderag/internal/app"
	"coderag/internal/config"
)

// ViewState represents which screen is active.
type ViewState int

const (
	ViewWelcome ViewState = iota
	ViewSetup
	ViewIndexing
	ViewChat
)

// programRef is an indirect pointer to the tea.Program so background goroutines
// can send messages. It must be set after tea.NewProgram returns but before Run.
type programRef struct {
	p *tea.Program
}

func (r *programRef) send(msg tea.Msg) {
	if r != nil && r.p != nil {
		r.p.Send(msg)
	}
}

// Config holds configuration passed from the CLI layer.
type Config struct {
	Settings   *config.Config
	Root       string
	Collection string
	Logger     *zap.Logger

	// program is set internally so background goroutines can send messages.
	program *programRef
}

// Model is the top-level Bubble Tea model.
type Model struct {
	state  ViewState
	config Config
	width  int
	height int

	ctx    context.Context
	cancel context.CancelFunc
	app    *app.App

	welcome  welcomeModel
	setup    setupModel
	indexing indexingModel
	chat     chatModel
	err      error
}

// New creates a new TUI model with the given config.
func New(ctx context.Context, cfg Config) Model {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return Model{
		state:   ViewWelcome,
		config:  cfg,
		welcome: newWelcomeModel(cfg),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m Model) Init() tea.Cmd {
	return checkIndex(m.ctx, m.config)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.state == ViewChat {
			var c tea.Cmd
			m.chat, c = m.chat.Update(msg)
			return m, c
		}
		return m, nil

	case tea.KeyMsg:
		// Global quit.
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "q":
			if m.state != ViewChat {
				m.cancel()
				return m, tea.Quit
			}
		}
	}

	var cmd tea.Cmd

	switch m.state {
	case ViewWelcome:
		m.welcome, cmd = m.welcome.Update(msg)
		if cmd != nil {
			return m, cmd
		}
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && m.welcome.ready {
			if m.welcome.status == indexReady {
				return m, m.transitionToChat()
			}
			if m.config.Settings.Embedding.Provider == "ollama" {
				m.state = ViewSetup
				return m, fetchModels(m.ctx, m.config.Settings.Embedding.Endpoint())
			}
			return m, m.startIndexing()
		}

	case ViewSetup:
		m.setup, cmd = m.setup.Update(msg, m.config.Settings)
		if cmd != nil {
			return m, cmd
		}
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && m.setup.loaded && m.setup.err == nil && len(m.setup.models) > 0 {
			// If on embed page, advance to chat page.
			if m.setup.advancePage() {
				return m, nil
			}
			if sel := m.setup.selectedEmbedModel(); sel != "" {
				m.config.Settings.Embedding.Model = sel
			}
			if sel := m.setup.selectedChatModel(); sel != "" {
				m.config.Settings.LLM.Model = sel
			}
			return m, m.startIndexing()
		}

	case ViewIndexing:
		m.indexing, cmd = m.indexing.Update(msg)
		if cmd != nil {
			return m, cmd
		}
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && m.indexing.done {
			return m, m.transitionToChat()
		}

	case ViewChat:
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	}

	return m, nil
}

// ensureApp opens the components once the models are settled.
func (m *Model) ensureApp() bool {
	if m.app != nil {
		return true
	}
	a, err := app.Open(m.ctx, m.config.Settings, m.config.Logger)
	if err != nil {
		m.err = err
		return false
	}
	m.app = a
	return true
}

func (m *Model) startIndexing() tea.Cmd {
	if !m.ensureApp() {
		return nil
	}
	m.state = ViewIndexing
	m.indexing = newIndexingModel()
	rebuild := m.welcome.status == indexStale
	return tea.Batch(m.indexing.spinner.Tick, runIndex(m.ctx, m.app, m.config, rebuild))
}

func (m *Model) transitionToChat() tea.Cmd {
	if !m.ensureApp() {
		return nil
	}
	s := m.config.Settings
	m.chat = newChatModel(m.ctx, m.app, m.config.program, m.config.Collection, s.Query.TopK, s.LLM.HistoryMessages)
	m.chat.initViewport(m.width, m.height)
	m.state = ViewChat
	return nil
}

func (m Model) View() string {
	if m.err != nil {
		return errorStyle.Render("Error: "+m.err.Error()) + "\n"
	}

	switch m.state {
	case ViewWelcome:
		return m.welcome.View(m.width, m.height)
	case ViewSetup:
		return m.setup.View(m.width, m.height)
	case ViewIndexing:
		return m.indexing.View(m.width, m.height)
	case ViewChat:
		return m.chat.View(m.width, m.height)
	}
	return ""
}

// Run starts the TUI program.
func Run(ctx context.Context, cfg Config) error {
	ref := &programRef{}
	cfg.program = ref
	model := New(ctx, cfg)
	defer model.cancel()
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	ref.p = p
	final, err := p.Run()
	if fm, ok := final.(Model); ok && fm.app != nil {
		fm.app.Close()
	}
	return err
}
