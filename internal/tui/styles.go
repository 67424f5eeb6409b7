package tui

import "github.com/charmbracelet/lipgloss"

// Palette (xterm-256).
const (
	colorAccent = lipgloss.Color("212")
	colorText   = lipgloss.Color("252")
	colorMuted  = lipgloss.Color("245")
	colorDim    = lipgloss.Color("241")
	colorBar    = lipgloss.Color("236")
	colorOK     = lipgloss.Color("78")
	colorWarn   = lipgloss.Color("214")
	colorErr    = lipgloss.Color("196")
	colorUser   = lipgloss.Color("111")
	colorScore  = lipgloss.Color("109")
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	subtitleStyle = lipgloss.NewStyle().Foreground(colorMuted)

	successStyle = lipgloss.NewStyle().Foreground(colorOK)
	warnStyle    = lipgloss.NewStyle().Foreground(colorWarn)
	errorStyle   = lipgloss.NewStyle().Foreground(colorErr)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	helpStyle    = dimStyle

	userMsgStyle      = lipgloss.NewStyle().Bold(true).Foreground(colorUser)
	assistantMsgStyle = lipgloss.NewStyle().Foreground(colorText)
	sourceStyle       = lipgloss.NewStyle().Foreground(colorScore)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Background(colorBar).
			Padding(0, 1)

	listItemStyle = lipgloss.NewStyle().Foreground(colorText)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	currentStyle  = lipgloss.NewStyle().Foreground(colorOK)
)
