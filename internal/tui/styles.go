package tui

import "github.com/charmbracelet/lipgloss"

const (
	listWidth    = 30
	headerHeight = 1
	statusHeight = 1
	inputHeight  = 1
)

var (
	colorBrand   = lipgloss.Color("#7C3AED")
	colorMuted   = lipgloss.Color("#6B7280")
	colorError   = lipgloss.Color("#EF4444")
	colorOwn     = lipgloss.Color("#10B981")
	colorUnread  = lipgloss.Color("#F59E0B")
	colorBorder  = lipgloss.Color("#374151")
	colorFocused = lipgloss.Color("#A78BFA")

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder)

	focusedPaneStyle = paneStyle.BorderForeground(colorFocused)

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorBrand)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle    = lipgloss.NewStyle().Foreground(colorError)
	ownNameStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorOwn)
	nameStyle     = lipgloss.NewStyle().Bold(true)
	unreadStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorUnread)
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	recalledStyle = mutedStyle.Italic(true)
)
