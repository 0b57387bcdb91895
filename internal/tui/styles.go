package tui

import "github.com/charmbracelet/lipgloss"

var (
	purple   = lipgloss.Color("#7C3AED")
	green    = lipgloss.Color("#10B981")
	red      = lipgloss.Color("#EF4444")
	gray     = lipgloss.Color("#6B7280")
	darkGray = lipgloss.Color("#374151")
	white    = lipgloss.Color("#F9FAFB")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(white).
			Background(purple).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(gray)

	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple)

	captionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(white).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(darkGray).
			Padding(1, 2)

	idleCaptionStyle = captionStyle.
				Foreground(gray).
				Bold(false)

	statusStyle = lipgloss.NewStyle().
			Foreground(green)

	errorStyle = lipgloss.NewStyle().
			Foreground(red).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(gray)
)
