package main

import "github.com/charmbracelet/lipgloss"

var (
	Cyan   = lipgloss.Color("#00D4AA")
	Green  = lipgloss.Color("#39FF14")
	Yellow = lipgloss.Color("#FFD700")
	Red    = lipgloss.Color("#FF5555")
	Violet = lipgloss.Color("#BD93F9")
	Gray   = lipgloss.Color("#aaaaaa")

	InfoStyle    = lipgloss.NewStyle().Foreground(Cyan)
	SuccessStyle = lipgloss.NewStyle().Foreground(Green).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Yellow)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Red).Bold(true)
	PromptStyle  = lipgloss.NewStyle().Foreground(Violet).Bold(true)
	DimStyle     = lipgloss.NewStyle().Foreground(Gray)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

// panel frames body with a colored border and a bold title line.
func panel(title, body string, color lipgloss.Color) string {
	head := lipgloss.NewStyle().Foreground(color).Bold(true).Render(title)
	return panelStyle.BorderForeground(color).Render(head + "\n" + body)
}
