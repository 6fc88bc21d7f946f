package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/pscheid92/pulselink/internal/domain"
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#FAFAFA")).
	Background(lipgloss.Color("#7D56F4")).
	Padding(0, 3).
	MarginBottom(1).
	Border(lipgloss.RoundedBorder())

var stateColors = map[domain.ConnectionState]lipgloss.Color{
	domain.StateIdle:       lipgloss.Color("#888888"),
	domain.StateConnecting: lipgloss.Color("#F2C94C"),
	domain.StateOpen:       lipgloss.Color("#27AE60"),
	domain.StateRetrying:   lipgloss.Color("#F2994A"),
	domain.StateFailed:     lipgloss.Color("#EB5757"),
}

func renderState(s domain.ConnectionState) string {
	return lipgloss.NewStyle().Bold(true).Foreground(stateColors[s]).Render(s.String())
}
