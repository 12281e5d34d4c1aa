package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/runoshun/git-taskflow/internal/domain"
)

// Colors defines the color palette used in terminal output.
var Colors = struct {
	Primary lipgloss.Color
	Muted   lipgloss.Color
	Error   lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Info    lipgloss.Color
	Review  lipgloss.Color
}{
	Primary: lipgloss.Color("#6C5CE7"), // Purple
	Muted:   lipgloss.Color("#636E72"), // Gray
	Error:   lipgloss.Color("#D63031"), // Red
	Success: lipgloss.Color("#00B894"), // Green
	Warning: lipgloss.Color("#FDCB6E"), // Yellow
	Info:    lipgloss.Color("#74B9FF"), // Light blue
	Review:  lipgloss.Color("#A29BFE"), // Lavender
}

// Styles contains the lipgloss styles for command output.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Box     lipgloss.Style

	StatePlanning lipgloss.Style
	StateRound    lipgloss.Style
	StateReview   lipgloss.Style
	StateApproval lipgloss.Style
	StateDone     lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(Colors.Primary),
		Label:   lipgloss.NewStyle().Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(Colors.Muted),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(Colors.Error),
		Success: lipgloss.NewStyle().Foreground(Colors.Success),
		Warning: lipgloss.NewStyle().Foreground(Colors.Warning),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Colors.Error).
			Padding(0, 1),

		StatePlanning: lipgloss.NewStyle().Foreground(Colors.Info),
		StateRound:    lipgloss.NewStyle().Foreground(Colors.Warning),
		StateReview:   lipgloss.NewStyle().Foreground(Colors.Review),
		StateApproval: lipgloss.NewStyle().Bold(true).Foreground(Colors.Primary),
		StateDone:     lipgloss.NewStyle().Foreground(Colors.Success),
	}
}

// StateStyle returns the style for a task state.
func (s Styles) StateStyle(state domain.State) lipgloss.Style {
	switch state {
	case domain.StateInit, domain.StateClassified, domain.StateRequirements:
		return s.StatePlanning
	case domain.StateImplementation, domain.StateValidation:
		return s.StateRound
	case domain.StateReview, domain.StateScopeNegotiation:
		return s.StateReview
	case domain.StateSynthesis, domain.StateAwaitingApproval:
		return s.StateApproval
	case domain.StateComplete, domain.StateCleanup:
		return s.StateDone
	default:
		return s.Muted
	}
}

// PollStyle returns the style for an agent's poll state.
func (s Styles) PollStyle(state domain.PollState) lipgloss.Style {
	switch state {
	case domain.PollComplete:
		return s.Success
	case domain.PollStale:
		return s.Error
	default:
		return s.Warning
	}
}

// PollIcon returns an icon for an agent's poll state.
func PollIcon(state domain.PollState) string {
	switch state {
	case domain.PollComplete:
		return "●"
	case domain.PollStale:
		return "✗"
	default:
		return "◐"
	}
}
