// Package termui renders command output for the terminal.
package termui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette (adaptive for light and dark terminals)
var (
	colorGreen  = lipgloss.AdaptiveColor{Light: "#006400", Dark: "#00ff00"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#8b0000", Dark: "#ff0000"}
	colorYellow = lipgloss.AdaptiveColor{Light: "#b8860b", Dark: "#ffff00"}
	colorGray   = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#888888"}
	colorCyan   = lipgloss.AdaptiveColor{Light: "#008b8b", Dark: "#00ffff"}
)

// Shared styles, also used by the dashboard
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"})

	StyleSuccess = lipgloss.NewStyle().
			Foreground(colorGreen)

	StyleError = lipgloss.NewStyle().
			Foreground(colorRed)

	StyleWarning = lipgloss.NewStyle().
			Foreground(colorYellow)

	StyleSubtle = lipgloss.NewStyle().
			Foreground(colorGray)

	StyleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorCyan).
			Padding(0, 1)
)

// IsTerminal reports whether f is attached to a terminal
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Mark returns the check or cross used in status lines
func Mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

// FailureStyle picks a style for a failure percentage
func FailureStyle(percent float64) lipgloss.Style {
	switch {
	case percent < 1:
		return StyleSuccess
	case percent < 5:
		return StyleWarning
	default:
		return StyleError
	}
}

// LatencyStyle picks a style for an average response time in milliseconds
func LatencyStyle(ms float64) lipgloss.Style {
	switch {
	case ms < 200:
		return StyleSuccess
	case ms < 500:
		return StyleWarning
	default:
		return StyleError
	}
}
