package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Palette. Colors carry what a state means for the machine: a powered host,
// a Ready BMC and an Active image share HealthyColor, anything mid-transition
// is CautionColor, and faults are FaultColor.
var (
	AccentColor  = lipgloss.Color("#4F8FD6")
	HealthyColor = lipgloss.Color("#43BF6D")
	CautionColor = lipgloss.Color("#E0A526")
	FaultColor   = lipgloss.Color("#E5484D")
	MutedColor   = lipgloss.Color("#7A7A7A")
	TextColor    = lipgloss.Color("#EDEDED")
)

const (
	// MinTerminalWidth is also the width used when stdout is not a terminal.
	MinTerminalWidth = 60
	// MaxContentWidth caps boxes on wide terminals so tables stay readable.
	MaxContentWidth = 100

	fallbackHeight = 24
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func indented(c lipgloss.Color) lipgloss.Style {
	return fg(c).PaddingLeft(2)
}

// Header block: "POWER ON", "obmctl power on", then "Target: witherspoon".
var (
	HeaderTitleStyle      = indented(TextColor).Bold(true)
	HeaderCommandStyle    = indented(MutedColor)
	HeaderParamKeyStyle   = indented(MutedColor)
	HeaderParamValueStyle = fg(TextColor)
)

// Step list shown while a flash or power transition runs.
var (
	ProgressLabelStyle = indented(TextColor)
	StepCompleteStyle  = fg(HealthyColor)
	StepRunningStyle   = fg(CautionColor)
	StepPendingStyle   = fg(MutedColor)
	StepNoteStyle      = fg(MutedColor).Italic(true)
)

// Result boxes and their troubleshooting hints.
var (
	SuccessTitleStyle         = fg(HealthyColor).Bold(true)
	ErrorTitleStyle           = fg(FaultColor).Bold(true)
	ErrorMessageStyle         = fg(FaultColor)
	ResultKeyStyle            = fg(MutedColor).Width(15)
	ResultValueStyle          = fg(TextColor)
	TroubleshootingTitleStyle = fg(MutedColor).Bold(true)
	TroubleshootingItemStyle  = fg(MutedColor)
)

// Console output boxes and inventory, SEL and sensor tables.
var (
	OutputTitleStyle   = fg(MutedColor).Bold(true)
	OutputContentStyle = fg(TextColor)
	TableHeaderStyle   = fg(AccentColor).Bold(true)
	TableCellStyle     = fg(TextColor)
)

const (
	StepMarkerComplete = "✓"
	StepMarkerRunning  = "●"
	StepMarkerPending  = "·"
	StepMarkerSkipped  = "⊘"
	SuccessMarker      = "✓"
	FailureMarker      = "✗"
)

// GetTerminalSize returns the stdout terminal size, with the width clamped
// to [MinTerminalWidth, MaxContentWidth]. Pipes and redirects get the
// minimum width.
func GetTerminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return MinTerminalWidth, fallbackHeight
	}
	return min(max(width, MinTerminalWidth), MaxContentWidth), height
}

// GetTerminalWidth is the width half of GetTerminalSize.
func GetTerminalWidth() int {
	width, _ := GetTerminalSize()
	return width
}

// HeaderBorderStyle frames a command header across width columns.
func HeaderBorderStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(AccentColor).
		Width(width - 2)
}

func SuccessBoxStyle(width int) lipgloss.Style { return boxStyle(width, HealthyColor) }
func ErrorBoxStyle(width int) lipgloss.Style   { return boxStyle(width, FaultColor) }
func WarningBoxStyle(width int) lipgloss.Style { return boxStyle(width, CautionColor) }

func boxStyle(width int, border lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(border).
		Width(width-2).
		Padding(0, 2)
}

// TroubleshootingBoxStyle is the hint box nested inside an error box.
func TroubleshootingBoxStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(max(width-12, 40)).
		Padding(0, 1).
		MarginLeft(3)
}

// RenderHorizontalDivider draws width copies of char in the accent color.
func RenderHorizontalDivider(width int, char string) string {
	return fg(AccentColor).Render(strings.Repeat(char, width))
}

// stateColors covers chassis and host power, BMC, boot progress and image
// activation states by their short names.
var stateColors = map[string]lipgloss.Color{
	"On":         HealthyColor,
	"Running":    HealthyColor,
	"Ready":      HealthyColor,
	"Active":     HealthyColor,
	"Off":        MutedColor,
	"NotReady":   CautionColor,
	"Quiesced":   CautionColor,
	"Activating": CautionColor,
	"Failed":     FaultColor,
	"Invalid":    FaultColor,
}

// RenderState colors a state name. Unknown names render in the text color.
func RenderState(state string) string {
	color, ok := stateColors[state]
	if !ok {
		color = TextColor
	}
	return fg(color).Bold(true).Render(state)
}
