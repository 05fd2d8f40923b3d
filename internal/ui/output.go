package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// OutputBox displays the output lines of a remote command.
type OutputBox struct {
	Title    string   // e.g., "uname -a"
	Lines    []string // Output lines
	Width    int      // Terminal width
	MaxLines int      // Maximum lines to display (0 = unlimited)
}

// NewOutputBox creates an output box for lines
func NewOutputBox(title string, lines []string) *OutputBox {
	return &OutputBox{
		Title: title,
		Lines: lines,
		Width: GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (o *OutputBox) SetWidth(width int) *OutputBox {
	o.Width = width
	return o
}

// SetMaxLines keeps only the last max lines
func (o *OutputBox) SetMaxLines(max int) *OutputBox {
	o.MaxLines = max
	return o
}

// visibleLines applies MaxLines, keeping the tail where errors usually are
func (o *OutputBox) visibleLines() []string {
	lines := o.Lines
	if o.MaxLines > 0 && len(lines) > o.MaxLines {
		skipped := len(lines) - o.MaxLines
		tail := lines[skipped:]
		lines = append([]string{"... (" + strconv.Itoa(skipped) + " lines truncated)"}, tail...)
	}
	if len(lines) == 0 {
		return []string{"(no output)"}
	}
	return lines
}

// Render returns the styled output box as a string
func (o *OutputBox) Render() string {
	width := o.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	boxWidth := width - 4
	if boxWidth < 40 {
		boxWidth = 40
	}

	inner := lipgloss.JoinVertical(lipgloss.Left,
		OutputTitleStyle.Render(o.Title),
		"",
		OutputContentStyle.Render(strings.Join(o.visibleLines(), "\n")),
	)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(boxWidth).
		Padding(0, 1).
		MarginLeft(2).
		Render(inner)
}

// String implements fmt.Stringer
func (o *OutputBox) String() string {
	return o.Render()
}
