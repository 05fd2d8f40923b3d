package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ConfirmPhrase is what the user types to approve a dangerous operation
const ConfirmPhrase = "I AGREE"

// Confirm displays a warning box on out and reads one line from in. It
// returns true only if the line is ConfirmPhrase.
func Confirm(in io.Reader, out io.Writer, title string, warnings []string) bool {
	width := GetTerminalWidth()

	lines := []string{"", lipgloss.NewStyle().
		Foreground(CautionColor).
		Bold(true).
		Render(fmt.Sprintf("   ⚠  WARNING  ─  %s", title)), ""}
	for _, warning := range warnings {
		lines = append(lines, lipgloss.NewStyle().Foreground(TextColor).Render("   • "+warning))
	}
	lines = append(lines, "")

	_, _ = fmt.Fprintln(out, WarningBoxStyle(width).Render(strings.Join(lines, "\n")))
	_, _ = fmt.Fprintln(out)

	prompt := lipgloss.NewStyle().Foreground(CautionColor).Bold(true)
	_, _ = fmt.Fprint(out, prompt.Render(fmt.Sprintf("To proceed, type %q and press Enter: ", ConfirmPhrase)))

	input, err := bufio.NewReader(in).ReadString('\n')
	_, _ = fmt.Fprintln(out)
	if err != nil && input == "" {
		return false
	}
	if strings.TrimSpace(input) == ConfirmPhrase {
		return true
	}

	_, _ = fmt.Fprintln(out, lipgloss.NewStyle().Foreground(MutedColor).Render("  Operation cancelled."))
	return false
}

// FlashConfirmation asks before writing host or BMC firmware
func FlashConfirmation(in io.Reader, out io.Writer, target string) bool {
	return Confirm(in, out, "FIRMWARE FLASH", []string{
		"This operation replaces firmware on " + target,
		"The host must stay powered off until the image is Active",
		"Do not interrupt the operation once started",
	})
}

// ResetConfirmation asks before rebooting a BMC
func ResetConfirmation(in io.Reader, out io.Writer, target string) bool {
	return Confirm(in, out, "BMC REBOOT", []string{
		"The BMC at " + target + " will reboot",
		"Open console and REST sessions will be dropped",
	})
}
