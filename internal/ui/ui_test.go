package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestRenderTableAlignsColumns(t *testing.T) {
	out := RenderTable([]string{"ID", "STATE"}, [][]string{
		{"1a2b3c4d", "Active"},
		{"9", "Ready"},
	})
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("RenderTable() gave %d lines, want 3", len(lines))
	}
	// second column starts at the same width on every row
	want := lipgloss.Width("  1a2b3c4d  ")
	for _, line := range lines {
		plain := stripANSI(line)
		idx := strings.IndexAny(plain[2:], "SAR")
		if idx+2 != want {
			t.Errorf("column 2 of %q starts at %d, want %d", plain, idx+2, want)
		}
	}
}

func TestOutputBoxKeepsTail(t *testing.T) {
	box := NewOutputBox("dmesg", []string{"a", "b", "c", "d"}).SetMaxLines(2)
	got := box.visibleLines()
	want := []string{"... (2 lines truncated)", "c", "d"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("visibleLines() = %v, want %v", got, want)
	}

	if got := NewOutputBox("true", nil).visibleLines(); len(got) != 1 || got[0] != "(no output)" {
		t.Errorf("empty visibleLines() = %v", got)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"exact phrase", "I AGREE\n", true},
		{"surrounding spaces", "  I AGREE  \n", true},
		{"lower case", "i agree\n", false},
		{"no newline", "I AGREE", true},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if got := FlashConfirmation(strings.NewReader(tt.input), &out, "bmc.test"); got != tt.want {
				t.Errorf("FlashConfirmation(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if !strings.Contains(out.String(), "bmc.test") {
				t.Error("warning should name the target")
			}
		})
	}
}

func TestRunnerSuccessAndFailure(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner(RunnerConfig{
		Title:     "Firmware Flash",
		Command:   "obmctl firmware flash",
		StepNames: []string{"Upload image", "Activate"},
		Output:    &out,
	})
	err := r.Run(context.Background(), func(ctx context.Context, onStep StepCallback) ([]Field, error) {
		onStep(1, StepRunning, "")
		onStep(1, StepComplete, "")
		onStep(2, StepSkipped, "")
		onStep(7, StepComplete, "") // out of range, ignored
		return []Field{{Key: "ID", Value: "1a2b3c4d"}}, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	text := out.String()
	for _, want := range []string{"FIRMWARE FLASH", "SUCCESS", "1a2b3c4d", "Duration"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if r.progress.Percent != 1 {
		t.Errorf("Percent = %v, want 1", r.progress.Percent)
	}

	out.Reset()
	boom := errors.New("activation failed")
	r = NewRunner(RunnerConfig{
		Title:  "Firmware Flash",
		Output: &out,
		Hints:  func(error) []string { return []string{"check the event log"} },
	})
	if err := r.Run(context.Background(), func(context.Context, StepCallback) ([]Field, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if !strings.Contains(out.String(), "check the event log") {
		t.Error("failure box should show the hints")
	}
}

func TestRenderStateUnknown(t *testing.T) {
	if got := stripANSI(RenderState("Sideways")); got != "Sideways" {
		t.Errorf("RenderState() = %q", got)
	}
}

func TestStateColorsByMeaning(t *testing.T) {
	tests := map[string]lipgloss.Color{
		"On":         HealthyColor,
		"Ready":      HealthyColor,
		"Active":     HealthyColor,
		"Activating": CautionColor,
		"NotReady":   CautionColor,
		"Failed":     FaultColor,
		"Off":        MutedColor,
	}
	for state, want := range tests {
		if got := stateColors[state]; got != want {
			t.Errorf("stateColors[%q] = %v, want %v", state, got, want)
		}
	}
}

func TestTerminalWidthIsClamped(t *testing.T) {
	width := GetTerminalWidth()
	if width < MinTerminalWidth || width > MaxContentWidth {
		t.Errorf("GetTerminalWidth() = %d, want within [%d, %d]", width, MinTerminalWidth, MaxContentWidth)
	}
}

// stripANSI removes SGR escape sequences.
func stripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b {
			for i < len(s) && s[i] != 'm' {
				i++
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
