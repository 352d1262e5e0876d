package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"

	"github.com/dgnsrekt/narrate/tts"
)

const (
	statusBarHeight = 1
	ellipsis        = "…"
	maxGaugeCells   = 12
)

// statusPill returns the icon, label and color for a playback status.
func statusPill(s tts.PlaybackStatus) (string, string, lipgloss.TerminalColor) {
	switch s {
	case tts.StatusPlaying:
		return "▶", "Playing", green
	case tts.StatusPaused:
		return "⏸", "Paused", yellow
	case tts.StatusInitialBuffering:
		return "⟳", "Loading", blue
	case tts.StatusBuffering:
		return "⟳", "Buffering", blue
	case tts.StatusCompleted:
		return "✓", "Done", green
	case tts.StatusError:
		return "✗", "Error", red
	default:
		return "■", "Stopped", statusBarNoteFg
	}
}

func pillView(s tts.PlaybackStatus) string {
	icon, label, color := statusPill(s)
	return lipgloss.NewStyle().
		Foreground(color).
		Background(statusBarBg).
		Bold(true).
		Render(" " + icon + " " + label + " ")
}

// positionView renders the one-based paragraph position.
func positionView(snap tts.Snapshot) string {
	if snap.TotalParagraphs == 0 {
		return "¶ 0/0"
	}
	cur := snap.CurrentIndex + 1
	if snap.Status == tts.StatusIdle || snap.CurrentIndex < 0 {
		cur = 0
	}
	cur = min(cur, snap.TotalParagraphs)
	return fmt.Sprintf("¶ %d/%d", cur, snap.TotalParagraphs)
}

// gaugeView draws one cell per paragraph from the cursor to the target
// window. Filled cells are ready; the spinner marks the one being generated.
func gaugeView(snap tts.Snapshot, spin string) string {
	target := min(snap.Buffer.TargetBuffer, maxGaugeCells)
	if target <= 0 || snap.TotalParagraphs == 0 {
		return ""
	}
	ready := make(map[int]bool, len(snap.Buffer.Generated))
	for _, i := range snap.Buffer.Generated {
		ready[i] = true
	}

	cursor := max(snap.CurrentIndex, 0)
	var b strings.Builder
	for i := cursor; i < cursor+target && i < snap.TotalParagraphs; i++ {
		switch {
		case ready[i]:
			b.WriteString("■")
		case snap.Buffer.IsGenerating && snap.Buffer.GeneratingIndex == i && spin != "":
			b.WriteString(spin)
		default:
			b.WriteString("□")
		}
	}
	return b.String()
}

func speedView(speed float64) string {
	if speed <= 0 {
		speed = 1
	}
	return strconv.FormatFloat(speed, 'f', -1, 64) + "×"
}

// statusBarView renders the single status line at the bottom of the screen.
func (m model) statusBarView() string {
	pill := pillView(m.snap.Status)
	help := statusBarHelpStyle.Render(" ? Help ")

	right := []string{
		positionView(m.snap),
		gaugeView(m.snap, m.spinner.View()),
		speedView(m.settings.Speed),
	}
	if m.cfg.EngineName != "" {
		right = append(right, m.cfg.EngineName)
	}
	info := statusBarNoteStyle.Render(" " + strings.Join(nonEmpty(right), "  ") + " ")

	noteStyle := statusBarNoteStyle
	note := m.cfg.Title
	switch {
	case m.statusMessage != "":
		noteStyle = statusBarMessageStyle
		note = m.statusMessage
	case m.snap.Error != "":
		noteStyle = statusBarErrorStyle
		note = m.snap.Error + " (r to dismiss)"
	}

	avail := max(0, m.width-lipgloss.Width(pill)-lipgloss.Width(info)-lipgloss.Width(help))
	note = truncate.StringWithTail(" "+note+" ", uint(avail), ellipsis) //nolint:gosec
	pad := max(0, avail-runewidth.StringWidth(note))
	note = noteStyle.Render(note + strings.Repeat(" ", pad))

	return pill + note + info + help
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// helpView lists the key bindings below the document.
func (m model) helpView() string {
	col1 := []string{
		"space    play/pause",
		"s        stop",
		"n/→      next paragraph",
		"p/←      previous paragraph",
		"g        back to start",
		"q        quit",
	}
	col2 := []string{
		"]/+      faster",
		"[/-      slower",
		"y        copy paragraph",
		"w        save session",
		"r        dismiss error",
		"?        toggle help",
	}

	var b strings.Builder
	b.WriteString("\n")
	for i := range col1 {
		fmt.Fprintf(&b, "  %-28s%s\n", col1[i], col2[i])
	}
	lines := strings.Split(strings.TrimSuffix(b.String(), "\n"), "\n")
	for i, l := range lines {
		if n := m.width - runewidth.StringWidth(l); n > 0 {
			lines[i] = l + strings.Repeat(" ", n)
		}
	}
	return helpViewStyle.Render(strings.Join(lines, "\n"))
}

func helpHeight() int { return 7 }
