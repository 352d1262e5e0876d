package ui

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/audio"
	"github.com/dgnsrekt/narrate/tts/engines/mock"
	"github.com/dgnsrekt/narrate/tts/paragraph"
)

func testParagraphs(n int) []paragraph.Paragraph {
	out := make([]paragraph.Paragraph, n)
	for i := range out {
		out[i] = paragraph.Paragraph{Index: i, Text: fmt.Sprintf("Paragraph number %d.", i)}
	}
	return out
}

func newTestModel(t *testing.T, n int) (model, *tts.Controller) {
	t.Helper()
	ps := testParagraphs(n)
	cfg := tts.DefaultBufferedPlaybackConfig()
	cfg.RetryDelay = 0

	engine := mock.New(tts.MockConfig{})
	ctrl, err := tts.NewController(engine, audio.NewMockRenderer(time.Hour), audio.NewBuffer(cfg.RetainBehind), cfg,
		tts.WithParagraphs(paragraph.Texts(ps)),
		tts.WithLogger(log.New(io.Discard)),
	)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })

	m := newModel(Config{EngineName: "mock", Title: "notes.md"}, ctrl, ps, tts.DefaultGenerationSettings())
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, ctrl
}

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

func press(t *testing.T, m model, key string) (model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case " ":
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	case "right":
		msg = tea.KeyMsg{Type: tea.KeyRight}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, cmd := m.Update(msg)
	return next.(model), cmd
}

func waitForStatus(t *testing.T, c *tts.Controller, want tts.PlaybackStatus) tts.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s := c.Snapshot(); s.Status == want {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never reached %v, last %+v", want, c.Snapshot())
	return tts.Snapshot{}
}

func TestSpaceStartsAndPauses(t *testing.T) {
	m, ctrl := newTestModel(t, 6)

	m, cmd := press(t, m, " ")
	if cmd == nil {
		t.Fatal("space produced no command")
	}
	if msg := cmd(); msg != nil {
		t.Fatalf("start rejected: %v", msg)
	}
	snap := waitForStatus(t, ctrl, tts.StatusPlaying)

	m = update(t, m, tts.SnapshotMsg{Snapshot: snap})
	if !strings.Contains(m.View(), "Playing") {
		t.Error("status bar does not show Playing")
	}
	if m.highlighted() != 0 {
		t.Errorf("highlighted = %d, want 0", m.highlighted())
	}

	_, cmd = press(t, m, " ")
	if msg := cmd(); msg != nil {
		t.Fatalf("pause rejected: %v", msg)
	}
	waitForStatus(t, ctrl, tts.StatusPaused)
}

func TestSeekKeys(t *testing.T) {
	m, ctrl := newTestModel(t, 6)
	if err := ctrl.Start(0); err != nil {
		t.Fatal(err)
	}
	m = update(t, m, tts.SnapshotMsg{Snapshot: waitForStatus(t, ctrl, tts.StatusPlaying)})

	_, cmd := press(t, m, "right")
	_ = cmd()
	deadline := time.Now().Add(3 * time.Second)
	for ctrl.Snapshot().CurrentIndex != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := ctrl.Snapshot().CurrentIndex; got != 1 {
		t.Errorf("CurrentIndex = %d after next, want 1", got)
	}
}

func TestSpeedKeys(t *testing.T) {
	m, _ := newTestModel(t, 3)

	m, cmd := press(t, m, "]")
	if cmd == nil || m.settings.Speed != 1.25 {
		t.Fatalf("speed = %v, want 1.25", m.settings.Speed)
	}
	if !strings.Contains(m.statusMessage, "1.25×") {
		t.Errorf("statusMessage = %q", m.statusMessage)
	}

	m, _ = press(t, m, "[")
	m, _ = press(t, m, "[")
	if m.settings.Speed != 0.75 {
		t.Errorf("speed = %v, want 0.75", m.settings.Speed)
	}
}

func TestStatusMessageTimeout(t *testing.T) {
	m, _ := newTestModel(t, 3)

	m = update(t, m, tts.CommandErrMsg{Action: "seek", Err: tts.ErrControllerClosed})
	if !strings.HasPrefix(m.statusMessage, "seek:") {
		t.Fatalf("statusMessage = %q", m.statusMessage)
	}

	stale := statusMessageTimeoutMsg{id: m.statusMessageID - 1}
	m = update(t, m, stale)
	if m.statusMessage == "" {
		t.Error("stale timeout cleared the message")
	}
	m = update(t, m, statusMessageTimeoutMsg{id: m.statusMessageID})
	if m.statusMessage != "" {
		t.Error("message not cleared")
	}
}

func TestHelpToggle(t *testing.T) {
	m, _ := newTestModel(t, 3)
	full := m.viewport.Height

	m, _ = press(t, m, "?")
	if !m.showHelp || m.viewport.Height != full-helpHeight() {
		t.Errorf("help shown = %v, viewport height = %d", m.showHelp, m.viewport.Height)
	}
	if !strings.Contains(m.View(), "play/pause") {
		t.Error("help view missing")
	}
}

func TestQuit(t *testing.T) {
	m, _ := newTestModel(t, 3)
	_, cmd := press(t, m, "q")
	if cmd == nil {
		t.Fatal("q produced no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q does not quit")
	}
}

func TestParagraphsReloaded(t *testing.T) {
	m, _ := newTestModel(t, 3)
	m = update(t, m, ParagraphsReloadedMsg{Paragraphs: testParagraphs(5)})
	if m.doc.len() != 5 || len(m.starts) != 5 {
		t.Errorf("doc has %d paragraphs, %d offsets", m.doc.len(), len(m.starts))
	}
	if !strings.Contains(m.viewport.View(), "Paragraph number 4.") {
		t.Error("reloaded paragraph not rendered")
	}
}

func TestDocumentView(t *testing.T) {
	d := newDocument(testParagraphs(3), "", false)
	d.resize(80)
	out, starts := d.view(1)

	lines := strings.Split(out, "\n")
	for i, start := range starts {
		if !strings.Contains(lines[start], fmt.Sprintf("Paragraph number %d.", i)) {
			t.Errorf("paragraph %d not at line %d: %q", i, start, lines[start])
		}
	}
	if !strings.Contains(lines[starts[1]], "▌") {
		t.Error("current paragraph not marked")
	}
	if strings.Contains(lines[starts[2]], "▌") {
		t.Error("upcoming paragraph marked as current")
	}
}

func TestSaveKey(t *testing.T) {
	m, _ := newTestModel(t, 3)

	_, cmd := press(t, m, "w")
	if cmd != nil {
		t.Error("save key without a saver produced a command")
	}

	calls := 0
	m.cfg.SaveSession = func() (tts.SessionSavedMsg, error) {
		calls++
		return tts.SessionSavedMsg{ID: "abc", Bytes: 2048}, nil
	}
	_, cmd = press(t, m, "w")
	msg := cmd()
	if _, ok := msg.(tts.SessionSavedMsg); !ok || calls != 1 {
		t.Fatalf("save returned %T after %d calls", msg, calls)
	}
	m = update(t, m, msg)
	if !strings.HasPrefix(m.statusMessage, "Session saved") {
		t.Errorf("statusMessage = %q", m.statusMessage)
	}
}
