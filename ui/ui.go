// Package ui provides the terminal interface that shows a document while
// the playback controller reads it aloud.
package ui

import (
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"

	"github.com/dgnsrekt/narrate/tts"
	"github.com/dgnsrekt/narrate/tts/paragraph"
)

const statusMessageTimeout = time.Second * 3

// ParagraphsReloadedMsg tells the UI the document was re-read from disk.
type ParagraphsReloadedMsg struct {
	Paragraphs []paragraph.Paragraph
}

type statusMessageTimeoutMsg struct{ id int }

// NewProgram returns a new Tea program reading paragraphs through ctrl.
func NewProgram(cfg Config, ctrl *tts.Controller, paragraphs []paragraph.Paragraph, settings tts.GenerationSettings) *tea.Program {
	log.Debug("Starting narrate", "glamour", cfg.GlamourEnabled, "paragraphs", len(paragraphs))

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, ctrl, paragraphs, settings), opts...)
}

type model struct {
	cfg  Config
	ctrl *tts.Controller

	snapshots   <-chan tts.Snapshot
	unsubscribe func()
	snap        tts.Snapshot
	settings    tts.GenerationSettings

	doc      *document
	starts   []int
	viewport viewport.Model
	spinner  spinner.Model

	width, height int
	showHelp      bool

	statusMessage   string
	statusMessageID int
}

func newModel(cfg Config, ctrl *tts.Controller, paragraphs []paragraph.Paragraph, settings tts.GenerationSettings) model {
	ch, unsubscribe := tts.Watch(ctrl)
	return model{
		cfg:         cfg,
		ctrl:        ctrl,
		snapshots:   ch,
		unsubscribe: unsubscribe,
		snap:        ctrl.Snapshot(),
		settings:    settings,
		doc:         newDocument(paragraphs, cfg.GlamourStyle, cfg.GlamourEnabled),
		viewport:    viewport.New(0, 0),
		spinner:     spinner.New(spinner.WithSpinner(spinner.MiniDot)),
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{tts.WaitForSnapshot(m.snapshots), m.spinner.Tick}
	if m.cfg.AutoPlay {
		cmds = append(cmds, tts.StartCmd(m.ctrl, m.cfg.StartAt))
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.setSize()
		m.refresh(true)

	case tea.KeyMsg:
		cmd, handled, quit := m.handleKey(msg)
		if quit {
			m.unsubscribe()
			return m, tea.Quit
		}
		if handled {
			return m, cmd
		}

	case tts.SnapshotMsg:
		moved := msg.CurrentIndex != m.snap.CurrentIndex || msg.Status != m.snap.Status
		m.snap = msg.Snapshot
		if moved {
			m.refresh(true)
		}
		cmds = append(cmds, tts.WaitForSnapshot(m.snapshots))

	case tts.CommandErrMsg:
		log.Debug("command rejected", "action", msg.Action, "err", msg.Err)
		cmds = append(cmds, m.showStatusMessage(fmt.Sprintf("%s: %v", msg.Action, msg.Err)))

	case tts.SessionSavedMsg:
		cmds = append(cmds, m.showStatusMessage("Session saved ("+humanize.Bytes(uint64(max(msg.Bytes, 0)))+")")) //nolint:gosec

	case ParagraphsReloadedMsg:
		m.doc.setParagraphs(msg.Paragraphs)
		m.doc.resize(m.viewport.Width)
		m.refresh(false)
		cmds = append(cmds, m.showStatusMessage("Reloaded"))

	case statusMessageTimeoutMsg:
		if msg.id == m.statusMessageID {
			m.statusMessage = ""
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleKey maps a key press to a controller command. Keys it does not
// handle fall through to the viewport.
func (m *model) handleKey(msg tea.KeyMsg) (cmd tea.Cmd, handled, quit bool) {
	status := m.snap.Status

	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return nil, true, true

	case " ":
		if status == tts.StatusIdle || status == tts.StatusCompleted {
			return tts.StartCmd(m.ctrl, m.restartIndex()), true, false
		}
		return tts.TogglePauseCmd(m.ctrl, status), true, false

	case "s":
		return tts.StopCmd(m.ctrl), true, false

	case "n", "right":
		return tts.SeekCmd(m.ctrl, m.snap.CurrentIndex+1), true, false

	case "p", "left":
		return tts.SeekCmd(m.ctrl, max(m.snap.CurrentIndex-1, 0)), true, false

	case "g":
		if status.IsTerminal() {
			return tts.StartCmd(m.ctrl, 0), true, false
		}
		return tts.SeekCmd(m.ctrl, 0), true, false

	case "r":
		return tts.ClearErrorCmd(m.ctrl), true, false

	case "w":
		if m.cfg.SaveSession == nil {
			return nil, true, false
		}
		return saveSessionCmd(m.cfg.SaveSession), true, false

	case "y":
		text, ok := m.doc.text(m.snap.CurrentIndex)
		if !ok {
			return nil, true, false
		}
		// Copy using OSC 52
		termenv.Copy(text)
		// Copy using native system clipboard
		_ = clipboard.WriteAll(text)
		return m.showStatusMessage("Copied paragraph"), true, false

	case "]", "+":
		return m.setSpeed(fasterSpeed(m.settings.Speed)), true, false

	case "[", "-":
		return m.setSpeed(slowerSpeed(m.settings.Speed)), true, false

	case "?":
		m.showHelp = !m.showHelp
		m.setSize()
		m.refresh(false)
		return nil, true, false
	}
	return nil, false, false
}

// restartIndex is where space starts reading: the remembered cursor, or the
// top once the document has been read through.
func (m model) restartIndex() int {
	if m.snap.Status == tts.StatusCompleted {
		return 0
	}
	return max(m.snap.CurrentIndex, 0)
}

func saveSessionCmd(save func() (tts.SessionSavedMsg, error)) tea.Cmd {
	return func() tea.Msg {
		msg, err := save()
		if err != nil {
			return tts.CommandErrMsg{Action: "save", Err: err}
		}
		return msg
	}
}

func (m *model) setSpeed(speed float64) tea.Cmd {
	if speed == m.settings.Speed {
		return nil
	}
	m.settings.Speed = speed
	return tea.Batch(
		tts.UpdateSettingsCmd(m.ctrl, m.settings),
		m.showStatusMessage("Speed "+speedView(speed)),
	)
}

func (m *model) showStatusMessage(msg string) tea.Cmd {
	m.statusMessageID++
	m.statusMessage = msg
	id := m.statusMessageID
	return tea.Tick(statusMessageTimeout, func(time.Time) tea.Msg {
		return statusMessageTimeoutMsg{id: id}
	})
}

func (m *model) setSize() {
	h := m.height - statusBarHeight
	if m.showHelp {
		h -= helpHeight()
	}
	m.viewport.Width = m.contentWidth()
	m.viewport.Height = max(h, 0)
}

func (m model) contentWidth() int {
	w := m.width
	if m.cfg.GlamourMaxWidth > 0 && w > int(m.cfg.GlamourMaxWidth) { //nolint:gosec
		w = int(m.cfg.GlamourMaxWidth) //nolint:gosec
	}
	return w
}

// refresh redraws the document with the current paragraph highlighted and,
// if follow is set, scrolls it into view.
func (m *model) refresh(follow bool) {
	if m.width == 0 {
		return
	}
	m.doc.resize(m.viewport.Width)
	content, starts := m.doc.view(m.highlighted())
	m.starts = starts
	m.viewport.SetContent(content)

	if !follow {
		return
	}
	i := m.highlighted()
	if i < 0 || i >= len(starts) {
		return
	}
	line := starts[i]
	if line < m.viewport.YOffset || line >= m.viewport.YOffset+m.viewport.Height-2 {
		m.viewport.SetYOffset(max(line-m.viewport.Height/4, 0))
	}
}

// highlighted is the paragraph marked as being read, or -1.
func (m model) highlighted() int {
	switch m.snap.Status {
	case tts.StatusIdle, tts.StatusCompleted:
		return -1
	}
	return m.snap.CurrentIndex
}

func (m model) View() string {
	if m.width == 0 {
		return ""
	}
	out := m.viewport.View() + "\n" + m.statusBarView()
	if m.showHelp {
		out += "\n" + m.helpView()
	}
	return out
}
