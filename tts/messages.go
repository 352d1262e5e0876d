package tts

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Messages for Bubble Tea communication between the controller and the UI.

// SnapshotMsg carries a changed controller snapshot.
type SnapshotMsg struct {
	Snapshot
}

// CommandErrMsg reports a command the controller could not accept.
type CommandErrMsg struct {
	Action string // Which command failed (start, pause, seek, ...)
	Err    error
}

// SessionSavedMsg indicates the session checkpoint was written.
type SessionSavedMsg struct {
	ID    string
	Bytes int64
}

// Watch subscribes to c and returns a channel holding the most recent
// snapshot. Older snapshots are dropped if the reader falls behind.
func Watch(c *Controller) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	unsubscribe := c.Subscribe(func(s Snapshot) {
		for {
			select {
			case ch <- s:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})
	return ch, unsubscribe
}

// WaitForSnapshot blocks until the next snapshot arrives on ch.
func WaitForSnapshot(ch <-chan Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return SnapshotMsg{Snapshot: s}
	}
}

func commandCmd(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return CommandErrMsg{Action: action, Err: err}
		}
		return nil
	}
}

// StartCmd starts playback at index.
func StartCmd(c *Controller, index int) tea.Cmd {
	return commandCmd("start", func() error { return c.Start(index) })
}

// TogglePauseCmd pauses a playing session or resumes a paused one.
func TogglePauseCmd(c *Controller, status PlaybackStatus) tea.Cmd {
	if status == StatusPaused {
		return commandCmd("resume", c.Resume)
	}
	return commandCmd("pause", c.Pause)
}

// StopCmd stops playback.
func StopCmd(c *Controller) tea.Cmd {
	return commandCmd("stop", c.Stop)
}

// SeekCmd moves playback to index.
func SeekCmd(c *Controller, index int) tea.Cmd {
	return commandCmd("seek", func() error { return c.Seek(index) })
}

// ClearErrorCmd leaves the error state.
func ClearErrorCmd(c *Controller) tea.Cmd {
	return commandCmd("clear-error", c.ClearError)
}

// UpdateSettingsCmd changes the voice parameters.
func UpdateSettingsCmd(c *Controller, s GenerationSettings) tea.Cmd {
	return commandCmd("settings", func() error { return c.UpdateSettings(s) })
}
