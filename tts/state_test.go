package tts

import (
	"errors"
	"testing"
)

func TestPlaybackStatusString(t *testing.T) {
	tests := []struct {
		status   PlaybackStatus
		expected string
	}{
		{StatusIdle, "idle"},
		{StatusInitialBuffering, "initial-buffering"},
		{StatusBuffering, "buffering"},
		{StatusPlaying, "playing"},
		{StatusPaused, "paused"},
		{StatusCompleted, "completed"},
		{StatusError, "error"},
		{PlaybackStatus(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.status.String(); got != tt.expected {
				t.Errorf("PlaybackStatus.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStateMachineTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []PlaybackStatus // states to walk through before the step
		events  []Event
		event   Event
		to      PlaybackStatus
		wantErr bool
	}{
		{name: "idle start", event: EventStart, to: StatusInitialBuffering},
		{name: "idle pause rejected", event: EventPause, to: StatusPaused, wantErr: true},
		{name: "idle stop rejected", event: EventStop, to: StatusIdle, wantErr: true},
		{name: "idle ready rejected", event: EventReady, to: StatusPlaying, wantErr: true},
		{
			name:   "initial buffering ready",
			path:   []PlaybackStatus{StatusInitialBuffering},
			events: []Event{EventStart},
			event:  EventReady,
			to:     StatusPlaying,
		},
		{
			name:    "initial buffering pause rejected",
			path:    []PlaybackStatus{StatusInitialBuffering},
			events:  []Event{EventStart},
			event:   EventPause,
			to:      StatusPaused,
			wantErr: true,
		},
		{
			name:   "playing underrun",
			path:   []PlaybackStatus{StatusInitialBuffering, StatusPlaying},
			events: []Event{EventStart, EventReady},
			event:  EventUnderrun,
			to:     StatusBuffering,
		},
		{
			name:   "playing completes",
			path:   []PlaybackStatus{StatusInitialBuffering, StatusPlaying},
			events: []Event{EventStart, EventReady},
			event:  EventAudioEnded,
			to:     StatusCompleted,
		},
		{
			name:   "buffering pause",
			path:   []PlaybackStatus{StatusInitialBuffering, StatusPlaying, StatusBuffering},
			events: []Event{EventStart, EventReady, EventUnderrun},
			event:  EventPause,
			to:     StatusPaused,
		},
		{
			name:    "paused pause rejected",
			path:    []PlaybackStatus{StatusInitialBuffering, StatusPlaying, StatusPaused},
			events:  []Event{EventStart, EventReady, EventPause},
			event:   EventPause,
			to:      StatusPaused,
			wantErr: true,
		},
		{
			name:   "paused resume to buffering",
			path:   []PlaybackStatus{StatusInitialBuffering, StatusPlaying, StatusPaused},
			events: []Event{EventStart, EventReady, EventPause},
			event:  EventResume,
			to:     StatusBuffering,
		},
		{
			name:   "error clear",
			path:   []PlaybackStatus{StatusInitialBuffering, StatusError},
			events: []Event{EventStart, EventFail},
			event:  EventClearError,
			to:     StatusIdle,
		},
		{
			name:    "error seek rejected",
			path:    []PlaybackStatus{StatusInitialBuffering, StatusError},
			events:  []Event{EventStart, EventFail},
			event:   EventSeek,
			to:      StatusBuffering,
			wantErr: true,
		},
		{
			name:   "completed stop",
			path:   []PlaybackStatus{StatusInitialBuffering, StatusPlaying, StatusCompleted},
			events: []Event{EventStart, EventReady, EventAudioEnded},
			event:  EventStop,
			to:     StatusIdle,
		},
		{
			name:   "completed restart",
			path:   []PlaybackStatus{StatusInitialBuffering, StatusPlaying, StatusCompleted},
			events: []Event{EventStart, EventReady, EventAudioEnded},
			event:  EventStart,
			to:     StatusInitialBuffering,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine()
			for i, s := range tt.path {
				if err := sm.Transition(tt.events[i], s); err != nil {
					t.Fatalf("setup transition to %s: %v", s, err)
				}
			}

			before := sm.Current()
			err := sm.Transition(tt.event, tt.to)
			if tt.wantErr {
				var se *StateError
				if !errors.As(err, &se) {
					t.Fatalf("expected StateError, got %v", err)
				}
				if se.State != before {
					t.Errorf("StateError.State = %s, want %s", se.State, before)
				}
				if sm.Current() != before {
					t.Errorf("state changed on rejected transition: %s", sm.Current())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sm.Current() != tt.to {
				t.Errorf("Current() = %s, want %s", sm.Current(), tt.to)
			}
		})
	}
}

func TestStateMachineStopFromEveryState(t *testing.T) {
	for _, s := range allStatuses {
		sm := NewStateMachine()
		sm.current = s
		err := sm.Transition(EventStop, StatusIdle)
		if s == StatusIdle {
			if err == nil {
				t.Errorf("STOP from idle should be rejected")
			}
			continue
		}
		if err != nil {
			t.Errorf("STOP from %s: %v", s, err)
		}
	}
}

func TestStateMachineHooks(t *testing.T) {
	sm := NewStateMachine()

	var entered, exited []string
	sm.OnEnter(StatusPlaying, func(from PlaybackStatus) {
		entered = append(entered, "playing<-"+from.String())
	})
	sm.OnExit(StatusPlaying, func(to PlaybackStatus) {
		exited = append(exited, "playing->"+to.String())
	})

	steps := []struct {
		event Event
		to    PlaybackStatus
	}{
		{EventStart, StatusInitialBuffering},
		{EventReady, StatusPlaying},
		{EventAudioEnded, StatusPlaying},
		{EventPause, StatusPaused},
	}
	for _, step := range steps {
		if err := sm.Transition(step.event, step.to); err != nil {
			t.Fatalf("transition %s: %v", step.event, err)
		}
	}

	if len(entered) != 1 || entered[0] != "playing<-initial-buffering" {
		t.Errorf("enter hooks = %v", entered)
	}
	if len(exited) != 1 || exited[0] != "playing->paused" {
		t.Errorf("exit hooks = %v", exited)
	}
}

func TestStateMachineAccepts(t *testing.T) {
	sm := NewStateMachine()
	if !sm.Accepts(EventStart) {
		t.Error("idle should accept START")
	}
	if !sm.Accepts(EventSeek) {
		t.Error("idle should accept SEEK")
	}
	if sm.Accepts(EventResume) {
		t.Error("idle should not accept RESUME")
	}
}
