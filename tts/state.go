package tts

// PlaybackStatus represents the current state of the playback engine.
type PlaybackStatus int

const (
	// StatusIdle indicates nothing is playing or buffering.
	StatusIdle PlaybackStatus = iota
	// StatusInitialBuffering indicates the buffer is filling before any
	// audio of this cycle has played.
	StatusInitialBuffering
	// StatusBuffering indicates playback is held while generation catches up.
	StatusBuffering
	// StatusPlaying indicates audio is being rendered.
	StatusPlaying
	// StatusPaused indicates the user paused playback.
	StatusPaused
	// StatusCompleted indicates every paragraph has been played.
	StatusCompleted
	// StatusError indicates an unrecoverable generation or render failure.
	StatusError
)

// String returns the string representation of the status.
func (s PlaybackStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInitialBuffering:
		return "initial-buffering"
	case StatusBuffering:
		return "buffering"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status only changes on an explicit command.
func (s PlaybackStatus) IsTerminal() bool {
	return s == StatusIdle || s == StatusCompleted || s == StatusError
}

// IsBuffering reports whether playback is waiting on generation.
func (s PlaybackStatus) IsBuffering() bool {
	return s == StatusInitialBuffering || s == StatusBuffering
}

// Event is an input to the state machine.
type Event int

const (
	EventStart Event = iota
	EventReady
	EventAudioEnded
	EventUnderrun
	EventPause
	EventResume
	EventStop
	EventSeek
	EventFail
	EventClearError
)

// String returns the name of the event.
func (e Event) String() string {
	switch e {
	case EventStart:
		return "START"
	case EventReady:
		return "READY"
	case EventAudioEnded:
		return "AUDIO_ENDED"
	case EventUnderrun:
		return "UNDERRUN"
	case EventPause:
		return "PAUSE"
	case EventResume:
		return "RESUME"
	case EventStop:
		return "STOP"
	case EventSeek:
		return "SEEK"
	case EventFail:
		return "FAIL"
	case EventClearError:
		return "CLEAR_ERROR"
	default:
		return "UNKNOWN"
	}
}

type edge struct {
	from  PlaybackStatus
	event Event
}

var allStatuses = []PlaybackStatus{
	StatusIdle, StatusInitialBuffering, StatusBuffering, StatusPlaying,
	StatusPaused, StatusCompleted, StatusError,
}

// transitionTable lists, for every (state, event) pair that is accepted, the
// states the event may lead to. Guards in the controller pick among them.
func transitionTable() map[edge][]PlaybackStatus {
	t := map[edge][]PlaybackStatus{
		{StatusIdle, EventStart}:      {StatusInitialBuffering},
		{StatusCompleted, EventStart}: {StatusInitialBuffering},
		{StatusError, EventStart}:     {StatusInitialBuffering},

		{StatusInitialBuffering, EventReady}: {StatusPlaying},
		{StatusBuffering, EventReady}:        {StatusPlaying},

		{StatusPlaying, EventAudioEnded}: {StatusPlaying, StatusBuffering, StatusCompleted},
		{StatusPlaying, EventUnderrun}:   {StatusBuffering},

		{StatusPlaying, EventPause}:   {StatusPaused},
		{StatusBuffering, EventPause}: {StatusPaused},
		{StatusPaused, EventResume}:   {StatusPlaying, StatusBuffering},

		{StatusError, EventClearError}: {StatusIdle},
	}

	for _, s := range allStatuses {
		if s != StatusIdle {
			t[edge{s, EventStop}] = []PlaybackStatus{StatusIdle}
			t[edge{s, EventFail}] = []PlaybackStatus{StatusError}
		}
		if s != StatusError {
			t[edge{s, EventSeek}] = []PlaybackStatus{StatusInitialBuffering, StatusBuffering}
		}
	}

	return t
}

// StateMachine holds the playback status and rejects transitions that are
// not in the transition table.
type StateMachine struct {
	current     PlaybackStatus
	transitions map[edge][]PlaybackStatus
	onEnter     map[PlaybackStatus]func(from PlaybackStatus)
	onExit      map[PlaybackStatus]func(to PlaybackStatus)
}

// NewStateMachine creates a state machine in StatusIdle.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current:     StatusIdle,
		transitions: transitionTable(),
		onEnter:     make(map[PlaybackStatus]func(PlaybackStatus)),
		onExit:      make(map[PlaybackStatus]func(PlaybackStatus)),
	}
}

// Accepts reports whether event is valid in the current state.
func (sm *StateMachine) Accepts(event Event) bool {
	_, ok := sm.transitions[edge{sm.current, event}]
	return ok
}

// Allows reports whether event may move the machine to the given state.
func (sm *StateMachine) Allows(event Event, to PlaybackStatus) bool {
	for _, s := range sm.transitions[edge{sm.current, event}] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the machine to the given state on event. Self transitions
// (playing -> playing on AUDIO_ENDED) do not fire hooks.
func (sm *StateMachine) Transition(event Event, to PlaybackStatus) error {
	if !sm.Allows(event, to) {
		return &StateError{Command: event.String() + "->" + to.String(), State: sm.current}
	}

	from := sm.current
	if from == to {
		return nil
	}

	if exitFn, ok := sm.onExit[from]; ok && exitFn != nil {
		exitFn(to)
	}

	sm.current = to

	if enterFn, ok := sm.onEnter[to]; ok && enterFn != nil {
		enterFn(from)
	}

	return nil
}

// Current returns the current state.
func (sm *StateMachine) Current() PlaybackStatus {
	return sm.current
}

// OnEnter registers a callback for entering a state.
func (sm *StateMachine) OnEnter(state PlaybackStatus, fn func(from PlaybackStatus)) {
	sm.onEnter[state] = fn
}

// OnExit registers a callback for exiting a state.
func (sm *StateMachine) OnExit(state PlaybackStatus, fn func(to PlaybackStatus)) {
	sm.onExit[state] = fn
}
