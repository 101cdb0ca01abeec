package player

import "fmt"

type State int

const (
	StateIdle State = iota
	StateLoading
	StatePaused
	StatePlaying
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type EventKind int

const (
	EventProgress EventKind = iota
	EventEnded
	EventError
	EventQualityChanged
	// EventRetry asks the host for a full session reload.
	EventRetry
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	case EventQualityChanged:
		return "quality_changed"
	case EventRetry:
		return "retry"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is what a Guard publishes to its subscribers.
type Event struct {
	Kind         EventKind
	Position     float64
	MaxReached   float64
	Duration     float64
	FullyWatched bool
	Quality      string
	Err          error
}

// Action is the transient indicator flashed after a control gesture.
type Action string

const (
	ActionNone     Action = ""
	ActionPlay     Action = "play"
	ActionPause    Action = "pause"
	ActionForward  Action = "forward"
	ActionBackward Action = "backward"
)

// Snapshot is a consistent copy of the session and display state.
type Snapshot struct {
	State           State
	Position        float64
	MaxReached      float64
	Duration        float64
	Buffered        float64
	Buffering       bool
	FullyWatched    bool
	Quality         string
	Volume          float64
	Muted           bool
	PlaybackRate    float64
	Fullscreen      bool
	ControlsVisible bool
	LastAction      Action
	Err             error
}

func (s Snapshot) Playing() bool { return s.State == StatePlaying }
