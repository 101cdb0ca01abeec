package player

// Media is the native media element a Guard drives.
//
// Implementations report what happens through the Listener passed to
// Attach. They must not invoke the listener from inside one of their own
// methods; events are delivered from the element's own goroutine, the way a
// browser queues media events.
type Media interface {
	Attach(l Listener)
	SetSource(src string)
	Play() error
	Pause()
	Seek(position float64)
	SetVolume(v float64)
	SetMuted(muted bool)
	SetPlaybackRate(rate float64)
	Close() error
}

// Listener receives media element events.
type Listener interface {
	OnMetadata(duration float64)
	OnTimeUpdate(position float64)
	OnBuffered(end float64)
	OnWaiting()
	OnCanPlay()
	OnEnded()
	OnError(err error)
}

// Fullscreener toggles the display surface. Changes are confirmed through
// Guard.FullscreenChanged.
type Fullscreener interface {
	RequestFullscreen() error
	ExitFullscreen() error
}

// Preferences persists the viewer's volume and speed between sessions.
type Preferences interface {
	Volume() (float64, bool)
	PlaybackRate() (float64, bool)
	SetVolume(v float64) error
	SetPlaybackRate(rate float64) error
}
