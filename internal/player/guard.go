// Package player implements the playback guard: a per-session state machine
// around a media element that keeps a monotonic high-water mark of watched
// content and refuses to move the play-head past it until the video has been
// watched through.
package player

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lessonplayer/internal/metrics"
	"lessonplayer/internal/stream"
)

const (
	DefaultFullyWatchedRatio = 0.98
	DefaultSnapTolerance     = 2.0
	DefaultSeekStep          = 10.0
	DefaultVolumeStep        = 0.1
	DefaultOverlayHide       = 3 * time.Second
	DefaultActionFlash       = 800 * time.Millisecond

	// The speed menu offers 0.5x to 2x.
	MinPlaybackRate = 0.5
	MaxPlaybackRate = 2.0
)

type Options struct {
	// InitialProgress seeds both the position and the high-water mark.
	InitialProgress float64
	Qualities       []stream.Quality
	Preferences     Preferences
	Fullscreen      Fullscreener

	FullyWatchedRatio float64
	SnapTolerance     float64
	SeekStep          float64
	VolumeStep        float64
	OverlayHide       time.Duration
	ActionFlash       time.Duration

	Logger zerolog.Logger
}

func (o *Options) normalize() {
	if o.FullyWatchedRatio <= 0 || o.FullyWatchedRatio > 1 {
		o.FullyWatchedRatio = DefaultFullyWatchedRatio
	}
	if o.SnapTolerance <= 0 {
		o.SnapTolerance = DefaultSnapTolerance
	}
	if o.SeekStep <= 0 {
		o.SeekStep = DefaultSeekStep
	}
	if o.VolumeStep <= 0 {
		o.VolumeStep = DefaultVolumeStep
	}
	if o.OverlayHide <= 0 {
		o.OverlayHide = DefaultOverlayHide
	}
	if o.ActionFlash <= 0 {
		o.ActionFlash = DefaultActionFlash
	}
	if o.InitialProgress < 0 {
		o.InitialProgress = 0
	}
}

// Guard owns one playback session. All methods are safe for concurrent use.
type Guard struct {
	mu     sync.Mutex
	media  Media
	opts   Options
	logger zerolog.Logger

	state        State
	position     float64
	maxReached   float64
	duration     float64
	buffered     float64
	buffering    bool
	fullyWatched bool
	err          error

	qualities []stream.Quality
	quality   string

	// Set while a source is loading: where to put the play-head and whether
	// to resume once metadata arrives.
	restorePending bool
	playWhenReady  bool

	volume     float64
	muted      bool
	rate       float64
	fullscreen bool

	controlsVisible bool
	menuOpen        bool
	lastAction      Action
	hideTimer       *time.Timer
	actionTimer     *time.Timer

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int

	closed bool
}

// New creates a Guard in the idle state. Saved preferences are read once
// here and applied to the element.
func New(media Media, opts Options) *Guard {
	opts.normalize()

	g := &Guard{
		media:           media,
		opts:            opts,
		logger:          opts.Logger.With().Str("component", "player").Logger(),
		state:           StateIdle,
		position:        opts.InitialProgress,
		maxReached:      opts.InitialProgress,
		qualities:       append([]stream.Quality(nil), opts.Qualities...),
		volume:          1,
		rate:            1,
		controlsVisible: true,
		subs:            make(map[int]func(Event)),
	}

	if p := opts.Preferences; p != nil {
		if v, ok := p.Volume(); ok && v >= 0 && v <= 1 {
			g.volume = v
		}
		if r, ok := p.PlaybackRate(); ok && r > 0 {
			g.rate = clampRate(r)
		}
	}

	media.Attach(g)
	media.SetVolume(g.volume)
	media.SetPlaybackRate(g.rate)

	return g
}

func clampRate(r float64) float64 {
	if r < MinPlaybackRate {
		return MinPlaybackRate
	}
	if r > MaxPlaybackRate {
		return MaxPlaybackRate
	}
	return r
}

// Subscribe registers fn for guard events and returns a function that
// removes it. Callbacks run outside the guard's lock.
func (g *Guard) Subscribe(fn func(Event)) func() {
	g.subMu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.subMu.Unlock()

	return func() {
		g.subMu.Lock()
		delete(g.subs, id)
		g.subMu.Unlock()
	}
}

func (g *Guard) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	g.subMu.Lock()
	fns := make([]func(Event), 0, len(g.subs))
	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.subMu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// Open binds the first configured quality (Auto) and starts loading.
func (g *Guard) Open() {
	g.mu.Lock()
	if g.closed || g.state != StateIdle || len(g.qualities) == 0 {
		g.mu.Unlock()
		return
	}
	q := g.qualities[0]
	g.quality = q.Label
	g.state = StateLoading
	g.restorePending = true
	g.mu.Unlock()

	g.media.SetSource(q.URL)
}

// Snapshot returns a copy of the current session state.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Guard) snapshotLocked() Snapshot {
	return Snapshot{
		State:           g.state,
		Position:        g.position,
		MaxReached:      g.maxReached,
		Duration:        g.duration,
		Buffered:        g.buffered,
		Buffering:       g.buffering,
		FullyWatched:    g.fullyWatched,
		Quality:         g.quality,
		Volume:          g.volume,
		Muted:           g.muted,
		PlaybackRate:    g.rate,
		Fullscreen:      g.fullscreen,
		ControlsVisible: g.controlsVisible,
		LastAction:      g.lastAction,
		Err:             g.err,
	}
}

func (g *Guard) eventLocked(kind EventKind) Event {
	return Event{
		Kind:         kind,
		Position:     g.position,
		MaxReached:   g.maxReached,
		Duration:     g.duration,
		FullyWatched: g.fullyWatched,
		Quality:      g.quality,
		Err:          g.err,
	}
}

// advanceLocked moves the play-head and maintains the high-water mark and
// the watched-through flag. Both only ever move one way.
func (g *Guard) advanceLocked(pos float64) {
	g.position = pos
	if pos > g.maxReached {
		g.maxReached = pos
	}
	if !g.fullyWatched && g.duration > 0 && pos >= g.duration*g.opts.FullyWatchedRatio {
		g.fullyWatched = true
		g.logger.Debug().Float64("position", pos).Msg("video watched through")
	}
}

// allowedLocked applies the seek policy to a discrete seek request.
func (g *Guard) allowedLocked(target float64) (float64, bool) {
	if target < 0 {
		target = 0
	}
	if g.duration > 0 && target > g.duration {
		target = g.duration
	}
	if g.fullyWatched || target <= g.maxReached {
		return target, false
	}
	return g.maxReached, true
}

// Listener implementation.

func (g *Guard) OnMetadata(duration float64) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	if duration > 0 {
		g.duration = duration
	}
	g.buffering = false

	var seekTo float64
	restore := g.restorePending
	if restore {
		seekTo = g.position
		g.restorePending = false
	}
	resume := g.playWhenReady
	g.playWhenReady = false
	if g.state == StateLoading {
		g.state = StatePaused
	}
	rate, vol, muted := g.rate, g.volume, g.muted
	g.mu.Unlock()

	g.media.SetPlaybackRate(rate)
	g.media.SetVolume(vol)
	g.media.SetMuted(muted)
	if restore && seekTo > 0 {
		g.media.Seek(seekTo)
	}
	if resume {
		g.Play()
	}
}

func (g *Guard) OnTimeUpdate(pos float64) {
	g.mu.Lock()
	if g.closed || g.state == StateIdle || g.state == StateLoading || g.state == StateError {
		g.mu.Unlock()
		return
	}

	if !g.fullyWatched && pos > g.maxReached+g.opts.SnapTolerance {
		snap := g.maxReached
		g.position = snap
		g.mu.Unlock()

		metrics.SeekClampedTotal.WithLabelValues("playback").Inc()
		g.logger.Warn().
			Float64("reported", pos).
			Float64("max_reached", snap).
			Msg("playback jumped past watched range, snapping back")
		g.media.Seek(snap)
		return
	}

	g.advanceLocked(pos)
	ev := g.eventLocked(EventProgress)
	g.mu.Unlock()

	g.emit([]Event{ev})
}

func (g *Guard) OnBuffered(end float64) {
	g.mu.Lock()
	g.buffered = end
	g.mu.Unlock()
}

func (g *Guard) OnWaiting() {
	g.mu.Lock()
	g.buffering = true
	g.mu.Unlock()
}

func (g *Guard) OnCanPlay() {
	g.mu.Lock()
	g.buffering = false
	g.mu.Unlock()
}

func (g *Guard) OnEnded() {
	g.mu.Lock()
	if g.closed || g.state != StatePlaying {
		g.mu.Unlock()
		return
	}
	g.state = StateEnded
	g.controlsVisible = true
	ev := g.eventLocked(EventEnded)
	g.mu.Unlock()

	g.emit([]Event{ev})
}

func (g *Guard) OnError(err error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.state = StateError
	g.err = err
	g.buffering = false
	g.playWhenReady = false
	ev := g.eventLocked(EventError)
	g.mu.Unlock()

	metrics.PlaybackErrorsTotal.Inc()
	g.logger.Error().Err(err).Str("quality", ev.Quality).Msg("playback failed")
	g.emit([]Event{ev})
}

// Retry asks the host to reload the session. Partial element state is not
// reused, so the guard does not attempt in-place recovery.
func (g *Guard) Retry() {
	g.mu.Lock()
	if g.closed || g.state != StateError {
		g.mu.Unlock()
		return
	}
	ev := g.eventLocked(EventRetry)
	g.mu.Unlock()

	g.emit([]Event{ev})
}

// Close stops timers and releases the element. Further calls are no-ops.
func (g *Guard) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.stopTimersLocked()
	g.mu.Unlock()

	g.subMu.Lock()
	g.subs = make(map[int]func(Event))
	g.subMu.Unlock()

	return g.media.Close()
}
