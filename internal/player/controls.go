package player

import "lessonplayer/internal/metrics"

// Seek sources, used as metric labels.
const (
	SourceBar       = "bar"
	SourceKeyboard  = "keyboard"
	SourceDoubleTap = "double_tap"
	SourceAPI       = "api"
)

// Play starts or resumes playback. From Ended it replays from the start.
// While a source is loading the request is remembered and honored once the
// element is ready.
func (g *Guard) Play() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	switch g.state {
	case StateLoading:
		g.playWhenReady = true
		g.mu.Unlock()
		return
	case StatePaused, StateEnded:
	default:
		g.mu.Unlock()
		return
	}
	replay := g.state == StateEnded
	if replay {
		g.position = 0
	}
	g.mu.Unlock()

	if replay {
		g.media.Seek(0)
	}
	if err := g.media.Play(); err != nil {
		// Autoplay refusals and similar are not session errors.
		g.logger.Debug().Err(err).Msg("play request refused")
		return
	}

	g.mu.Lock()
	if !g.closed && (g.state == StatePaused || g.state == StateEnded) {
		g.state = StatePlaying
		g.flashLocked(ActionPlay)
	}
	g.mu.Unlock()
}

func (g *Guard) Pause() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	switch g.state {
	case StateLoading:
		g.playWhenReady = false
		g.mu.Unlock()
		return
	case StatePlaying:
	default:
		g.mu.Unlock()
		return
	}
	g.state = StatePaused
	g.controlsVisible = true
	g.flashLocked(ActionPause)
	g.mu.Unlock()

	g.media.Pause()
}

func (g *Guard) TogglePlay() {
	g.mu.Lock()
	playing := g.state == StatePlaying || (g.state == StateLoading && g.playWhenReady)
	g.mu.Unlock()

	if playing {
		g.Pause()
	} else {
		g.Play()
	}
}

// SeekTo moves the play-head to target, subject to the seek policy. It
// returns the position actually applied. Forward seeks past the watched
// range are held at the high-water mark without an error.
func (g *Guard) SeekTo(target float64) float64 {
	return g.seek(target, SourceAPI)
}

// SeekBy moves the play-head by delta seconds, subject to the seek policy.
func (g *Guard) SeekBy(delta float64) float64 {
	g.mu.Lock()
	target := g.position + delta
	g.mu.Unlock()
	return g.seek(target, SourceAPI)
}

// SeekFraction handles a click on the progress bar at fraction of its width.
func (g *Guard) SeekFraction(fraction float64) float64 {
	g.mu.Lock()
	target := fraction * g.duration
	g.mu.Unlock()
	return g.seek(target, SourceBar)
}

// DoubleTap seeks one step back on the left half of a surface of the given
// width and one step forward on the right half.
func (g *Guard) DoubleTap(x, width float64) float64 {
	delta := g.opts.SeekStep
	action := ActionForward
	if x < width/2 {
		delta = -delta
		action = ActionBackward
	}

	g.mu.Lock()
	target := g.position + delta
	g.mu.Unlock()

	pos := g.seek(target, SourceDoubleTap)
	g.flash(action)
	return pos
}

func (g *Guard) seek(target float64, source string) float64 {
	g.mu.Lock()
	if g.closed || g.state == StateIdle || g.state == StateError {
		pos := g.position
		g.mu.Unlock()
		return pos
	}
	applied, clamped := g.allowedLocked(target)
	g.advanceLocked(applied)
	if g.state == StateEnded && applied < g.duration {
		g.state = StatePaused
	}
	loading := g.state == StateLoading
	g.mu.Unlock()

	if clamped {
		metrics.SeekClampedTotal.WithLabelValues(source).Inc()
	}
	// A loading element takes the position when its metadata arrives.
	if !loading {
		g.media.Seek(applied)
	}
	return applied
}

// SetVolume sets and persists the volume. A volume of zero also mutes.
func (g *Guard) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.volume = v
	g.muted = v == 0
	muted := g.muted
	g.mu.Unlock()

	g.media.SetVolume(v)
	g.media.SetMuted(muted)

	if p := g.opts.Preferences; p != nil {
		if err := p.SetVolume(v); err != nil {
			g.logger.Warn().Err(err).Msg("failed to persist volume")
		}
	}
}

func (g *Guard) AdjustVolume(delta float64) {
	g.mu.Lock()
	v := g.volume + delta
	g.mu.Unlock()
	g.SetVolume(v)
}

func (g *Guard) SetMuted(muted bool) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.muted = muted
	g.mu.Unlock()

	g.media.SetMuted(muted)
}

func (g *Guard) ToggleMute() {
	g.mu.Lock()
	muted := !g.muted
	g.mu.Unlock()
	g.SetMuted(muted)
}

// SetPlaybackRate sets and persists the speed, held within the menu range.
// Non-positive rates are ignored.
func (g *Guard) SetPlaybackRate(rate float64) {
	if rate <= 0 {
		return
	}
	rate = clampRate(rate)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.rate = rate
	g.menuOpen = false
	g.mu.Unlock()

	g.media.SetPlaybackRate(rate)

	if p := g.opts.Preferences; p != nil {
		if err := p.SetPlaybackRate(rate); err != nil {
			g.logger.Warn().Err(err).Msg("failed to persist playback rate")
		}
	}
}

// ToggleFullscreen asks the display to enter or leave fullscreen. The state
// itself changes when FullscreenChanged reports it; without a display the
// flag is flipped directly.
func (g *Guard) ToggleFullscreen() {
	g.mu.Lock()
	active := g.fullscreen
	fs := g.opts.Fullscreen
	if fs == nil {
		g.fullscreen = !active
	}
	g.mu.Unlock()

	if fs == nil {
		return
	}

	var err error
	if active {
		err = fs.ExitFullscreen()
	} else {
		err = fs.RequestFullscreen()
	}
	if err != nil {
		g.logger.Debug().Err(err).Bool("active", active).Msg("fullscreen toggle failed")
	}
}

// FullscreenChanged records a fullscreen change reported by the display.
func (g *Guard) FullscreenChanged(active bool) {
	g.mu.Lock()
	g.fullscreen = active
	g.mu.Unlock()
}

// Qualities returns the selectable renditions.
func (g *Guard) Qualities() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	labels := make([]string, 0, len(g.qualities))
	for _, q := range g.qualities {
		labels = append(labels, q.Label)
	}
	return labels
}

// SelectQuality rebinds the element to another rendition, keeping the
// position and the play/pause intent. Selecting the active or an unknown
// label does nothing.
func (g *Guard) SelectQuality(label string) {
	g.mu.Lock()
	if g.closed || label == g.quality || g.state == StateIdle {
		g.mu.Unlock()
		return
	}
	var src string
	for _, q := range g.qualities {
		if q.Label == label {
			src = q.URL
			break
		}
	}
	if src == "" {
		g.mu.Unlock()
		g.logger.Debug().Str("quality", label).Msg("unknown quality requested")
		return
	}

	wasPlaying := g.state == StatePlaying || (g.state == StateLoading && g.playWhenReady)
	from := g.quality
	g.quality = label
	g.state = StateLoading
	g.err = nil
	g.restorePending = true
	g.playWhenReady = wasPlaying
	g.menuOpen = false
	ev := g.eventLocked(EventQualityChanged)
	g.mu.Unlock()

	g.logger.Info().
		Str("from", from).
		Str("to", label).
		Float64("position", ev.Position).
		Bool("resume", wasPlaying).
		Msg("switching quality")

	g.media.SetSource(src)
	g.emit([]Event{ev})
}
