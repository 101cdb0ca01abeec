package player

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lessonplayer/internal/stream"
)

type fakeMedia struct {
	mu       sync.Mutex
	listener Listener
	sources  []string
	seeks    []float64
	playing  bool
	playErr  error
	volume   float64
	muted    bool
	rate     float64
	closed   bool
}

func (m *fakeMedia) Attach(l Listener)  { m.listener = l }
func (m *fakeMedia) SetSource(s string) { m.mu.Lock(); m.sources = append(m.sources, s); m.mu.Unlock() }
func (m *fakeMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playErr != nil {
		return m.playErr
	}
	m.playing = true
	return nil
}
func (m *fakeMedia) Pause()                    { m.mu.Lock(); m.playing = false; m.mu.Unlock() }
func (m *fakeMedia) Seek(p float64)            { m.mu.Lock(); m.seeks = append(m.seeks, p); m.mu.Unlock() }
func (m *fakeMedia) SetVolume(v float64)       { m.mu.Lock(); m.volume = v; m.mu.Unlock() }
func (m *fakeMedia) SetMuted(b bool)           { m.mu.Lock(); m.muted = b; m.mu.Unlock() }
func (m *fakeMedia) SetPlaybackRate(r float64) { m.mu.Lock(); m.rate = r; m.mu.Unlock() }
func (m *fakeMedia) Close() error              { m.mu.Lock(); m.closed = true; m.mu.Unlock(); return nil }

func (m *fakeMedia) lastSeek() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seeks) == 0 {
		return 0, false
	}
	return m.seeks[len(m.seeks)-1], true
}

type memPrefs struct {
	volume, rate       float64
	hasVolume, hasRate bool
	writes             int
}

func (p *memPrefs) Volume() (float64, bool)       { return p.volume, p.hasVolume }
func (p *memPrefs) PlaybackRate() (float64, bool) { return p.rate, p.hasRate }
func (p *memPrefs) SetVolume(v float64) error {
	p.volume, p.hasVolume = v, true
	p.writes++
	return nil
}
func (p *memPrefs) SetPlaybackRate(r float64) error {
	p.rate, p.hasRate = r, true
	p.writes++
	return nil
}

var testQualities = []stream.Quality{
	{Label: stream.AutoQuality, URL: "http://x/videos/1/stream/?sig=a"},
	{Label: "360p", URL: "http://x/videos/1/stream/?sig=a&res=360p"},
	{Label: "720p", URL: "http://x/videos/1/stream/?sig=a&res=720p"},
}

// newReadyGuard returns a guard whose source has loaded with the given duration.
func newReadyGuard(t *testing.T, initial, duration float64) (*Guard, *fakeMedia) {
	t.Helper()
	m := &fakeMedia{}
	g := New(m, Options{
		InitialProgress: initial,
		Qualities:       testQualities,
		Logger:          zerolog.Nop(),
	})
	t.Cleanup(func() { _ = g.Close() })
	g.Open()
	g.OnMetadata(duration)
	return g, m
}

func TestNew_StartsIdleSeeded(t *testing.T) {
	m := &fakeMedia{}
	g := New(m, Options{InitialProgress: 42, Qualities: testQualities, Logger: zerolog.Nop()})
	defer g.Close()

	s := g.Snapshot()
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, 42.0, s.Position)
	assert.Equal(t, 42.0, s.MaxReached)
	assert.Empty(t, m.sources)
}

func TestOpen_BindsAutoAndRestoresInitialProgress(t *testing.T) {
	g, m := newReadyGuard(t, 120, 200)

	require.Len(t, m.sources, 1)
	assert.Equal(t, testQualities[0].URL, m.sources[0])

	pos, ok := m.lastSeek()
	require.True(t, ok)
	assert.Equal(t, 120.0, pos)

	s := g.Snapshot()
	assert.Equal(t, StatePaused, s.State)
	assert.Equal(t, stream.AutoQuality, s.Quality)
	assert.Equal(t, 200.0, s.Duration)
}

func TestSeek_InitialProgressScenario(t *testing.T) {
	g, _ := newReadyGuard(t, 120, 200)

	assert.Equal(t, 120.0, g.Snapshot().MaxReached)
	assert.Equal(t, 120.0, g.SeekTo(180), "forward seek past the mark is clamped")
	assert.Equal(t, 60.0, g.SeekTo(60), "rewind is exact")
	assert.Equal(t, 60.0, g.Snapshot().Position)
	assert.Equal(t, 120.0, g.Snapshot().MaxReached)
}

func TestSeek_ForwardSequencesClampToMark(t *testing.T) {
	g, _ := newReadyGuard(t, 50, 300)

	for _, target := range []float64{10, 75, 49, 50, 51, 299, 1000, -5} {
		got := g.SeekTo(target)
		want := target
		if want > 50 {
			want = 50
		}
		if want < 0 {
			want = 0
		}
		assert.Equal(t, want, got, "target %v", target)
		assert.Equal(t, 50.0, g.Snapshot().MaxReached)
	}
}

func TestSeek_FreeScrubbingOnceWatched(t *testing.T) {
	g, _ := newReadyGuard(t, 0, 100)
	g.Play()

	for p := 1.0; p <= 98; p++ {
		g.OnTimeUpdate(p)
	}
	require.True(t, g.Snapshot().FullyWatched)

	assert.Equal(t, 10.0, g.SeekTo(10))
	assert.Equal(t, 99.5, g.SeekTo(99.5))
	assert.Equal(t, 100.0, g.SeekTo(250), "clamped to duration")
	assert.Equal(t, 0.0, g.SeekTo(-3))
}

func TestMaxReached_NeverDecreases(t *testing.T) {
	g, _ := newReadyGuard(t, 0, 600)
	g.Play()

	last := 0.0
	check := func() {
		s := g.Snapshot()
		assert.GreaterOrEqual(t, s.MaxReached, last)
		last = s.MaxReached
	}

	for p := 0.5; p <= 30; p += 0.5 {
		g.OnTimeUpdate(p)
		check()
	}
	g.SeekTo(5)
	check()
	g.Pause()
	check()
	g.SelectQuality("720p")
	check()
	g.OnMetadata(600)
	check()
	g.SeekBy(-10)
	check()
	g.SeekTo(500)
	check()
	assert.Equal(t, 30.0, last)
}

func TestFullyWatched_FlipsOnceAndStays(t *testing.T) {
	g, _ := newReadyGuard(t, 0, 100)
	g.Play()

	flips := 0
	prev := false
	for p := 1.0; p <= 99; p++ {
		g.OnTimeUpdate(p)
		fw := g.Snapshot().FullyWatched
		if fw != prev {
			flips++
			assert.Equal(t, 98.0, p)
		}
		prev = fw
	}
	g.SeekTo(3)
	g.OnTimeUpdate(4)
	assert.True(t, g.Snapshot().FullyWatched)
	assert.Equal(t, 1, flips)
}

func TestTimeUpdate_SnapsBackOnJump(t *testing.T) {
	g, m := newReadyGuard(t, 40, 200)
	g.Play()

	g.OnTimeUpdate(41.5) // within tolerance of the mark: natural playback
	assert.Equal(t, 41.5, g.Snapshot().MaxReached)

	g.OnTimeUpdate(90) // jumped ahead
	s := g.Snapshot()
	assert.Equal(t, 41.5, s.Position)
	assert.Equal(t, 41.5, s.MaxReached)
	pos, _ := m.lastSeek()
	assert.Equal(t, 41.5, pos)
}

func TestTimeUpdate_DefaultOptionsFollowPlayback(t *testing.T) {
	m := &fakeMedia{}
	g := New(m, Options{Qualities: testQualities, Logger: zerolog.Nop()})
	defer g.Close()
	g.Open()
	g.OnMetadata(100)
	g.Play()

	for i := 1; i <= 400; i++ {
		g.OnTimeUpdate(float64(i) * 0.25)
	}

	s := g.Snapshot()
	assert.Equal(t, 100.0, s.Position)
	assert.Equal(t, 100.0, s.MaxReached)
	assert.True(t, s.FullyWatched)
	assert.Empty(t, m.seeks, "ordinary ticks never snap back")
}

func TestPreferences_StoredRateClamped(t *testing.T) {
	prefs := &memPrefs{rate: 10, hasRate: true}
	m := &fakeMedia{}
	g := New(m, Options{Qualities: testQualities, Preferences: prefs, Logger: zerolog.Nop()})
	defer g.Close()

	assert.Equal(t, MaxPlaybackRate, g.Snapshot().PlaybackRate)
	assert.Equal(t, MaxPlaybackRate, m.rate)
}

func TestSelectQuality_SameLabelIsNoop(t *testing.T) {
	g, m := newReadyGuard(t, 30, 200)
	g.Play()

	var events []Event
	g.Subscribe(func(ev Event) { events = append(events, ev) })

	g.SelectQuality(stream.AutoQuality)
	g.SelectQuality("4320p")

	assert.Len(t, m.sources, 1)
	assert.Equal(t, StatePlaying, g.Snapshot().State)
	assert.Equal(t, 30.0, g.Snapshot().Position)
	assert.Empty(t, events)
}

func TestSelectQuality_PreservesPositionAndIntent(t *testing.T) {
	g, m := newReadyGuard(t, 0, 200)
	g.Play()
	for p := 1.0; p <= 25; p++ {
		g.OnTimeUpdate(p)
	}

	var kinds []EventKind
	g.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	g.SelectQuality("720p")
	require.Len(t, m.sources, 2)
	assert.Equal(t, testQualities[2].URL, m.sources[1])
	assert.Equal(t, StateLoading, g.Snapshot().State)
	assert.Equal(t, []EventKind{EventQualityChanged}, kinds)

	g.OnTimeUpdate(0) // new source reports zero before it is ready
	assert.Equal(t, 25.0, g.Snapshot().Position)

	g.OnMetadata(200)
	pos, _ := m.lastSeek()
	assert.Equal(t, 25.0, pos)
	assert.Equal(t, StatePlaying, g.Snapshot().State)
	assert.Equal(t, "720p", g.Snapshot().Quality)
}

func TestSelectQuality_PausedStaysPaused(t *testing.T) {
	g, m := newReadyGuard(t, 10, 200)

	g.SelectQuality("360p")
	g.OnMetadata(200)

	assert.Equal(t, StatePaused, g.Snapshot().State)
	assert.False(t, m.playing)
}

func TestEnded_AndReplay(t *testing.T) {
	g, m := newReadyGuard(t, 0, 10)

	var kinds []EventKind
	g.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	g.OnEnded() // not playing: ignored
	assert.Equal(t, StatePaused, g.Snapshot().State)

	g.Play()
	for p := 1.0; p <= 10; p++ {
		g.OnTimeUpdate(p)
	}
	g.OnEnded()
	assert.Equal(t, StateEnded, g.Snapshot().State)
	assert.Contains(t, kinds, EventEnded)

	g.Play()
	assert.Equal(t, StatePlaying, g.Snapshot().State)
	assert.Equal(t, 0.0, g.Snapshot().Position)
	pos, _ := m.lastSeek()
	assert.Equal(t, 0.0, pos)
}

func TestPlay_RefusedStaysPaused(t *testing.T) {
	g, m := newReadyGuard(t, 0, 10)
	m.playErr = errors.New("autoplay blocked")

	g.Play()
	assert.Equal(t, StatePaused, g.Snapshot().State)
}

func TestPlay_WhileLoadingWaitsForMetadata(t *testing.T) {
	m := &fakeMedia{}
	g := New(m, Options{Qualities: testQualities, Logger: zerolog.Nop()})
	defer g.Close()

	g.Play() // idle: no source yet
	assert.Equal(t, StateIdle, g.Snapshot().State)

	g.Open()
	g.Play()
	assert.Equal(t, StateLoading, g.Snapshot().State)
	assert.False(t, m.playing)

	g.OnMetadata(60)
	assert.Equal(t, StatePlaying, g.Snapshot().State)
	assert.True(t, m.playing)
}

func TestError_EmitsAndRetryRequestsReload(t *testing.T) {
	g, _ := newReadyGuard(t, 0, 10)

	var got []Event
	g.Subscribe(func(ev Event) { got = append(got, ev) })

	g.Retry() // not in error state
	assert.Empty(t, got)

	streamErr := errors.New("403 Forbidden")
	g.OnError(streamErr)
	s := g.Snapshot()
	assert.Equal(t, StateError, s.State)
	assert.ErrorIs(t, s.Err, streamErr)

	// The error state does not accept seeks or playback.
	g.Play()
	assert.Equal(t, StateError, g.Snapshot().State)

	g.Retry()
	require.Len(t, got, 2)
	assert.Equal(t, EventError, got[0].Kind)
	assert.Equal(t, EventRetry, got[1].Kind)
}

func TestPreferences_AppliedAndPersisted(t *testing.T) {
	prefs := &memPrefs{volume: 0.4, hasVolume: true, rate: 1.5, hasRate: true}
	m := &fakeMedia{}
	g := New(m, Options{Qualities: testQualities, Preferences: prefs, Logger: zerolog.Nop()})
	defer g.Close()

	s := g.Snapshot()
	assert.Equal(t, 0.4, s.Volume)
	assert.Equal(t, 1.5, s.PlaybackRate)
	assert.Equal(t, 1.5, m.rate)

	g.SetPlaybackRate(2)
	assert.Equal(t, 2.0, prefs.rate)

	g.SetPlaybackRate(-1)
	assert.Equal(t, 2.0, g.Snapshot().PlaybackRate)

	g.SetPlaybackRate(16)
	assert.Equal(t, MaxPlaybackRate, g.Snapshot().PlaybackRate)
	assert.Equal(t, MaxPlaybackRate, prefs.rate)

	g.SetPlaybackRate(0.1)
	assert.Equal(t, MinPlaybackRate, m.rate)

	g.SetVolume(0)
	assert.True(t, g.Snapshot().Muted)
	assert.Equal(t, 0.0, prefs.volume)

	g.SetVolume(3)
	assert.Equal(t, 1.0, prefs.volume)
	assert.False(t, g.Snapshot().Muted)
}

func TestHandleKey(t *testing.T) {
	g, m := newReadyGuard(t, 0, 100)
	g.Play()
	for p := 1.0; p <= 30; p++ {
		g.OnTimeUpdate(p)
	}

	assert.False(t, g.HandleKey(KeyArrowLeft, true), "ignored while typing")
	assert.Equal(t, 30.0, g.Snapshot().Position)

	assert.True(t, g.HandleKey(KeyArrowLeft, false))
	assert.Equal(t, 20.0, g.Snapshot().Position)
	assert.Equal(t, ActionBackward, g.Snapshot().LastAction)

	assert.True(t, g.HandleKey(KeyArrowRight, false))
	assert.True(t, g.HandleKey(KeyArrowRight, false))
	assert.Equal(t, 30.0, g.Snapshot().Position, "keyboard seek is guarded")

	assert.True(t, g.HandleKey(KeyArrowDown, false))
	assert.InDelta(t, 0.9, g.Snapshot().Volume, 1e-9)

	assert.True(t, g.HandleKey(KeyM, false))
	assert.True(t, m.muted)

	assert.True(t, g.HandleKey(KeySpace, false))
	assert.Equal(t, StatePaused, g.Snapshot().State)

	assert.True(t, g.HandleKey(KeyF, false))
	assert.True(t, g.Snapshot().Fullscreen)

	assert.False(t, g.HandleKey(Key("KeyQ"), false))
}

func TestDoubleTapAndBar_AreGuarded(t *testing.T) {
	g, _ := newReadyGuard(t, 50, 100)

	assert.Equal(t, 40.0, g.DoubleTap(100, 640))
	assert.Equal(t, 50.0, g.DoubleTap(600, 640))
	assert.Equal(t, 50.0, g.DoubleTap(600, 640))

	assert.Equal(t, 25.0, g.SeekFraction(0.25))
	assert.Equal(t, 50.0, g.SeekFraction(0.9))
}

type fakeScreen struct {
	requests, exits int
	err             error
}

func (f *fakeScreen) RequestFullscreen() error { f.requests++; return f.err }
func (f *fakeScreen) ExitFullscreen() error    { f.exits++; return f.err }

func TestFullscreen_ObservedPassively(t *testing.T) {
	screen := &fakeScreen{err: errors.New("not allowed")}
	m := &fakeMedia{}
	g := New(m, Options{Qualities: testQualities, Fullscreen: screen, Logger: zerolog.Nop()})
	defer g.Close()

	g.ToggleFullscreen()
	assert.Equal(t, 1, screen.requests)
	assert.False(t, g.Snapshot().Fullscreen, "state follows the display, not the request")

	g.FullscreenChanged(true)
	assert.True(t, g.Snapshot().Fullscreen)

	g.ToggleFullscreen()
	assert.Equal(t, 1, screen.exits)
}

func TestOverlay_AutoHidesWhilePlaying(t *testing.T) {
	m := &fakeMedia{}
	g := New(m, Options{
		Qualities:   testQualities,
		OverlayHide: 20 * time.Millisecond,
		ActionFlash: 20 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})
	defer g.Close()
	g.Open()
	g.OnMetadata(100)
	g.Play()

	g.PointerActivity()
	assert.True(t, g.Snapshot().ControlsVisible)
	assert.Eventually(t, func() bool {
		s := g.Snapshot()
		return !s.ControlsVisible && s.LastAction == ActionNone
	}, time.Second, 5*time.Millisecond)

	g.SetMenuOpen(true)
	g.PointerActivity()
	time.Sleep(50 * time.Millisecond)
	assert.True(t, g.Snapshot().ControlsVisible, "open menu keeps controls up")
}

func TestClose_StopsTimersAndReleasesMedia(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := &fakeMedia{}
	g := New(m, Options{Qualities: testQualities, Logger: zerolog.Nop()})
	g.Open()
	g.OnMetadata(100)
	g.Play()
	g.PointerActivity()

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.True(t, m.closed)

	s := g.Snapshot()
	assert.True(t, s.ControlsVisible)
	g.OnTimeUpdate(5) // late events after close are dropped
	assert.Equal(t, 0.0, g.Snapshot().Position)
}
