package host

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"lessonplayer/internal/api"
	"lessonplayer/internal/player"
	"lessonplayer/internal/progress"
	"lessonplayer/internal/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBackend struct {
	mu        sync.Mutex
	detail    api.VideoDetail
	getErr    error
	getCalls  int
	reports   []progress.Report
	quizCalls int
	block     chan struct{}

	// reportGate holds the next progress write until it is closed or the
	// caller's context ends.
	reportGate chan struct{}
	writes     []string
}

func (b *fakeBackend) GetVideo(ctx context.Context, videoID, lang string) (*api.VideoDetail, error) {
	b.mu.Lock()
	b.getCalls++
	block := b.block
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	d := b.detail
	return &d, nil
}

func (b *fakeBackend) ReportProgress(ctx context.Context, videoID string, r progress.Report) (*progress.Result, error) {
	b.mu.Lock()
	b.writes = append(b.writes, "begin")
	gate := b.reportGate
	b.reportGate = nil
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, "end")
	b.reports = append(b.reports, r)
	return &progress.Result{WatchedSeconds: r.WatchedSeconds, Completed: r.Completed, ProgressPercent: r.WatchedSeconds}, nil
}

func (b *fakeBackend) SubmitQuiz(ctx context.Context, videoID string, answers map[string]any) (*api.QuizResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quizCalls++
	return &api.QuizResult{Score: 100, Passed: true, CorrectCount: 1, TotalQuestions: 1}, nil
}

func (b *fakeBackend) calls() (gets int, reports []progress.Report) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getCalls, append([]progress.Report(nil), b.reports...)
}

// scriptedMedia is driven by the test through the attached listener.
type scriptedMedia struct {
	mu       sync.Mutex
	listener player.Listener
	sources  []string
	closed   bool
}

func (m *scriptedMedia) Attach(l player.Listener) { m.listener = l }
func (m *scriptedMedia) SetSource(s string) {
	m.mu.Lock()
	m.sources = append(m.sources, s)
	m.mu.Unlock()
}
func (m *scriptedMedia) Play() error             { return nil }
func (m *scriptedMedia) Pause()                  {}
func (m *scriptedMedia) Seek(float64)            {}
func (m *scriptedMedia) SetVolume(float64)       {}
func (m *scriptedMedia) SetMuted(bool)           {}
func (m *scriptedMedia) SetPlaybackRate(float64) {}
func (m *scriptedMedia) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *scriptedMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mediaLog struct {
	mu     sync.Mutex
	medias []*scriptedMedia
}

func (l *mediaLog) factory(*api.VideoDetail) player.Media {
	m := &scriptedMedia{}
	l.mu.Lock()
	l.medias = append(l.medias, m)
	l.mu.Unlock()
	return m
}

func (l *mediaLog) all() []*scriptedMedia {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*scriptedMedia(nil), l.medias...)
}

func testDetail() api.VideoDetail {
	return api.VideoDetail{
		ID:              5,
		TitleUz:         "Kirish",
		TitleEn:         "Intro",
		DurationSeconds: 100,
		Video720p:       "/media/videos/720p/intro.mp4",
		Progress:        &progress.Result{WatchedSeconds: 40, ProgressPercent: 40},
		StreamToken:     &stream.Token{Expires: time.Now().Add(time.Hour).Unix(), Signature: "sig", UserID: "1"},
	}
}

func newTestHost(t *testing.T, b *fakeBackend) (*Host, *mediaLog) {
	t.Helper()
	log := &mediaLog{}
	h := New(b, log.factory, Options{
		VideoID:    "5",
		Language:   api.LangEn,
		StreamBase: "http://backend.test/api",
		Sync:       progress.Options{Interval: time.Hour},
		Logger:     zerolog.Nop(),
	})
	t.Cleanup(func() { _ = h.Unmount() })
	return h, log
}

// startPlaying loads metadata and starts playback on the current session.
func startPlaying(t *testing.T, h *Host, m *scriptedMedia, duration float64) *player.Guard {
	t.Helper()
	g := h.Guard()
	require.NotNil(t, g)
	m.listener.OnMetadata(duration)
	g.Play()
	require.True(t, g.Snapshot().Playing())
	return g
}

func TestMount_SeedsViewAndGuard(t *testing.T) {
	b := &fakeBackend{detail: testDetail()}
	var views []View
	var vmu sync.Mutex
	log := &mediaLog{}
	h := New(b, log.factory, Options{
		VideoID:    "5",
		Language:   api.LangEn,
		StreamBase: "http://backend.test/api",
		Sync:       progress.Options{Interval: time.Hour},
		OnChange: func(v View) {
			vmu.Lock()
			views = append(views, v)
			vmu.Unlock()
		},
		Logger: zerolog.Nop(),
	})
	defer h.Unmount()

	require.NoError(t, h.Mount(t.Context()))

	v := h.View()
	assert.Equal(t, "Intro", v.Title)
	assert.Equal(t, 40, v.WatchedSeconds)
	assert.Equal(t, 40, v.ProgressPercent)
	assert.Equal(t, 40.0, v.Position)
	assert.Equal(t, []string{stream.AutoQuality, "720p"}, v.Qualities)
	assert.Equal(t, stream.AutoQuality, v.Quality)
	assert.False(t, v.QuizAvailable)

	snap := h.Guard().Snapshot()
	assert.Equal(t, player.StateLoading, snap.State)
	assert.Equal(t, 40.0, snap.MaxReached)

	medias := log.all()
	require.Len(t, medias, 1)
	require.Len(t, medias[0].sources, 1)
	assert.Contains(t, medias[0].sources[0], "http://backend.test/api/videos/5/stream/")
	u, err := url.Parse(medias[0].sources[0])
	require.NoError(t, err)
	assert.Equal(t, "sig", u.Query().Get("signature"))
	assert.False(t, u.Query().Has("res"), "auto quality carries no res parameter")

	vmu.Lock()
	assert.NotEmpty(t, views)
	vmu.Unlock()
}

func TestMount_MissingTokenFails(t *testing.T) {
	d := testDetail()
	d.StreamToken = nil
	b := &fakeBackend{detail: d}
	h, log := newTestHost(t, b)

	err := h.Mount(t.Context())
	assert.ErrorIs(t, err, stream.ErrTokenMissing)
	assert.Empty(t, log.all())
}

func TestMount_DailyLimit(t *testing.T) {
	b := &fakeBackend{getErr: &api.Error{Status: 403, Message: "Daily limit reached"}}
	h, _ := newTestHost(t, b)

	err := h.Mount(t.Context())
	assert.ErrorIs(t, err, ErrDailyLimit)
	assert.ErrorIs(t, err, api.ErrForbidden)

	b.mu.Lock()
	b.getErr = &api.Error{Status: 403, Message: "You do not have access"}
	b.mu.Unlock()
	err = h.Mount(t.Context())
	assert.NotErrorIs(t, err, ErrDailyLimit)
	assert.ErrorIs(t, err, api.ErrForbidden)
}

func TestMount_UnmountDuringFetchDiscardsResult(t *testing.T) {
	b := &fakeBackend{detail: testDetail(), block: make(chan struct{})}
	h, log := newTestHost(t, b)

	done := make(chan error, 1)
	go func() { done <- h.Mount(context.Background()) }()

	require.Eventually(t, func() bool {
		gets, _ := b.calls()
		return gets == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Unmount())
	close(b.block)

	assert.ErrorIs(t, <-done, ErrUnmounted)
	assert.Empty(t, log.all())
	_, reports := b.calls()
	assert.Empty(t, reports)

	assert.ErrorIs(t, h.Mount(t.Context()), ErrUnmounted)
	assert.ErrorIs(t, h.Reload(t.Context()), ErrUnmounted)
}

func TestUnmount_FlushesExactlyOnce(t *testing.T) {
	b := &fakeBackend{detail: testDetail()}
	h, log := newTestHost(t, b)
	require.NoError(t, h.Mount(t.Context()))

	m := log.all()[0]
	startPlaying(t, h, m, 100)
	m.listener.OnTimeUpdate(41.2)
	m.listener.OnTimeUpdate(42.7)

	require.NoError(t, h.Unmount())
	require.NoError(t, h.Unmount())

	_, reports := b.calls()
	require.Len(t, reports, 1)
	assert.Equal(t, progress.Report{WatchedSeconds: 42, Completed: false}, reports[0])
	assert.True(t, m.isClosed())
	assert.Nil(t, h.Guard())
}

func TestEnded_FlushesCompletion(t *testing.T) {
	b := &fakeBackend{detail: testDetail()}
	h, log := newTestHost(t, b)
	require.NoError(t, h.Mount(t.Context()))

	m := log.all()[0]
	startPlaying(t, h, m, 100)
	for p := 41.5; p < 100; p += 1.5 {
		m.listener.OnTimeUpdate(p)
	}
	m.listener.OnTimeUpdate(100)
	m.listener.OnEnded()

	require.Eventually(t, func() bool {
		_, reports := b.calls()
		return len(reports) == 1
	}, time.Second, 5*time.Millisecond)

	_, reports := b.calls()
	assert.Equal(t, progress.Report{WatchedSeconds: 100, Completed: true}, reports[0])

	require.Eventually(t, func() bool {
		v := h.View()
		return v.Completed && v.ProgressPercent == 100
	}, time.Second, 5*time.Millisecond)
	assert.True(t, h.View().Ended)
}

func TestUnmount_ExitFlushIsLastWrite(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	b := &fakeBackend{detail: testDetail(), reportGate: gate}
	h, log := newTestHost(t, b)
	require.NoError(t, h.Mount(t.Context()))

	m := log.all()[0]
	startPlaying(t, h, m, 100)
	for p := 41.5; p < 100; p += 1.5 {
		m.listener.OnTimeUpdate(p)
	}
	m.listener.OnTimeUpdate(100)
	m.listener.OnEnded()

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.writes) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Unmount())

	b.mu.Lock()
	writes := append([]string(nil), b.writes...)
	b.mu.Unlock()
	assert.Equal(t, []string{"begin", "end", "begin", "end"}, writes,
		"the ended write finishes before the exit write starts")

	_, reports := b.calls()
	require.Len(t, reports, 2)
	assert.Equal(t, progress.Report{WatchedSeconds: 100, Completed: true}, reports[1])
}

func TestRetry_ReloadsSession(t *testing.T) {
	b := &fakeBackend{detail: testDetail()}
	h, log := newTestHost(t, b)
	require.NoError(t, h.Mount(t.Context()))

	first := h.Guard()
	m := log.all()[0]
	m.listener.OnError(errors.New("stream forbidden"))

	require.Error(t, h.View().Err)
	assert.Equal(t, player.StateError, first.Snapshot().State)

	first.Retry()

	require.Eventually(t, func() bool {
		gets, _ := b.calls()
		return gets == 2 && len(log.all()) == 2 && h.Guard() != nil && h.Guard() != first
	}, time.Second, 5*time.Millisecond)

	assert.True(t, m.isClosed())
	assert.NoError(t, h.View().Err)
	assert.Equal(t, player.StateLoading, h.Guard().Snapshot().State)
}

func TestQuiz(t *testing.T) {
	d := testDetail()
	d.Questions = []api.Question{{
		ID:      1,
		Type:    api.QuestionChoice,
		Choices: []api.Choice{{ID: 11}, {ID: 12}},
	}}
	b := &fakeBackend{detail: d}
	h, _ := newTestHost(t, b)

	_, err := h.NewQuiz()
	assert.ErrorIs(t, err, ErrNotMounted)

	require.NoError(t, h.Mount(t.Context()))
	assert.True(t, h.View().QuizAvailable)

	q, err := h.NewQuiz()
	require.NoError(t, err)
	require.NoError(t, q.Choose(1, 12))

	res, err := h.SubmitQuiz(t.Context(), q)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, res, h.View().LastQuiz)

	gets, _ := b.calls()
	assert.Equal(t, 2, gets)
}

func TestQuiz_NoQuestions(t *testing.T) {
	b := &fakeBackend{detail: testDetail()}
	h, _ := newTestHost(t, b)
	require.NoError(t, h.Mount(t.Context()))

	_, err := h.NewQuiz()
	assert.ErrorIs(t, err, ErrNoQuiz)
}
