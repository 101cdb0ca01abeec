// Package host mounts one lesson: it fetches the video detail, resolves a
// stream URL per rendition, runs a playback guard and a progress
// synchronizer against it, and mirrors the backend's progress numbers into
// a view for display.
package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"lessonplayer/internal/api"
	"lessonplayer/internal/player"
	"lessonplayer/internal/progress"
	"lessonplayer/internal/quiz"
	"lessonplayer/internal/stream"
)

var (
	ErrUnmounted  = errors.New("host unmounted")
	ErrNotMounted = errors.New("host not mounted")
	ErrDailyLimit = errors.New("daily lesson limit reached")
	ErrNoQuiz     = errors.New("video has no quiz")
)

// Backend is the subset of the API client the host needs.
type Backend interface {
	GetVideo(ctx context.Context, videoID, lang string) (*api.VideoDetail, error)
	ReportProgress(ctx context.Context, videoID string, r progress.Report) (*progress.Result, error)
	SubmitQuiz(ctx context.Context, videoID string, answers map[string]any) (*api.QuizResult, error)
}

// MediaFactory creates the element for a freshly fetched video.
type MediaFactory func(detail *api.VideoDetail) player.Media

type Options struct {
	VideoID  string
	Language string
	// StreamBase is the API base the stream URLs are built on.
	StreamBase string

	// Player and Sync are templates; the host fills in the per-session
	// fields (initial progress, qualities, callbacks).
	Player player.Options
	Sync   progress.Options

	// OnChange receives the view after every update, outside the host lock.
	OnChange func(View)

	Logger zerolog.Logger
}

// View is what a lesson page renders besides the player itself.
type View struct {
	VideoID          string
	Title            string
	Description      string
	DurationSeconds  float64
	Thumbnail        string
	TelegramGroupURL string
	NextVideoID      *int64
	PrevVideoID      *int64

	// Mirrored from the backend, never fed back into the guard.
	WatchedSeconds  int
	Completed       bool
	ProgressPercent int

	Position      float64
	Quality       string
	Qualities     []string
	Ended         bool
	QuizAvailable bool
	LastQuiz      *api.QuizResult
	Err           error
}

type session struct {
	guard       *player.Guard
	sync        *progress.Synchronizer
	unsubscribe func()
}

type Host struct {
	backend  Backend
	newMedia MediaFactory
	resolver *stream.Resolver
	opts     Options
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	alive     bool
	detail    *api.VideoDetail
	sess      *session
	view      View
	reloading bool
}

func New(backend Backend, newMedia MediaFactory, opts Options) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		backend:  backend,
		newMedia: newMedia,
		resolver: stream.NewResolver(opts.StreamBase),
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "host").Str("video_id", opts.VideoID).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		alive:    true,
		view:     View{VideoID: opts.VideoID},
	}
}

// Mount fetches the video and starts playback infrastructure. If the host
// is unmounted while the fetch is in flight the result is discarded and
// ErrUnmounted is returned.
func (h *Host) Mount(ctx context.Context) error {
	if !h.isAlive() {
		return ErrUnmounted
	}

	detail, err := h.fetch(ctx)
	if err != nil {
		return err
	}
	return h.start(detail)
}

func (h *Host) fetch(ctx context.Context) (*api.VideoDetail, error) {
	detail, err := h.backend.GetVideo(ctx, h.opts.VideoID, h.opts.Language)
	if err != nil {
		if isDailyLimit(err) {
			return nil, fmt.Errorf("%w: %w", ErrDailyLimit, err)
		}
		return nil, fmt.Errorf("fetch video %s: %w", h.opts.VideoID, err)
	}
	return detail, nil
}

func (h *Host) start(detail *api.VideoDetail) error {
	qualities, err := h.resolver.Qualities(h.opts.VideoID, detail.StreamToken, detail.Renditions())
	if err != nil {
		return fmt.Errorf("resolve stream: %w", err)
	}

	if !h.isAlive() {
		return ErrUnmounted
	}

	gopts := h.opts.Player
	gopts.InitialProgress = detail.WatchedSeconds()
	gopts.Qualities = qualities
	gopts.Logger = h.opts.Logger
	guard := player.New(h.newMedia(detail), gopts)

	sopts := h.opts.Sync
	sopts.Logger = h.opts.Logger
	sopts.OnSynced = h.onSynced
	syncer := progress.New(h.opts.VideoID, h.backend, progress.SourceFunc(func() progress.Sample {
		snap := guard.Snapshot()
		return progress.Sample{
			Position:     snap.Position,
			Duration:     snap.Duration,
			FullyWatched: snap.FullyWatched,
			Playing:      snap.Playing(),
		}
	}), sopts)

	sess := &session{guard: guard, sync: syncer}
	sess.unsubscribe = guard.Subscribe(func(ev player.Event) { h.onEvent(sess, ev) })

	h.mu.Lock()
	if !h.alive {
		h.mu.Unlock()
		sess.unsubscribe()
		_ = guard.Close()
		return ErrUnmounted
	}
	prev := h.sess
	h.detail = detail
	h.sess = sess
	h.applyDetailLocked(detail)
	h.view.Qualities = guard.Qualities()
	h.view.Quality = qualities[0].Label
	h.view.Position = detail.WatchedSeconds()
	h.view.Ended = false
	h.view.Err = nil

	// Neither call blocks or calls back into the host.
	guard.Open()
	syncer.Start(h.ctx)
	v := h.snapshotLocked()
	h.mu.Unlock()

	h.teardown(prev)
	h.logger.Info().
		Float64("initial_progress", detail.WatchedSeconds()).
		Int("qualities", len(qualities)).
		Bool("quiz", v.QuizAvailable).
		Msg("lesson mounted")
	h.notify(v)
	return nil
}

func (h *Host) applyDetailLocked(d *api.VideoDetail) {
	lang := h.opts.Language
	h.view.Title = d.Title().In(lang)
	h.view.Description = d.Description().In(lang)
	h.view.DurationSeconds = d.DurationSeconds
	h.view.Thumbnail = d.Thumbnail
	h.view.TelegramGroupURL = d.TelegramGroupURL
	h.view.NextVideoID = d.NextVideoID
	h.view.PrevVideoID = d.PrevVideoID
	h.view.QuizAvailable = len(d.Questions) > 0
	if d.Progress != nil {
		h.view.WatchedSeconds = d.Progress.WatchedSeconds
		h.view.Completed = d.Progress.Completed
		h.view.ProgressPercent = d.Progress.ProgressPercent
	}
}

func (h *Host) onSynced(_ progress.Report, res *progress.Result) {
	h.mu.Lock()
	if !h.alive {
		h.mu.Unlock()
		return
	}
	h.view.WatchedSeconds = res.WatchedSeconds
	h.view.Completed = res.Completed
	h.view.ProgressPercent = res.ProgressPercent
	v := h.snapshotLocked()
	h.mu.Unlock()

	h.notify(v)
}

func (h *Host) onEvent(sess *session, ev player.Event) {
	h.mu.Lock()
	if !h.alive || h.sess != sess {
		h.mu.Unlock()
		return
	}

	switch ev.Kind {
	case player.EventProgress:
		h.view.Position = ev.Position
		h.view.Ended = false
	case player.EventQualityChanged:
		h.view.Quality = ev.Quality
	case player.EventEnded:
		h.view.Position = ev.Position
		h.view.Ended = true
		h.goLocked(func(ctx context.Context) { sess.sync.Flush(ctx) })
	case player.EventError:
		h.view.Err = ev.Err
	case player.EventRetry:
		h.goLocked(func(ctx context.Context) {
			if err := h.Reload(ctx); err != nil && !errors.Is(err, ErrUnmounted) {
				h.logger.Error().Err(err).Msg("reload failed")
			}
		})
	}
	v := h.snapshotLocked()
	h.mu.Unlock()

	h.notify(v)
}

// goLocked runs fn on a goroutine that Unmount waits for.
func (h *Host) goLocked(fn func(ctx context.Context)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn(h.ctx)
	}()
}

// Reload tears the current session down (flushing its progress) and mounts
// a fresh one with a new stream token. This is the retry path after a
// playback error.
func (h *Host) Reload(ctx context.Context) error {
	h.mu.Lock()
	if !h.alive {
		h.mu.Unlock()
		return ErrUnmounted
	}
	if h.reloading {
		h.mu.Unlock()
		return nil
	}
	h.reloading = true
	old := h.sess
	h.sess = nil
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.reloading = false
		h.mu.Unlock()
	}()

	h.teardown(old)
	h.logger.Info().Msg("reloading lesson")

	detail, err := h.fetch(ctx)
	if err != nil {
		h.mu.Lock()
		if !h.alive {
			h.mu.Unlock()
			return ErrUnmounted
		}
		h.view.Err = err
		v := h.snapshotLocked()
		h.mu.Unlock()
		h.notify(v)
		return err
	}
	return h.start(detail)
}

// RefreshDetail re-fetches the video detail and updates the view without
// touching playback.
func (h *Host) RefreshDetail(ctx context.Context) error {
	if !h.isAlive() {
		return ErrUnmounted
	}
	detail, err := h.fetch(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if !h.alive {
		h.mu.Unlock()
		return ErrUnmounted
	}
	h.detail = detail
	h.applyDetailLocked(detail)
	v := h.snapshotLocked()
	h.mu.Unlock()

	h.notify(v)
	return nil
}

// NewQuiz starts answer collection for the mounted video.
func (h *Host) NewQuiz() (*quiz.Session, error) {
	h.mu.Lock()
	detail := h.detail
	h.mu.Unlock()

	if detail == nil {
		return nil, ErrNotMounted
	}
	if len(detail.Questions) == 0 {
		return nil, ErrNoQuiz
	}
	return quiz.NewSession(h.opts.VideoID, detail.Questions, h.backend, h.opts.Logger), nil
}

// SubmitQuiz submits q and then refreshes the video detail so the view
// reflects any progress the backend granted for it.
func (h *Host) SubmitQuiz(ctx context.Context, q *quiz.Session) (*api.QuizResult, error) {
	if !h.isAlive() {
		return nil, ErrUnmounted
	}
	res, err := q.Submit(ctx)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.view.LastQuiz = res
	h.mu.Unlock()

	if err := h.RefreshDetail(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("failed to refresh video after quiz")
	}
	return res, nil
}

// Guard returns the active playback guard, or nil between sessions.
func (h *Host) Guard() *player.Guard {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sess == nil {
		return nil
	}
	return h.sess.guard
}

func (h *Host) View() View {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Unmount stops background work, then flushes progress exactly once and
// releases the guard. The exit flush is the last write. Later calls are
// no-ops.
func (h *Host) Unmount() error {
	h.mu.Lock()
	if !h.alive {
		h.mu.Unlock()
		return nil
	}
	h.alive = false
	sess := h.sess
	h.sess = nil
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	h.teardown(sess)

	h.logger.Info().Msg("lesson unmounted")
	return nil
}

func (h *Host) teardown(s *session) {
	if s == nil {
		return
	}
	s.unsubscribe()
	// The flush reads the guard, so it runs before the guard is closed.
	s.sync.Close()
	if err := s.guard.Close(); err != nil {
		h.logger.Debug().Err(err).Msg("media close failed")
	}
}

func (h *Host) isAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *Host) snapshotLocked() View {
	v := h.view
	v.Qualities = append([]string(nil), h.view.Qualities...)
	return v
}

func (h *Host) notify(v View) {
	if h.opts.OnChange != nil {
		h.opts.OnChange(v)
	}
}

func isDailyLimit(err error) bool {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "limit")
}
