// Package progress reports watched position and completion to the backend
// on a fixed interval while a video plays, with a final unconditional flush
// when the session ends.
package progress

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lessonplayer/internal/metrics"
)

const (
	DefaultInterval       = 15 * time.Second
	DefaultMinDelta       = 2.0
	DefaultCompletedRatio = 0.9
	DefaultFlushTimeout   = 5 * time.Second
)

// Report is the body of one progress write.
type Report struct {
	WatchedSeconds int  `json:"watched_seconds"`
	Completed      bool `json:"completed"`
}

// Result is the backend's echo of the stored progress after a write.
type Result struct {
	WatchedSeconds  int  `json:"watched_seconds"`
	Completed       bool `json:"completed"`
	ProgressPercent int  `json:"progress_percent"`
}

type Reporter interface {
	ReportProgress(ctx context.Context, videoID string, r Report) (*Result, error)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, videoID string, r Report) (*Result, error)

func (f ReporterFunc) ReportProgress(ctx context.Context, videoID string, r Report) (*Result, error) {
	return f(ctx, videoID, r)
}

// Sample is a point-in-time read of the playback session.
type Sample struct {
	Position     float64
	Duration     float64
	FullyWatched bool
	Playing      bool
}

type Source interface {
	Sample() Sample
}

type SourceFunc func() Sample

func (f SourceFunc) Sample() Sample { return f() }

type Options struct {
	Interval       time.Duration
	MinDelta       float64
	CompletedRatio float64
	FlushTimeout   time.Duration

	// OnSynced receives every successful write's echo. It runs on the
	// goroutine that issued the write.
	OnSynced func(Report, *Result)

	Logger zerolog.Logger
}

func (o *Options) normalize() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MinDelta <= 0 {
		o.MinDelta = DefaultMinDelta
	}
	if o.CompletedRatio <= 0 || o.CompletedRatio > 1 {
		o.CompletedRatio = DefaultCompletedRatio
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = DefaultFlushTimeout
	}
}

// Synchronizer owns the sync timer for one playback session.
type Synchronizer struct {
	videoID  string
	reporter Reporter
	source   Source
	opts     Options
	logger   zerolog.Logger

	mu         sync.Mutex
	lastSynced float64

	cancel    context.CancelFunc
	done      chan struct{}
	inflight  sync.WaitGroup
	closeOnce sync.Once
}

func New(videoID string, reporter Reporter, source Source, opts Options) *Synchronizer {
	opts.normalize()
	return &Synchronizer{
		videoID:  videoID,
		reporter: reporter,
		source:   source,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "progress").Str("video_id", videoID).Logger(),
	}
}

// Start launches the periodic loop. Writes are issued on their own
// goroutines so a slow response never delays the next tick.
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.inflight.Add(1)
				go func() {
					defer s.inflight.Done()
					s.tick(ctx)
				}()
			}
		}
	}()
}

// Tick runs one scheduled sync decision synchronously.
func (s *Synchronizer) Tick(ctx context.Context) bool {
	return s.tick(ctx)
}

func (s *Synchronizer) tick(ctx context.Context) bool {
	sample := s.source.Sample()
	if !sample.Playing {
		metrics.ProgressSyncTotal.WithLabelValues("tick", "skipped").Inc()
		return false
	}

	s.mu.Lock()
	if math.Abs(sample.Position-s.lastSynced) < s.opts.MinDelta {
		s.mu.Unlock()
		metrics.ProgressSyncTotal.WithLabelValues("tick", "skipped").Inc()
		return false
	}
	s.lastSynced = sample.Position
	s.mu.Unlock()

	s.send(ctx, "tick", sample)
	return true
}

// Flush sends the current position regardless of play state or dedup.
func (s *Synchronizer) Flush(ctx context.Context) {
	sample := s.source.Sample()

	s.mu.Lock()
	s.lastSynced = sample.Position
	s.mu.Unlock()

	s.send(ctx, "flush", sample)
}

// Close stops the loop, waits for in-flight ticks and then performs the
// exit flush. Only the first call has any effect.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.inflight.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.FlushTimeout)
		defer cancel()
		s.Flush(ctx)
	})
}

// Completed reports whether a sample counts as a completed view.
func (s *Synchronizer) Completed(sample Sample) bool {
	if sample.FullyWatched {
		return true
	}
	return sample.Duration > 0 && sample.Position >= sample.Duration*s.opts.CompletedRatio
}

func (s *Synchronizer) send(ctx context.Context, trigger string, sample Sample) {
	pos := sample.Position
	if pos < 0 {
		pos = 0
	}
	report := Report{
		WatchedSeconds: int(math.Floor(pos)),
		Completed:      s.Completed(sample),
	}

	res, err := s.reporter.ReportProgress(ctx, s.videoID, report)
	if err != nil {
		metrics.ProgressSyncTotal.WithLabelValues(trigger, "failed").Inc()
		s.logger.Warn().Err(err).
			Str("trigger", trigger).
			Int("watched_seconds", report.WatchedSeconds).
			Msg("progress sync failed")
		return
	}

	metrics.ProgressSyncTotal.WithLabelValues(trigger, "sent").Inc()
	s.logger.Debug().
		Str("trigger", trigger).
		Int("watched_seconds", report.WatchedSeconds).
		Bool("completed", report.Completed).
		Msg("progress synced")

	if s.opts.OnSynced != nil && res != nil {
		s.opts.OnSynced(report, res)
	}
}
