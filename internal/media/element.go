package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lessonplayer/internal/player"
)

const DefaultTickInterval = 250 * time.Millisecond

var (
	ErrNoSource        = errors.New("no source bound")
	ErrUnknownDuration = errors.New("stream duration unknown")

	errSourceNotReady = errors.New("source not ready")
)

// StatusError is a stream request the server refused, e.g. 403 on an
// expired token.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stream request failed: %d %s", e.Status, http.StatusText(e.Status))
}

type ElementOptions struct {
	Client *http.Client
	// Duration is used when known up front, e.g. from the video detail.
	Duration     float64
	Prober       *Prober
	TickInterval time.Duration
	Logger       zerolog.Logger
}

// HTTPElement is a headless player.Media. Binding a source probes the
// stream URL so the server's token check runs exactly as it would for a
// browser, and playback is a wall clock scaled by the playback rate.
// Listener callbacks are delivered from the element's own goroutines,
// never from inside a control call.
type HTTPElement struct {
	client   *http.Client
	prober   *Prober
	hint     float64
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	listener player.Listener
	src      string
	gen      uint64
	ready    bool
	duration float64
	position float64
	playing  bool
	last     time.Time
	stop     chan struct{}
	rate     float64
	volume   float64
	muted    bool
	cancel   context.CancelFunc
	closed   bool

	wg sync.WaitGroup
}

var _ player.Media = (*HTTPElement)(nil)

func NewHTTPElement(opts ElementOptions) *HTTPElement {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	return &HTTPElement{
		client:   opts.Client,
		prober:   opts.Prober,
		hint:     opts.Duration,
		interval: opts.TickInterval,
		logger:   opts.Logger.With().Str("component", "media").Logger(),
		rate:     1,
		volume:   1,
	}
}

func (e *HTTPElement) Attach(l player.Listener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

// SetSource rebinds the element. Any load or clock of the previous source
// is abandoned.
func (e *HTTPElement) SetSource(src string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.stopClockLocked()
	if e.cancel != nil {
		e.cancel()
	}
	e.gen++
	gen := e.gen
	e.src = src
	e.ready = false
	e.position = 0
	e.duration = 0

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.load(ctx, gen, src)
	}()
}

func (e *HTTPElement) load(ctx context.Context, gen uint64, src string) {
	if err := e.probe(ctx, src); err != nil {
		if ctx.Err() != nil {
			return
		}
		e.deliver(gen, func(l player.Listener) { l.OnError(err) })
		return
	}

	duration := e.hint
	if duration <= 0 && e.prober.IsAvailable() {
		if meta, err := e.prober.Probe(ctx, src); err == nil {
			duration = meta.Duration
		} else {
			e.logger.Debug().Err(err).Msg("duration probe failed")
		}
	}
	if duration <= 0 {
		if ctx.Err() != nil {
			return
		}
		e.deliver(gen, func(l player.Listener) { l.OnError(ErrUnknownDuration) })
		return
	}

	e.mu.Lock()
	if gen != e.gen || e.closed {
		e.mu.Unlock()
		return
	}
	e.ready = true
	e.duration = duration
	e.mu.Unlock()

	e.logger.Debug().Float64("duration", duration).Msg("source ready")
	e.deliver(gen, func(l player.Listener) {
		l.OnMetadata(duration)
		l.OnBuffered(duration)
		l.OnCanPlay()
	})
}

// probe requests the first byte of the stream.
func (e *HTTPElement) probe(ctx context.Context, src string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return &StatusError{Status: resp.StatusCode}
	}
	return nil
}

func (e *HTTPElement) deliver(gen uint64, fn func(player.Listener)) {
	e.mu.Lock()
	l := e.listener
	stale := gen != e.gen || e.closed
	e.mu.Unlock()

	if l == nil || stale {
		return
	}
	fn(l)
}

func (e *HTTPElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.src == "" {
		return ErrNoSource
	}
	if !e.ready {
		return errSourceNotReady
	}
	if e.playing {
		return nil
	}
	if e.position >= e.duration {
		e.position = 0
	}

	e.playing = true
	e.last = time.Now()
	e.stop = make(chan struct{})
	e.wg.Add(1)
	go e.run(e.gen, e.stop)
	return nil
}

func (e *HTTPElement) run(gen uint64, stop chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			e.mu.Lock()
			if !e.playing || gen != e.gen {
				e.mu.Unlock()
				return
			}
			if d := now.Sub(e.last); d > 0 {
				e.position += d.Seconds() * e.rate
				e.last = now
			}
			ended := e.position >= e.duration
			if ended {
				e.position = e.duration
				e.playing = false
			}
			pos := e.position
			e.mu.Unlock()

			e.deliver(gen, func(l player.Listener) {
				l.OnTimeUpdate(pos)
				if ended {
					l.OnEnded()
				}
			})
			if ended {
				return
			}
		}
	}
}

func (e *HTTPElement) Pause() {
	e.mu.Lock()
	e.advanceLocked()
	e.stopClockLocked()
	e.mu.Unlock()
}

func (e *HTTPElement) Seek(pos float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pos < 0 {
		pos = 0
	}
	if e.duration > 0 && pos > e.duration {
		pos = e.duration
	}
	e.position = pos
	e.last = time.Now()
}

func (e *HTTPElement) SetVolume(v float64) {
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
}

func (e *HTTPElement) SetMuted(m bool) {
	e.mu.Lock()
	e.muted = m
	e.mu.Unlock()
}

func (e *HTTPElement) SetPlaybackRate(r float64) {
	if r <= 0 {
		return
	}
	e.mu.Lock()
	e.advanceLocked()
	e.rate = r
	e.mu.Unlock()
}

// Position returns the element's own play-head.
func (e *HTTPElement) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *HTTPElement) Settings() (volume float64, muted bool, rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume, e.muted, e.rate
}

// Close abandons any pending load, stops the clock and waits for the
// element's goroutines to exit.
func (e *HTTPElement) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopClockLocked()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

func (e *HTTPElement) advanceLocked() {
	if !e.playing {
		return
	}
	now := time.Now()
	e.position += now.Sub(e.last).Seconds() * e.rate
	if e.duration > 0 && e.position > e.duration {
		e.position = e.duration
	}
	e.last = now
}

func (e *HTTPElement) stopClockLocked() {
	e.playing = false
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}
