package server

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lessonplayer/internal/cache"
	"lessonplayer/internal/media"
)

var ErrPosterUnavailable = errors.New("poster not available")

const posterTimeout = 30 * time.Second

// PosterService resolves a lesson's poster image: the catalog thumbnail
// file if there is one, otherwise a frame grabbed with ffmpeg. Results are
// kept in a byte-bounded LRU.
type PosterService struct {
	generator *media.PosterGenerator
	cache     *cache.LRU
	logger    zerolog.Logger

	mu       sync.Mutex
	inflight map[string]*posterCall
}

type posterCall struct {
	done chan struct{}
	data []byte
	err  error
}

func NewPosterService(generator *media.PosterGenerator, c *cache.LRU, logger zerolog.Logger) *PosterService {
	return &PosterService{
		generator: generator,
		cache:     c,
		logger:    logger.With().Str("component", "posters").Logger(),
		inflight:  make(map[string]*posterCall),
	}
}

// Get returns the poster bytes. Concurrent requests for the same video share
// a single ffmpeg run.
func (s *PosterService) Get(ctx context.Context, v *CatalogVideo) ([]byte, error) {
	key := v.IDString()
	if data, ok := s.cache.Get(key); ok {
		return data, nil
	}

	s.mu.Lock()
	if call, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.data, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &posterCall{done: make(chan struct{})}
	s.inflight[key] = call
	s.mu.Unlock()

	call.data, call.err = s.load(v)
	if call.err == nil {
		s.cache.Add(key, call.data)
	}

	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
	close(call.done)

	return call.data, call.err
}

func (s *PosterService) load(v *CatalogVideo) ([]byte, error) {
	if v.thumbnailPath != "" {
		data, err := os.ReadFile(v.thumbnailPath)
		if err == nil {
			return data, nil
		}
		s.logger.Warn().Err(err).Str("path", v.thumbnailPath).Msg("catalog thumbnail unreadable")
	}

	// Detached from the request; other waiters share the result.
	ctx, cancel := context.WithTimeout(context.Background(), posterTimeout)
	defer cancel()

	path, err := s.generator.Generate(ctx, v.File, v.IDString(), v.DurationSeconds)
	if err != nil {
		s.logger.Debug().Err(err).Str("video_id", v.IDString()).Msg("poster generation failed")
		return nil, ErrPosterUnavailable
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("video_id", v.IDString()).Int("size", len(data)).Msg("poster generated and cached")
	return data, nil
}
