// Package server is the reference lesson backend: login and token refresh,
// video detail with a signed stream token, the signed stream itself,
// forward-only progress and quiz scoring. Course content comes from a YAML
// catalog; per-user state lives in SQLite.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"lessonplayer/internal/cache"
	"lessonplayer/internal/config"
	"lessonplayer/internal/media"
	"lessonplayer/internal/signing"
	"lessonplayer/internal/storage"
)

type Server struct {
	cfg        config.BackendConfig
	logger     zerolog.Logger
	httpServer *http.Server
	router     *chi.Mux
	handler    *Handler
	issuer     TokenIssuer
}

func New(cfg config.BackendConfig, logger zerolog.Logger, catalog *Catalog, store *storage.SQLiteStorage) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		issuer: TokenIssuer{
			Secret:     []byte(cfg.JWTSecret),
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
	}
	posters := NewPosterService(
		media.NewPosterGenerator(cfg.PosterDir, logger),
		cache.NewLRU(cfg.PosterCacheEntries, cfg.PosterCacheBytes),
		logger,
	)
	s.handler = NewHandler(catalog, store, signing.New(cfg.SigningKey, cfg.TokenTTL), s.issuer, posters, logger)

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(LoggingMiddleware(s.logger))
}

func (s *Server) setupRoutes() {
	limited := s.rateLimit()
	requireUser := RequireUser(s.issuer)

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handler.Health)

		r.With(limited).Post("/auth/login/", s.handler.Login)
		r.With(limited).Post("/auth/refresh/", s.handler.Refresh)

		// Signed, no bearer token: the media element cannot send headers.
		r.Get("/videos/{id}/stream/", s.handler.StreamVideo)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/videos/{id}/", s.handler.GetVideo)
			r.Get("/videos/{id}/thumbnail/", s.handler.GetThumbnail)
			r.With(limited).Post("/videos/{id}/progress/", s.handler.SaveProgress)
			r.With(limited).Post("/videos/{id}/quiz/", s.handler.SubmitQuiz)
		})
	})
}

func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.cfg.RateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		s.cfg.RateLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Too many requests")
		}),
	)
}

// Router exposes the routes for in-process use.
func (s *Server) Router() http.Handler {
	return s.router
}

// Issuer returns the token issuer, used to mint development tokens.
func (s *Server) Issuer() TokenIssuer {
	return s.issuer
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
