package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"lessonplayer/internal/api"
	"lessonplayer/internal/config"
	"lessonplayer/internal/host"
	"lessonplayer/internal/media"
	"lessonplayer/internal/player"
	"lessonplayer/internal/progress"
	"lessonplayer/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	videoID := flag.String("video", "", "id of the video to play")
	quality := flag.String("quality", "", "initial quality label, e.g. 720p")
	autoplay := flag.Bool("play", true, "start playback once loaded")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		panic("invalid config: " + err.Error())
	}

	logger := setupLogger(cfg.Logging)

	if *videoID == "" {
		logger.Fatal().Msg("-video is required")
	}

	// Preferences
	if err := os.MkdirAll(filepath.Dir(cfg.Preferences.Path), 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create preferences directory")
	}
	store, err := storage.NewSQLiteStorage(cfg.Preferences.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize preferences storage")
	}
	defer store.Close()
	prefs := storage.NewPreferenceStore(store, logger)

	client := api.NewClient(cfg.API.BaseURL, api.Options{
		Timeout:        cfg.API.Timeout,
		RateLimit:      rate.Limit(cfg.API.RateLimit),
		RateLimitBurst: cfg.API.RateLimitBurst,
		AccessToken:    cfg.API.AccessToken,
		RefreshToken:   cfg.API.RefreshToken,
		DeviceID:       cfg.API.DeviceID,
		Logger:         logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.API.Username != "" {
		if _, err := client.Login(ctx, cfg.API.Username, cfg.API.Password, cfg.API.DeviceName); err != nil {
			logger.Fatal().Err(err).Msg("login failed")
		}
		logger.Info().Str("device_id", client.DeviceID()).Msg("logged in")
	}

	prober := media.NewProber(logger)
	if !prober.IsAvailable() {
		logger.Warn().Msg("ffprobe not found - relying on backend durations")
	}

	h := host.New(client, func(d *api.VideoDetail) player.Media {
		return media.NewHTTPElement(media.ElementOptions{
			Client:       client.HTTPClient(),
			Duration:     d.DurationSeconds,
			Prober:       prober,
			TickInterval: cfg.Player.TickInterval,
			Logger:       logger,
		})
	}, host.Options{
		VideoID:    *videoID,
		Language:   cfg.API.Language,
		StreamBase: client.BaseURL(),
		Player: player.Options{
			Preferences:       prefs,
			FullyWatchedRatio: cfg.Player.FullyWatchedRatio,
			SnapTolerance:     cfg.Player.SnapTolerance,
			SeekStep:          cfg.Player.SeekStep,
			VolumeStep:        cfg.Player.VolumeStep,
			OverlayHide:       cfg.Player.OverlayHide,
			ActionFlash:       cfg.Player.ActionFlash,
		},
		Sync: progress.Options{
			Interval:       cfg.Sync.Interval,
			MinDelta:       cfg.Sync.MinDelta,
			CompletedRatio: cfg.Sync.CompletedRatio,
			FlushTimeout:   cfg.Sync.FlushTimeout,
		},
		OnChange: viewLogger(logger),
		Logger:   logger,
	})

	if err := h.Mount(ctx); err != nil {
		switch {
		case errors.Is(err, host.ErrDailyLimit):
			logger.Error().Err(err).Msg("daily lesson limit reached, come back tomorrow")
		case errors.Is(err, api.ErrUnauthorized):
			logger.Error().Err(err).Msg("not logged in")
		default:
			logger.Error().Err(err).Msg("failed to open lesson")
		}
		_ = h.Unmount()
		stop()
		_ = store.Close()
		os.Exit(1)
	}

	if g := h.Guard(); g != nil {
		if *quality != "" {
			g.SelectQuality(*quality)
		}
		if *autoplay {
			g.Play()
		}
	}

	go readCommands(ctx, h, stop, logger)

	<-ctx.Done()
	logger.Info().Msg("closing lesson")
	if err := h.Unmount(); err != nil {
		logger.Error().Err(err).Msg("unmount error")
	}
	client.HTTPClient().CloseIdleConnections()
}

var keyCommands = map[string]player.Key{
	"space": player.KeySpace,
	"p":     player.KeySpace,
	"right": player.KeyArrowRight,
	"left":  player.KeyArrowLeft,
	"up":    player.KeyArrowUp,
	"down":  player.KeyArrowDown,
	"f":     player.KeyF,
	"m":     player.KeyM,
}

// readCommands drives the guard from stdin, one command per line.
func readCommands(ctx context.Context, h *host.Host, quit func(), logger zerolog.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		g := h.Guard()
		cmd := strings.ToLower(fields[0])

		switch {
		case cmd == "quit" || cmd == "q":
			quit()
			return
		case cmd == "status":
			printStatus(h)
		case g == nil:
			fmt.Println("no active session")
		case cmd == "retry":
			g.Retry()
		case cmd == "quality" && len(fields) == 2:
			g.SelectQuality(fields[1])
		case cmd == "qualities":
			fmt.Println(strings.Join(g.Qualities(), " "))
		default:
			if k, ok := keyCommands[cmd]; ok {
				g.HandleKey(k, false)
				continue
			}
			logger.Warn().Str("command", cmd).Msg("unknown command")
		}
	}
}

func printStatus(h *host.Host) {
	v := h.View()
	fmt.Printf("%s  %.0f/%.0fs  watched=%ds (%d%%) completed=%t quality=%s ended=%t\n",
		v.Title, v.Position, v.DurationSeconds, v.WatchedSeconds, v.ProgressPercent, v.Completed, v.Quality, v.Ended)
	if g := h.Guard(); g != nil {
		s := g.Snapshot()
		fmt.Printf("state=%s max=%.1f volume=%.2f muted=%t rate=%.2f\n", s.State, s.MaxReached, s.Volume, s.Muted, s.PlaybackRate)
	}
}

// viewLogger logs state transitions, not every position update.
func viewLogger(logger zerolog.Logger) func(host.View) {
	var (
		mu   sync.Mutex
		last host.View
	)
	return func(v host.View) {
		mu.Lock()
		defer mu.Unlock()
		if v.Ended != last.Ended || v.Completed != last.Completed || v.Quality != last.Quality ||
			v.ProgressPercent != last.ProgressPercent || (v.Err != nil) != (last.Err != nil) {
			ev := logger.Info().
				Str("video_id", v.VideoID).
				Int("watched_seconds", v.WatchedSeconds).
				Int("progress_percent", v.ProgressPercent).
				Bool("completed", v.Completed).
				Bool("ended", v.Ended).
				Str("quality", v.Quality)
			if v.Err != nil {
				ev = ev.AnErr("playback_error", v.Err)
			}
			ev.Msg("lesson updated")
		}
		last = v
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().
			Timestamp().
			Logger()
	}

	return zerolog.New(os.Stderr).
		With().
		Timestamp().
		Logger()
}
