// Package streaming serves video files with byte-range support and headers
// that keep the stream out of shared caches and download prompts.
package streaming

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"lessonplayer/internal/media"
)

var ErrFileMissing = errors.New("file missing")

type Handler struct {
	logger zerolog.Logger
}

func NewHandler(logger zerolog.Logger) *Handler {
	return &Handler{logger: logger.With().Str("component", "streaming").Logger()}
}

// Exists reports whether filePath is a readable regular file.
func Exists(filePath string) bool {
	if filePath == "" {
		return false
	}
	stat, err := os.Stat(filePath)
	return err == nil && stat.Mode().IsRegular()
}

// ServeFile writes the file with Range support. It returns ErrFileMissing
// before anything is written if the file cannot be opened, so the caller
// can answer with its own error body.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrFileMissing
		}
		h.logger.Warn().Err(err).Str("path", filePath).Msg("failed to open stream file")
		return ErrFileMissing
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil || stat.IsDir() {
		return ErrFileMissing
	}

	w.Header().Set("Content-Type", media.ContentType(filePath))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", "inline")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	http.ServeContent(w, r, filepath.Base(filePath), stat.ModTime(), file)
	return nil
}
