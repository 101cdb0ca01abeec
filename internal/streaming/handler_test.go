package streaming

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestServeFile_Headers(t *testing.T) {
	p := writeFile(t, "lesson.webm", []byte("webm-bytes"))
	h := NewHandler(zerolog.Nop())

	rec := httptest.NewRecorder()
	require.NoError(t, h.ServeFile(rec, httptest.NewRequest(http.MethodGet, "/", nil), p))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/webm", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "inline", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "webm-bytes", rec.Body.String())
}

func TestServeFile_Range(t *testing.T) {
	p := writeFile(t, "lesson.mp4", []byte("0123456789"))
	h := NewHandler(zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	require.NoError(t, h.ServeFile(rec, req, p))

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())
	assert.Equal(t, "bytes 2-5/10", rec.Header().Get("Content-Range"))
}

func TestServeFile_Missing(t *testing.T) {
	h := NewHandler(zerolog.Nop())
	rec := httptest.NewRecorder()

	err := h.ServeFile(rec, httptest.NewRequest(http.MethodGet, "/", nil), filepath.Join(t.TempDir(), "nope.mp4"))
	assert.ErrorIs(t, err, ErrFileMissing)
	assert.Empty(t, rec.Body.String())

	err = h.ServeFile(rec, httptest.NewRequest(http.MethodGet, "/", nil), t.TempDir())
	assert.ErrorIs(t, err, ErrFileMissing)
}

func TestExists(t *testing.T) {
	assert.True(t, Exists(writeFile(t, "a.mp4", []byte("x"))))
	assert.False(t, Exists(t.TempDir()))
	assert.False(t, Exists(""))
}
