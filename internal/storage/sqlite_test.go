package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPreferenceStore_RoundTrip(t *testing.T) {
	p := NewPreferenceStore(newTestStorage(t), zerolog.Nop())

	_, ok := p.Volume()
	assert.False(t, ok)

	require.NoError(t, p.SetVolume(0.35))
	require.NoError(t, p.SetPlaybackRate(1.25))
	require.NoError(t, p.SetVolume(0.5))

	v, ok := p.Volume()
	require.True(t, ok)
	assert.Equal(t, 0.5, v)

	r, ok := p.PlaybackRate()
	require.True(t, ok)
	assert.Equal(t, 1.25, r)
}

func TestPreferenceStore_MalformedValueIgnored(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.SetPreference(KeyVideoSpeed, "fast"))

	_, ok := NewPreferenceStore(s, zerolog.Nop()).PlaybackRate()
	assert.False(t, ok)
}

func TestApplyProgress_ForwardOnlyAndStickyCompletion(t *testing.T) {
	s := newTestStorage(t)

	rec, err := s.GetProgress("u1", "v1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = s.ApplyProgress("u1", "v1", 95, false)
	require.NoError(t, err)
	assert.Equal(t, int64(95), rec.WatchedSeconds)
	assert.False(t, rec.Completed)

	rec, err = s.ApplyProgress("u1", "v1", 180, true)
	require.NoError(t, err)
	assert.Equal(t, int64(180), rec.WatchedSeconds)
	assert.True(t, rec.Completed)

	// A late, stale report does not move anything backwards.
	rec, err = s.ApplyProgress("u1", "v1", 60, false)
	require.NoError(t, err)
	assert.Equal(t, int64(180), rec.WatchedSeconds)
	assert.True(t, rec.Completed)

	other, err := s.GetProgress("u2", "v1")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestCountStartedAndCompleted(t *testing.T) {
	s := newTestStorage(t)
	since := time.Now().Add(-time.Minute)

	_, err := s.ApplyProgress("u1", "v1", 10, true)
	require.NoError(t, err)
	_, err = s.ApplyProgress("u1", "v2", 10, false)
	require.NoError(t, err)
	_, err = s.ApplyProgress("u1", "v9", 10, true)
	require.NoError(t, err)

	n, err := s.CountStartedSince("u1", []string{"v1", "v2", "v3"}, since)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountCompleted("u1", []string{"v1", "v2", "v3"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountCompleted("u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQuizResults(t *testing.T) {
	s := newTestStorage(t)

	best, err := s.BestQuizResult("u1", "v1")
	require.NoError(t, err)
	assert.Nil(t, best)

	require.NoError(t, s.SaveQuizResult(&QuizResult{UserID: "u1", VideoID: "v1", CorrectCount: 1, TotalQuestions: 4, Score: 25}))
	r := &QuizResult{UserID: "u1", VideoID: "v1", CorrectCount: 3, TotalQuestions: 4, Score: 75, Passed: true}
	require.NoError(t, s.SaveQuizResult(r))
	assert.NotZero(t, r.ID)

	best, err = s.BestQuizResult("u1", "v1")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, 75, best.Score)
	assert.True(t, best.Passed)
}

func TestProgressRecord_PercentOf(t *testing.T) {
	p := &ProgressRecord{WatchedSeconds: 95}
	assert.Equal(t, 48, p.PercentOf(200))
	assert.Equal(t, 0, p.PercentOf(0))
	assert.Equal(t, 100, (&ProgressRecord{WatchedSeconds: 500}).PercentOf(200))
}
