package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS video_progress (
		user_id TEXT NOT NULL,
		video_id TEXT NOT NULL,
		watched_seconds INTEGER NOT NULL DEFAULT 0,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, video_id)
	);

	CREATE INDEX IF NOT EXISTS idx_progress_created ON video_progress(user_id, created_at);

	CREATE TABLE IF NOT EXISTS quiz_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		video_id TEXT NOT NULL,
		correct_count INTEGER NOT NULL,
		total_questions INTEGER NOT NULL,
		score INTEGER NOT NULL,
		passed BOOLEAN NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_quiz_user_video ON quiz_results(user_id, video_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Preferences

// GetPreference returns the stored value for key and whether it exists.
func (s *SQLiteStorage) GetPreference(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStorage) SetPreference(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now())
	return err
}

// Progress records

// ApplyProgress merges a progress report into the stored record. Watched
// seconds only move forward and completion is sticky, so an out-of-order
// report can never lose progress.
func (s *SQLiteStorage) ApplyProgress(userID, videoID string, watchedSeconds int64, completed bool) (*ProgressRecord, error) {
	if watchedSeconds < 0 {
		watchedSeconds = 0
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO video_progress (user_id, video_id, watched_seconds, completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, video_id) DO UPDATE SET
			watched_seconds = MAX(video_progress.watched_seconds, excluded.watched_seconds),
			completed = (video_progress.completed OR excluded.completed),
			updated_at = excluded.updated_at
	`, userID, videoID, watchedSeconds, completed, now, now)
	if err != nil {
		return nil, err
	}

	return s.GetProgress(userID, videoID)
}

// GetProgress returns the record for a user and video, or nil when the user
// never reported progress for it.
func (s *SQLiteStorage) GetProgress(userID, videoID string) (*ProgressRecord, error) {
	row := s.db.QueryRow(`
		SELECT user_id, video_id, watched_seconds, completed, created_at, updated_at
		FROM video_progress WHERE user_id = ? AND video_id = ?
	`, userID, videoID)

	var rec ProgressRecord
	err := row.Scan(&rec.UserID, &rec.VideoID, &rec.WatchedSeconds, &rec.Completed, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// CountStartedSince counts the videos among videoIDs that the user first
// reported progress for at or after since.
func (s *SQLiteStorage) CountStartedSince(userID string, videoIDs []string, since time.Time) (int, error) {
	if len(videoIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(videoIDs)+2)
	args = append(args, userID, since.UTC())
	for _, id := range videoIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(videoIDs)), ",")

	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM video_progress
		WHERE user_id = ? AND created_at >= ? AND video_id IN (`+placeholders+`)
	`, args...).Scan(&n)
	return n, err
}

// CountCompleted counts completed videos among videoIDs for the user.
func (s *SQLiteStorage) CountCompleted(userID string, videoIDs []string) (int, error) {
	if len(videoIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(videoIDs)+1)
	args = append(args, userID)
	for _, id := range videoIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(videoIDs)), ",")

	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM video_progress
		WHERE user_id = ? AND completed = TRUE AND video_id IN (`+placeholders+`)
	`, args...).Scan(&n)
	return n, err
}

// Quiz results

func (s *SQLiteStorage) SaveQuizResult(r *QuizResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO quiz_results (user_id, video_id, correct_count, total_questions, score, passed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.UserID, r.VideoID, r.CorrectCount, r.TotalQuestions, r.Score, r.Passed, r.CreatedAt)
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

// BestQuizResult returns the highest-scoring attempt, or nil if none exist.
func (s *SQLiteStorage) BestQuizResult(userID, videoID string) (*QuizResult, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, video_id, correct_count, total_questions, score, passed, created_at
		FROM quiz_results WHERE user_id = ? AND video_id = ?
		ORDER BY score DESC, created_at ASC
		LIMIT 1
	`, userID, videoID)

	var r QuizResult
	err := row.Scan(&r.ID, &r.UserID, &r.VideoID, &r.CorrectCount, &r.TotalQuestions, &r.Score, &r.Passed, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
