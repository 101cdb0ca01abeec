package storage

import "time"

// ProgressRecord is the backend's view of how far a user got in a video.
type ProgressRecord struct {
	UserID         string    `json:"-"`
	VideoID        string    `json:"-"`
	WatchedSeconds int64     `json:"watched_seconds"`
	Completed      bool      `json:"completed"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

// PercentOf returns watched/duration as a whole percentage capped at 100.
func (p *ProgressRecord) PercentOf(durationSeconds int64) int {
	if durationSeconds <= 0 {
		return 0
	}
	pct := int((float64(p.WatchedSeconds)/float64(durationSeconds))*100 + 0.5)
	if pct > 100 {
		return 100
	}
	return pct
}

type QuizResult struct {
	ID             int64
	UserID         string
	VideoID        string
	CorrectCount   int
	TotalQuestions int
	Score          int
	Passed         bool
	CreatedAt      time.Time
}
