package server

import (
	"net/http"

	"github.com/goccy/go-json"

	"lessonplayer/internal/progress"
	"lessonplayer/internal/stream"
)

type envelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

type ErrorDetail struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

type TokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// Video detail

type VideoDetailResponse struct {
	ID            int64  `json:"id"`
	TitleUz       string `json:"title_uz"`
	TitleRu       string `json:"title_ru"`
	TitleEn       string `json:"title_en"`
	DescriptionUz string `json:"description_uz"`
	DescriptionRu string `json:"description_ru"`
	DescriptionEn string `json:"description_en"`

	Level           string  `json:"level,omitempty"`
	Thumbnail       string  `json:"thumbnail,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Course          int64   `json:"course"`
	NextVideoID     *int64  `json:"next_video_id"`
	PrevVideoID     *int64  `json:"prev_video_id"`

	TelegramGroupURL string `json:"telegram_group_url,omitempty"`

	Video360p  string `json:"video_360p,omitempty"`
	Video480p  string `json:"video_480p,omitempty"`
	Video720p  string `json:"video_720p,omitempty"`
	Video1080p string `json:"video_1080p,omitempty"`
	Video1440p string `json:"video_1440p,omitempty"`
	Video2160p string `json:"video_2160p,omitempty"`

	Progress    *progress.Result   `json:"progress"`
	Questions   []QuestionResponse `json:"questions"`
	StreamToken stream.Token       `json:"stream_token"`
}

type QuestionResponse struct {
	ID          int64            `json:"id"`
	Type        string           `json:"question_type"`
	DisplayText string           `json:"display_text"`
	TextUz      string           `json:"text_uz"`
	TextRu      string           `json:"text_ru"`
	TextEn      string           `json:"text_en"`
	Choices     []ChoiceResponse `json:"choices"`
}

type ChoiceResponse struct {
	ID          int64  `json:"id"`
	DisplayText string `json:"display_text"`
	TextUz      string `json:"text_uz"`
	TextRu      string `json:"text_ru"`
	TextEn      string `json:"text_en"`
}

// Progress and quiz

type ProgressRequest struct {
	WatchedSeconds *int64 `json:"watched_seconds"`
	Completed      bool   `json:"completed"`
}

type QuizRequest struct {
	Answers map[string]json.RawMessage `json:"answers"`
}

type QuizResponse struct {
	Score          int  `json:"score"`
	Passed         bool `json:"passed"`
	CorrectCount   int  `json:"correct_count"`
	TotalQuestions int  `json:"total_questions"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Error: &ErrorDetail{Message: message}})
}
