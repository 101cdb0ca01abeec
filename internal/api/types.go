package api

import (
	"strings"

	"github.com/goccy/go-json"

	"lessonplayer/internal/progress"
	"lessonplayer/internal/stream"
)

// Every backend response is wrapped in this envelope.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
}

// Some endpoints report the error as a bare string.
func (e *errorBody) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.Message)
	}
	type plain errorBody
	return json.Unmarshal(data, (*plain)(e))
}

// Languages the backend localizes content into.
const (
	LangUz = "uz"
	LangRu = "ru"
	LangEn = "en"
)

type Localized struct {
	Uz string
	Ru string
	En string
}

// In returns the text for lang, falling back to en and then uz.
func (l Localized) In(lang string) string {
	var s string
	switch lang {
	case LangRu:
		s = l.Ru
	case LangEn:
		s = l.En
	default:
		s = l.Uz
	}
	if s != "" {
		return s
	}
	if l.En != "" {
		return l.En
	}
	return l.Uz
}

type VideoDetail struct {
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
	Course          *int64  `json:"course,omitempty"`
	NextVideoID     *int64  `json:"next_video_id"`
	PrevVideoID     *int64  `json:"prev_video_id"`

	TelegramGroupURL string `json:"telegram_group_url,omitempty"`

	Video360p  string `json:"video_360p,omitempty"`
	Video480p  string `json:"video_480p,omitempty"`
	Video720p  string `json:"video_720p,omitempty"`
	Video1080p string `json:"video_1080p,omitempty"`
	Video1440p string `json:"video_1440p,omitempty"`
	Video2160p string `json:"video_2160p,omitempty"`

	Progress    *progress.Result `json:"progress"`
	Questions   []Question       `json:"questions"`
	StreamToken *stream.Token    `json:"stream_token"`
}

func (v *VideoDetail) Title() Localized {
	return Localized{Uz: v.TitleUz, Ru: v.TitleRu, En: v.TitleEn}
}

func (v *VideoDetail) Description() Localized {
	return Localized{Uz: v.DescriptionUz, Ru: v.DescriptionRu, En: v.DescriptionEn}
}

// Renditions reports which transcoded files the backend has for the video.
func (v *VideoDetail) Renditions() map[string]bool {
	fields := map[string]string{
		"360p":  v.Video360p,
		"480p":  v.Video480p,
		"720p":  v.Video720p,
		"1080p": v.Video1080p,
		"1440p": v.Video1440p,
		"2160p": v.Video2160p,
	}
	out := make(map[string]bool, len(fields))
	for res, f := range fields {
		if strings.TrimSpace(f) != "" {
			out[res] = true
		}
	}
	return out
}

// WatchedSeconds is the prior progress used to seed a new session.
func (v *VideoDetail) WatchedSeconds() float64 {
	if v.Progress == nil || v.Progress.WatchedSeconds < 0 {
		return 0
	}
	return float64(v.Progress.WatchedSeconds)
}

// Question types understood by the quiz endpoint.
const (
	QuestionChoice      = "choice"
	QuestionMultiChoice = "multi_choice"
	QuestionText        = "text"
	QuestionTrueFalse   = "true_false"
)

type Question struct {
	ID          int64    `json:"id"`
	Type        string   `json:"question_type"`
	DisplayText string   `json:"display_text,omitempty"`
	TextUz      string   `json:"text_uz"`
	TextRu      string   `json:"text_ru"`
	TextEn      string   `json:"text_en"`
	Choices     []Choice `json:"choices"`
}

func (q *Question) Text() Localized {
	return Localized{Uz: q.TextUz, Ru: q.TextRu, En: q.TextEn}
}

type Choice struct {
	ID          int64  `json:"id"`
	DisplayText string `json:"display_text,omitempty"`
	TextUz      string `json:"text_uz"`
	TextRu      string `json:"text_ru"`
	TextEn      string `json:"text_en"`
}

func (c *Choice) Text() Localized {
	return Localized{Uz: c.TextUz, Ru: c.TextRu, En: c.TextEn}
}

type QuizSubmission struct {
	Answers map[string]any `json:"answers"`
}

type QuizResult struct {
	Score          int  `json:"score"`
	Passed         bool `json:"passed"`
	CorrectCount   int  `json:"correct_count"`
	TotalQuestions int  `json:"total_questions"`
}

type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}
