package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"lessonplayer/internal/metrics"
	"lessonplayer/internal/progress"
	"lessonplayer/internal/signing"
	"lessonplayer/internal/storage"
	"lessonplayer/internal/streaming"
)

const Version = "0.1.0"

const maxBodyBytes = 1 << 20

type Handler struct {
	catalog  *Catalog
	storage  *storage.SQLiteStorage
	signer   *signing.Signer
	issuer   TokenIssuer
	streamer *streaming.Handler
	posters  *PosterService
	logger   zerolog.Logger
	now      func() time.Time
}

func NewHandler(catalog *Catalog, store *storage.SQLiteStorage, signer *signing.Signer, issuer TokenIssuer, posters *PosterService, logger zerolog.Logger) *Handler {
	return &Handler{
		catalog:  catalog,
		storage:  store,
		signer:   signer,
		issuer:   issuer,
		streamer: streaming.NewHandler(logger),
		posters:  posters,
		logger:   logger,
		now:      time.Now,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user := h.catalog.UserByName(strings.TrimSpace(req.Username))
	if user == nil || user.Password != req.Password {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	access, err := h.issuer.NewAccessToken(user.IDString(), req.DeviceID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to issue access token")
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	refresh, err := h.issuer.NewRefreshToken(user.IDString(), req.DeviceID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to issue refresh token")
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	h.logger.Info().
		Str("user_id", user.IDString()).
		Str("device_id", req.DeviceID).
		Str("device_name", req.DeviceName).
		Msg("user logged in")

	writeSuccess(w, TokenResponse{Access: access, Refresh: refresh})
}

// Refresh answers with a bare {"access": ...} object, not the envelope.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	claims, err := h.issuer.Parse(strings.TrimSpace(req.Refresh), tokenTypeRefresh)
	if err != nil || h.catalog.UserByID(claims.Subject) == nil {
		writeError(w, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}

	access, err := h.issuer.NewAccessToken(claims.Subject, claims.DeviceID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to issue access token")
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Access: access})
}

func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	user, video, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if !h.checkDailyLimit(w, user, video) {
		return
	}

	rec, err := h.storage.GetProgress(user.IDString(), video.IDString())
	if err != nil {
		h.logger.Error().Err(err).Str("video_id", video.IDString()).Msg("failed to get progress")
		writeError(w, http.StatusInternalServerError, "Failed to get progress")
		return
	}

	lang := r.URL.Query().Get("lang")
	prev, next := h.catalog.Neighbors(video)
	course := video.Course()

	resp := VideoDetailResponse{
		ID:               video.ID,
		TitleUz:          video.TitleUz,
		TitleRu:          video.TitleRu,
		TitleEn:          video.TitleEn,
		DescriptionUz:    video.DescriptionUz,
		DescriptionRu:    video.DescriptionRu,
		DescriptionEn:    video.DescriptionEn,
		Level:            video.Level,
		Thumbnail:        video.ThumbnailURL(),
		DurationSeconds:  video.DurationSeconds,
		Course:           course.ID,
		PrevVideoID:      prev,
		NextVideoID:      next,
		TelegramGroupURL: course.TelegramGroupURL,
		Questions:        questionsFor(video, lang),
		StreamToken:      h.signer.Issue(video.IDString(), user.IDString()),
	}
	setRenditions(&resp, video)
	if rec != nil {
		resp.Progress = progressResult(rec, video)
	}

	writeSuccess(w, resp)
}

// StreamVideo serves the original file or the requested rendition to any
// holder of a valid signature. No bearer token is involved.
func (h *Handler) StreamVideo(w http.ResponseWriter, r *http.Request) {
	video := h.catalog.Video(chi.URLParam(r, "id"))
	if video == nil {
		metrics.StreamRequestsTotal.WithLabelValues("not_found").Inc()
		writeError(w, http.StatusNotFound, "Video not found")
		return
	}

	uid, exp, sig, err := signing.ExtractSigned(r.URL.Query())
	if err != nil {
		metrics.StreamRequestsTotal.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "missing params")
		return
	}
	if !h.signer.Verify(video.IDString(), uid, exp, sig) {
		metrics.StreamRequestsTotal.WithLabelValues("forbidden").Inc()
		writeError(w, http.StatusForbidden, "Invalid or expired signature")
		return
	}

	path := video.File
	if res := r.URL.Query().Get("res"); res != "" {
		if p, ok := video.Renditions[res]; ok && streaming.Exists(p) {
			path = p
		}
	}

	if err := h.streamer.ServeFile(w, r, path); err != nil {
		metrics.StreamRequestsTotal.WithLabelValues("not_found").Inc()
		h.logger.Warn().Str("video_id", video.IDString()).Str("path", path).Msg("stream file missing")
		writeError(w, http.StatusNotFound, "Video file not found")
		return
	}
	metrics.StreamRequestsTotal.WithLabelValues("served").Inc()
}

func (h *Handler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	_, video, ok := h.authorize(w, r)
	if !ok {
		return
	}

	data, err := h.posters.Get(r.Context(), video)
	if err != nil {
		h.logger.Debug().Err(err).Str("video_id", video.IDString()).Msg("thumbnail unavailable")
		writeError(w, http.StatusNotFound, "Thumbnail not available")
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	user, video, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req ProgressRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.WatchedSeconds == nil || *req.WatchedSeconds < 0 {
		writeError(w, http.StatusBadRequest, "watched_seconds must be a non-negative integer")
		return
	}

	if !h.checkDailyLimit(w, user, video) {
		return
	}

	rec, err := h.storage.ApplyProgress(user.IDString(), video.IDString(), *req.WatchedSeconds, req.Completed)
	if err != nil {
		h.logger.Error().Err(err).Str("video_id", video.IDString()).Msg("failed to save progress")
		writeError(w, http.StatusInternalServerError, "Failed to save progress")
		return
	}

	h.logger.Debug().
		Str("user_id", user.IDString()).
		Str("video_id", video.IDString()).
		Int64("watched_seconds", rec.WatchedSeconds).
		Bool("completed", rec.Completed).
		Msg("progress saved")

	writeSuccess(w, progressResult(rec, video))
}

func (h *Handler) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	user, video, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req QuizRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Answers) == 0 {
		writeError(w, http.StatusBadRequest, "No answers provided")
		return
	}
	if len(video.Questions) == 0 {
		writeError(w, http.StatusBadRequest, "This video has no quiz")
		return
	}

	res := scoreQuiz(video.Questions, req.Answers)
	if err := h.storage.SaveQuizResult(&storage.QuizResult{
		UserID:         user.IDString(),
		VideoID:        video.IDString(),
		CorrectCount:   res.CorrectCount,
		TotalQuestions: res.TotalQuestions,
		Score:          res.Score,
		Passed:         res.Passed,
	}); err != nil {
		h.logger.Error().Err(err).Str("video_id", video.IDString()).Msg("failed to save quiz result")
		writeError(w, http.StatusInternalServerError, "Failed to save quiz result")
		return
	}

	writeSuccess(w, res)
}

// authorize resolves the caller and the video in the URL, writing the error
// response itself when either is missing or access is denied.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (*User, *CatalogVideo, bool) {
	uid, _ := UserIDFromContext(r.Context())
	user := h.catalog.UserByID(uid)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "User not found")
		return nil, nil, false
	}

	video := h.catalog.Video(chi.URLParam(r, "id"))
	if video == nil {
		writeError(w, http.StatusNotFound, "Video not found")
		return nil, nil, false
	}
	if !user.CanAccess(video.Course().ID) {
		writeError(w, http.StatusForbidden, "You do not have access to this course")
		return nil, nil, false
	}
	return user, video, true
}

// checkDailyLimit blocks opening a new video once the course's daily quota
// of started videos is used up. Videos already started stay open, and the
// limit lifts once every video in the course is completed.
func (h *Handler) checkDailyLimit(w http.ResponseWriter, user *User, video *CatalogVideo) bool {
	course := video.Course()
	if course.DailyLimit <= 0 || user.IsAdmin() {
		return true
	}

	existing, err := h.storage.GetProgress(user.IDString(), video.IDString())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to check progress")
		writeError(w, http.StatusInternalServerError, "Failed to check daily limit")
		return false
	}
	if existing != nil {
		return true
	}

	ids := course.VideoIDs()
	completed, err := h.storage.CountCompleted(user.IDString(), ids)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to count completed videos")
		writeError(w, http.StatusInternalServerError, "Failed to check daily limit")
		return false
	}
	if completed >= len(ids) {
		return true
	}

	now := h.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	started, err := h.storage.CountStartedSince(user.IDString(), ids, startOfDay)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to count started videos")
		writeError(w, http.StatusInternalServerError, "Failed to check daily limit")
		return false
	}
	if started >= course.DailyLimit {
		writeError(w, http.StatusForbidden,
			"Daily limit reached: you can start "+strconv.Itoa(course.DailyLimit)+" new videos per day in this course")
		return false
	}
	return true
}

func progressResult(rec *storage.ProgressRecord, video *CatalogVideo) *progress.Result {
	return &progress.Result{
		WatchedSeconds:  int(rec.WatchedSeconds),
		Completed:       rec.Completed,
		ProgressPercent: rec.PercentOf(int64(video.DurationSeconds)),
	}
}

// setRenditions marks the available renditions. The values are informative
// only; clients build the signed URL themselves.
func setRenditions(resp *VideoDetailResponse, video *CatalogVideo) {
	base := "/api/videos/" + video.IDString() + "/stream/?res="
	for res, p := range video.Renditions {
		if !streaming.Exists(p) {
			continue
		}
		switch res {
		case "360p":
			resp.Video360p = base + res
		case "480p":
			resp.Video480p = base + res
		case "720p":
			resp.Video720p = base + res
		case "1080p":
			resp.Video1080p = base + res
		case "1440p":
			resp.Video1440p = base + res
		case "2160p":
			resp.Video2160p = base + res
		}
	}
}

// questionsFor strips answer keys before the questions leave the server.
func questionsFor(video *CatalogVideo, lang string) []QuestionResponse {
	out := make([]QuestionResponse, 0, len(video.Questions))
	for _, q := range video.Questions {
		qr := QuestionResponse{
			ID:          q.ID,
			Type:        q.Type,
			DisplayText: pickLang(lang, q.TextUz, q.TextRu, q.TextEn),
			TextUz:      q.TextUz,
			TextRu:      q.TextRu,
			TextEn:      q.TextEn,
			Choices:     make([]ChoiceResponse, 0, len(q.Choices)),
		}
		for _, c := range q.Choices {
			qr.Choices = append(qr.Choices, ChoiceResponse{
				ID:          c.ID,
				DisplayText: pickLang(lang, c.TextUz, c.TextRu, c.TextEn),
				TextUz:      c.TextUz,
				TextRu:      c.TextRu,
				TextEn:      c.TextEn,
			})
		}
		out = append(out, qr)
	}
	return out
}

func pickLang(lang, uz, ru, en string) string {
	switch lang {
	case "ru":
		if ru != "" {
			return ru
		}
	case "en":
		if en != "" {
			return en
		}
	}
	if uz != "" {
		return uz
	}
	return en
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
