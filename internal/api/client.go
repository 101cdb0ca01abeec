// Package api is the HTTP client for the course backend. Every response is
// decoded from the {success, data, error} envelope, requests carry a bearer
// token, and a 401 triggers one refresh followed by one retry.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"lessonplayer/internal/progress"
)

const (
	defaultTimeout        = 10 * time.Second
	defaultRateLimit      = 5
	defaultRateLimitBurst = 10
	defaultUserAgent      = "lessonplayer"
	maxResponseBytes      = 4 << 20
)

type Options struct {
	Timeout        time.Duration
	RateLimit      rate.Limit
	RateLimitBurst int
	AccessToken    string
	RefreshToken   string
	DeviceID       string
	UserAgent      string
	Logger         zerolog.Logger
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if strings.TrimSpace(opts.DeviceID) == "" {
		opts.DeviceID = uuid.NewString()
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	return opts
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	deviceID   string
	userAgent  string
	logger     zerolog.Logger

	mu      sync.Mutex
	access  string
	refresh string
}

func NewClient(baseURL string, opts Options) *Client {
	nopts := normalizeOptions(opts)
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: nopts.Timeout},
		limiter:    rate.NewLimiter(nopts.RateLimit, nopts.RateLimitBurst),
		deviceID:   nopts.DeviceID,
		userAgent:  nopts.UserAgent,
		logger:     nopts.Logger.With().Str("component", "api").Logger(),
		access:     nopts.AccessToken,
		refresh:    nopts.RefreshToken,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) DeviceID() string { return c.deviceID }

func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	c.access = access
	if refresh != "" {
		c.refresh = refresh
	}
	c.mu.Unlock()
}

func (c *Client) Tokens() (access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access, c.refresh
}

// Login exchanges credentials for a token pair bound to this client's
// device id and stores it.
func (c *Client) Login(ctx context.Context, username, password, deviceName string) (*TokenPair, error) {
	req := LoginRequest{
		Username:   username,
		Password:   password,
		DeviceID:   c.deviceID,
		DeviceName: deviceName,
	}
	var pair TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/login/", nil, req, &pair); err != nil {
		return nil, err
	}
	c.SetTokens(pair.Access, pair.Refresh)
	return &pair, nil
}

// GetVideo fetches the video detail, including a fresh stream token and the
// caller's prior progress.
func (c *Client) GetVideo(ctx context.Context, videoID, lang string) (*VideoDetail, error) {
	q := url.Values{}
	if lang != "" {
		q.Set("lang", lang)
	}
	var v VideoDetail
	if err := c.do(ctx, http.MethodGet, "/videos/"+url.PathEscape(videoID)+"/", q, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) ReportProgress(ctx context.Context, videoID string, r progress.Report) (*progress.Result, error) {
	var res progress.Result
	if err := c.do(ctx, http.MethodPost, "/videos/"+url.PathEscape(videoID)+"/progress/", nil, r, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SubmitQuiz posts answers keyed by question id. Values are a choice id,
// a list of choice ids or free text, depending on the question type.
func (c *Client) SubmitQuiz(ctx context.Context, videoID string, answers map[string]any) (*QuizResult, error) {
	var res QuizResult
	body := QuizSubmission{Answers: answers}
	if err := c.do(ctx, http.MethodPost, "/videos/"+url.PathEscape(videoID)+"/quiz/", nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// HTTPClient is shared with the media element so stream requests use the
// same timeouts and transport.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	err := c.attempt(ctx, method, path, query, payload, out)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	access, refresh := c.Tokens()
	if access == "" || refresh == "" {
		return err
	}
	if rerr := c.refreshAccess(ctx, refresh); rerr != nil {
		c.logger.Warn().Err(rerr).Msg("token refresh failed")
		return err
	}
	return c.attempt(ctx, method, path, query, payload, out)
}

func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, payload []byte, out any) error {
	resp, err := c.send(ctx, method, path, query, payload, true)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return decodeEnvelope(resp, out)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte, auth bool) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Device-ID", c.deviceID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if access, _ := c.Tokens(); access != "" {
			req.Header.Set("Authorization", "Bearer "+access)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("api request")

	return resp, nil
}

func (c *Client) refreshAccess(ctx context.Context, refresh string) error {
	payload, err := json.Marshal(refreshRequest{Refresh: refresh})
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, http.MethodPost, "/auth/refresh/", nil, payload, false)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	// The refresh endpoint answers with a bare {access}; accept the
	// enveloped form as well.
	var pair TokenPair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return fmt.Errorf("decode refresh: %w", err)
	}
	if pair.Access == "" {
		var env envelope
		if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, &pair)
		}
	}
	if pair.Access == "" {
		return errors.New("refresh response has no access token")
	}

	c.SetTokens(pair.Access, pair.Refresh)
	c.logger.Debug().Msg("access token refreshed")
	return nil
}

func decodeEnvelope(resp *http.Response, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok || decodeErr != nil || !env.Success {
		status := resp.StatusCode
		if ok {
			// success=false on a 2xx is reported as a bad request.
			status = http.StatusBadRequest
		}
		msg := ""
		if decodeErr == nil && env.Error != nil {
			msg = env.Error.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if ok && decodeErr != nil {
			return fmt.Errorf("decode response: %w", decodeErr)
		}
		return &Error{Status: status, Message: msg}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
