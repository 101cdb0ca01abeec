package config

import (
	"errors"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API         APIConfig         `yaml:"api"`
	Player      PlayerConfig      `yaml:"player"`
	Sync        SyncConfig        `yaml:"sync"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Logging     LoggingConfig     `yaml:"logging"`
	Backend     BackendConfig     `yaml:"backend"`
}

type APIConfig struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	AccessToken    string        `yaml:"access_token"`
	RefreshToken   string        `yaml:"refresh_token"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	DeviceID       string        `yaml:"device_id"`
	DeviceName     string        `yaml:"device_name"`
	Language       string        `yaml:"language" validate:"oneof=uz ru en"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	RateLimit      float64       `yaml:"rate_limit" validate:"gt=0"`
	RateLimitBurst int           `yaml:"rate_limit_burst" validate:"gt=0"`
}

type PlayerConfig struct {
	FullyWatchedRatio float64       `yaml:"fully_watched_ratio" validate:"gt=0,lte=1"`
	SnapTolerance     float64       `yaml:"snap_tolerance" validate:"gt=0"` // seconds
	SeekStep          float64       `yaml:"seek_step" validate:"gt=0"`      // seconds
	VolumeStep        float64       `yaml:"volume_step" validate:"gt=0,lte=1"`
	OverlayHide       time.Duration `yaml:"overlay_hide" validate:"gt=0"`
	ActionFlash       time.Duration `yaml:"action_flash" validate:"gt=0"`
	TickInterval      time.Duration `yaml:"tick_interval" validate:"gt=0"`
}

type SyncConfig struct {
	Interval       time.Duration `yaml:"interval" validate:"gt=0"`
	MinDelta       float64       `yaml:"min_delta" validate:"gt=0"` // seconds
	CompletedRatio float64       `yaml:"completed_ratio" validate:"gt=0,lte=1"`
	FlushTimeout   time.Duration `yaml:"flush_timeout" validate:"gt=0"`
}

type PreferencesConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type BackendConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port" validate:"gte=0,lte=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CatalogPath  string        `yaml:"catalog_path"`
	MediaRoot    string        `yaml:"media_root"`
	DatabasePath string        `yaml:"database_path"`
	SigningKey   string        `yaml:"signing_key"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"` // stream tokens
	AccessTTL    time.Duration `yaml:"access_ttl"`
	RefreshTTL   time.Duration `yaml:"refresh_ttl"`
	RateLimit    int           `yaml:"rate_limit"` // requests per minute per IP on write routes

	PosterDir          string `yaml:"poster_dir"`
	PosterCacheEntries int    `yaml:"poster_cache_entries" validate:"gte=0"`
	PosterCacheBytes   int64  `yaml:"poster_cache_bytes" validate:"gte=0"`
}

func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:8000/api",
			Language:       "en",
			Timeout:        10 * time.Second,
			RateLimit:      10,
			RateLimitBurst: 20,
		},
		Player: PlayerConfig{
			FullyWatchedRatio: 0.98,
			SnapTolerance:     2,
			SeekStep:          10,
			VolumeStep:        0.1,
			OverlayHide:       3 * time.Second,
			ActionFlash:       800 * time.Millisecond,
			TickInterval:      250 * time.Millisecond,
		},
		Sync: SyncConfig{
			Interval:       15 * time.Second,
			MinDelta:       2,
			CompletedRatio: 0.9,
			FlushTimeout:   5 * time.Second,
		},
		Preferences: PreferencesConfig{
			Path: "data/preferences.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		Backend: BackendConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
			CatalogPath:  "data/catalog.yaml",
			MediaRoot:    "data/media",
			DatabasePath: "data/backend.db",
			TokenTTL:     time.Hour,
			AccessTTL:    24 * time.Hour,
			RefreshTTL:   7 * 24 * time.Hour,
			RateLimit:    120,

			PosterDir:          "data/posters",
			PosterCacheEntries: 256,
			PosterCacheBytes:   32 << 20,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct-tag constraints on every section.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// RequireSecrets reports missing signing material for the backend.
func (b BackendConfig) RequireSecrets() error {
	if b.SigningKey == "" {
		return errors.New("backend.signing_key is required")
	}
	if b.JWTSecret == "" {
		return errors.New("backend.jwt_secret is required")
	}
	return nil
}
