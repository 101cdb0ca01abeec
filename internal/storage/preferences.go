package storage

import (
	"strconv"

	"github.com/rs/zerolog"
)

// Keys shared with the browser client's local storage.
const (
	KeyVideoVolume = "video_volume"
	KeyVideoSpeed  = "video_speed"
)

// PreferenceStore exposes the player's persisted volume and speed.
type PreferenceStore struct {
	storage *SQLiteStorage
	logger  zerolog.Logger
}

func NewPreferenceStore(storage *SQLiteStorage, logger zerolog.Logger) *PreferenceStore {
	return &PreferenceStore{storage: storage, logger: logger}
}

func (p *PreferenceStore) Volume() (float64, bool) {
	return p.float(KeyVideoVolume)
}

func (p *PreferenceStore) PlaybackRate() (float64, bool) {
	return p.float(KeyVideoSpeed)
}

func (p *PreferenceStore) SetVolume(v float64) error {
	return p.storage.SetPreference(KeyVideoVolume, strconv.FormatFloat(v, 'f', -1, 64))
}

func (p *PreferenceStore) SetPlaybackRate(rate float64) error {
	return p.storage.SetPreference(KeyVideoSpeed, strconv.FormatFloat(rate, 'f', -1, 64))
}

func (p *PreferenceStore) float(key string) (float64, bool) {
	raw, ok, err := p.storage.GetPreference(key)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("failed to read preference")
		return 0, false
	}
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.logger.Debug().Str("key", key).Str("value", raw).Msg("ignoring malformed preference")
		return 0, false
	}
	return v, true
}
