package media

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

var ErrProberUnavailable = errors.New("ffprobe not available")

type Metadata struct {
	Duration   float64 // seconds
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
	Bitrate    int64
}

// Prober reads container metadata with ffprobe. The target may be a local
// path or an http(s) URL.
type Prober struct {
	ffprobePath string
	logger      zerolog.Logger
}

func NewProber(logger zerolog.Logger) *Prober {
	ffprobePath := "ffprobe"
	if path, err := exec.LookPath("ffprobe"); err == nil {
		ffprobePath = path
	}

	return &Prober{
		ffprobePath: ffprobePath,
		logger:      logger.With().Str("component", "ffprobe").Logger(),
	}
}

func (p *Prober) IsAvailable() bool {
	if p == nil {
		return false
	}
	_, err := exec.LookPath(p.ffprobePath)
	return err == nil
}

func (p *Prober) Probe(ctx context.Context, target string) (*Metadata, error) {
	if !p.IsAvailable() {
		return nil, ErrProberUnavailable
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		target,
	}

	output, err := exec.CommandContext(ctx, p.ffprobePath, args...).Output()
	if err != nil {
		p.logger.Debug().Err(err).Str("target", target).Msg("ffprobe failed")
		return nil, err
	}

	return parseProbeOutput(output)
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

func parseProbeOutput(output []byte) (*Metadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, err
	}

	meta := &Metadata{}

	if probe.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			meta.Duration = dur
		}
	}

	if probe.Format.BitRate != "" {
		if br, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
			meta.Bitrate = br
		}
	}

	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if meta.VideoCodec == "" {
				meta.VideoCodec = strings.ToUpper(s.CodecName)
				meta.Width = s.Width
				meta.Height = s.Height
			}
		case "audio":
			if meta.AudioCodec == "" {
				meta.AudioCodec = strings.ToUpper(s.CodecName)
			}
		}
	}

	return meta, nil
}
