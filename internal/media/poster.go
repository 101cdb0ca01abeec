package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

var ErrFFmpegUnavailable = errors.New("ffmpeg not available")

// PosterGenerator grabs a single frame from a lesson video as a JPEG.
type PosterGenerator struct {
	ffmpegPath string
	outputDir  string
	logger     zerolog.Logger
}

func NewPosterGenerator(outputDir string, logger zerolog.Logger) *PosterGenerator {
	ffmpegPath := "ffmpeg"
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		ffmpegPath = path
	}

	return &PosterGenerator{
		ffmpegPath: ffmpegPath,
		outputDir:  outputDir,
		logger:     logger.With().Str("component", "poster").Logger(),
	}
}

func (p *PosterGenerator) IsAvailable() bool {
	if p == nil {
		return false
	}
	_, err := exec.LookPath(p.ffmpegPath)
	return err == nil
}

// Path is where the poster for videoID is written.
func (p *PosterGenerator) Path(videoID string) string {
	return filepath.Join(p.outputDir, videoID+".jpg")
}

// Generate writes the poster unless it already exists and returns its path.
func (p *PosterGenerator) Generate(ctx context.Context, videoPath, videoID string, duration float64) (string, error) {
	out := p.Path(videoID)
	if _, err := os.Stat(out); err == nil {
		return out, nil
	}
	if !p.IsAvailable() {
		return "", ErrFFmpegUnavailable
	}
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return "", err
	}

	args := []string{
		"-ss", strconv.FormatInt(posterTimestamp(duration), 10),
		"-i", videoPath,
		"-vframes", "1",
		"-vf", "scale=640:-1",
		"-q:v", "3",
		"-y",
		out,
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		p.logger.Debug().
			Err(err).
			Str("video", videoPath).
			Str("output", string(output)).
			Msg("ffmpeg poster extraction failed")
		_ = os.Remove(out)
		return "", fmt.Errorf("ffmpeg failed: %w", err)
	}

	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("poster file not created")
	}

	p.logger.Debug().Str("video", videoPath).Str("poster", out).Msg("poster generated")
	return out, nil
}

// posterTimestamp picks the frame offset: 10% in, capped at 5s, and never
// past the middle of a very short video.
func posterTimestamp(duration float64) int64 {
	ts := int64(5)
	d := int64(duration)
	if d <= 0 {
		return ts
	}
	if tenth := d / 10; tenth > 0 && tenth < ts {
		ts = tenth
	}
	if ts > d/2 {
		ts = d / 2
	}
	return ts
}
