package media

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// RenditionScanner finds transcoded copies of an uploaded video. The
// transcoder writes each rendition to videos/<res>/ under the media root,
// keeping the original's base name.
type RenditionScanner struct {
	root        string
	resolutions []string
	logger      zerolog.Logger
}

func NewRenditionScanner(root string, resolutions []string, logger zerolog.Logger) *RenditionScanner {
	return &RenditionScanner{
		root:        filepath.Clean(root),
		resolutions: resolutions,
		logger:      logger.With().Str("component", "scanner").Logger(),
	}
}

// Scan returns resolution -> file path for every rendition of original
// that exists on disk. Any supported extension matches, since the
// transcoder may change the container.
func (s *RenditionScanner) Scan(original string) map[string]string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	found := make(map[string]string)

	for _, res := range s.resolutions {
		dir := filepath.Join(s.root, "videos", res)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn().Err(err).Str("dir", dir).Msg("failed to read rendition directory")
			}
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			if !IsSupportedVideo(entry.Name()) {
				continue
			}
			if strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())) != base {
				continue
			}
			found[res] = filepath.Join(dir, entry.Name())
			break
		}
	}

	if len(found) > 0 {
		s.logger.Debug().Str("original", original).Int("renditions", len(found)).Msg("renditions found")
	}
	return found
}
