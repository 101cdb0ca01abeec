package media

import (
	"path/filepath"
	"strings"
)

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
}

// IsSupportedVideo reports whether the backend will serve a file with this
// name as a lesson video.
func IsSupportedVideo(filename string) bool {
	_, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// ContentType returns the MIME type for a video file. Unknown extensions are
// served as mp4, which is what the transcoder produces.
func ContentType(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "video/mp4"
}
