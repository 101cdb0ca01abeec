// Package stream builds signed playback URLs from a backend-issued token.
//
// Resolution is pure URL construction: nothing here performs network I/O.
// A token with missing fields is a caller error; Resolve reports it with
// ErrTokenMissing instead of producing a URL the server would reject anyway.
package stream

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// AutoQuality is the label of the rendition requested without a res
// parameter. The server picks its default file for it.
const AutoQuality = "Auto"

// KnownResolutions lists renditions in display order.
var KnownResolutions = []string{"360p", "480p", "720p", "1080p", "1440p", "2160p"}

type Resolver struct {
	baseURL string
}

// Quality is one selectable rendition.
type Quality struct {
	Label string
	URL   string
}

func NewResolver(baseURL string) *Resolver {
	return &Resolver{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// Resolve returns the stream URL for videoID. An empty resolution yields the
// auto rendition.
func (r *Resolver) Resolve(videoID string, token *Token, resolution string) (string, error) {
	if !token.Valid() {
		return "", ErrTokenMissing
	}

	u, err := url.Parse(r.baseURL + "/videos/" + url.PathEscape(videoID) + "/stream/")
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(token.Expires, 10))
	q.Set("signature", token.Signature)
	q.Set("user_id", token.UserID.String())
	if resolution != "" && resolution != AutoQuality {
		q.Set("res", resolution)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Qualities resolves Auto plus every resolution in available, in
// KnownResolutions order. The same token serves all of them.
func (r *Resolver) Qualities(videoID string, token *Token, available map[string]bool) ([]Quality, error) {
	auto, err := r.Resolve(videoID, token, "")
	if err != nil {
		return nil, err
	}

	out := []Quality{{Label: AutoQuality, URL: auto}}
	for _, res := range KnownResolutions {
		if !available[res] {
			continue
		}
		u, err := r.Resolve(videoID, token, res)
		if err != nil {
			return nil, err
		}
		out = append(out, Quality{Label: res, URL: u})
	}
	return out, nil
}
