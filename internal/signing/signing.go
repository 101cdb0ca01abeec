package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lessonplayer/internal/stream"
)

// Signer issues and checks stream tokens bound to (video, user, expiry).
type Signer struct {
	Secret []byte
	TTL    time.Duration
	now    func() time.Time
}

func New(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Signer{Secret: []byte(secret), TTL: ttl, now: time.Now}
}

func (s *Signer) Issue(videoID, userID string) stream.Token {
	exp := s.now().Add(s.TTL).Unix()
	return stream.Token{
		Expires:   exp,
		Signature: s.signValue(videoID, userID, exp),
		UserID:    stream.UserID(userID),
	}
}

func (s *Signer) Verify(videoID, userID string, exp int64, sig string) bool {
	if s.now().Unix() > exp {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(s.signValue(videoID, userID, exp)))
}

func (s *Signer) signValue(videoID, userID string, exp int64) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(videoID))
	mac.Write([]byte(":"))
	mac.Write([]byte(userID))
	mac.Write([]byte(":"))
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ExtractSigned pulls user_id, expires and signature out of a stream query.
func ExtractSigned(query url.Values) (string, int64, string, error) {
	uid := strings.TrimSpace(query.Get("user_id"))
	expStr := strings.TrimSpace(query.Get("expires"))
	sig := strings.TrimSpace(query.Get("signature"))
	if uid == "" || expStr == "" || sig == "" {
		return "", 0, "", fmt.Errorf("missing signed params")
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", 0, "", err
	}
	return uid, exp, sig, nil
}
