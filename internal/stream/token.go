package stream

import (
	"errors"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

var ErrTokenMissing = errors.New("stream token missing")

// Token is the short-lived credential the backend embeds in a video detail
// response. The client never validates it; expiry is enforced by the
// stream endpoint.
type Token struct {
	Expires   int64  `json:"expires"`
	Signature string `json:"signature"`
	UserID    UserID `json:"user_id"`
}

func (t *Token) Valid() bool {
	return t != nil && t.Expires > 0 && t.Signature != "" && t.UserID != ""
}

// UserID accepts either a JSON string or a JSON number.
type UserID string

func (u *UserID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*u = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = UserID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*u = UserID(n.String())
	return nil
}

func (u UserID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(u), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(u))
}

func (u UserID) String() string { return string(u) }
