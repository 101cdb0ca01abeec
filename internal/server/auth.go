package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

type ctxKeyUserID struct{}

func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyUserID{}).(string)
	return v, ok
}

type Claims struct {
	jwt.RegisteredClaims
	Type     string `json:"typ"`
	DeviceID string `json:"device_id,omitempty"`
}

// TokenIssuer mints and verifies HS256 access and refresh tokens.
type TokenIssuer struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (t TokenIssuer) issue(userID, deviceID, typ string, ttl time.Duration, now time.Time) (string, error) {
	if len(t.Secret) == 0 {
		return "", errors.New("missing jwt secret")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type:     typ,
		DeviceID: deviceID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
}

func (t TokenIssuer) NewAccessToken(userID, deviceID string) (string, error) {
	return t.issue(userID, deviceID, tokenTypeAccess, t.AccessTTL, time.Now().UTC())
}

func (t TokenIssuer) NewRefreshToken(userID, deviceID string) (string, error) {
	return t.issue(userID, deviceID, tokenTypeRefresh, t.RefreshTTL, time.Now().UTC())
}

// Parse verifies a token and checks it is of the wanted type.
func (t TokenIssuer) Parse(tokenString, wantType string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return t.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Type != wantType {
		return nil, errors.New("wrong token type")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// RequireUser validates the bearer access token and injects the user id
// into the request context.
func RequireUser(issuer TokenIssuer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, "Authentication credentials were not provided")
				return
			}
			claims, err := issuer.Parse(strings.TrimSpace(parts[1]), tokenTypeAccess)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Token is invalid or expired")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyUserID{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
