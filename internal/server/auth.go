package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lawnchairsociety/questengine/internal/config"
)

// maxPlayerIDLength bounds player IDs accepted from clients.
const maxPlayerIDLength = 64

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidPlayerID    = errors.New("invalid player id")
)

// Authenticator resolves the player behind a gateway request. With a secret
// it requires an HS256 JWT whose subject is the player ID. Without one it
// trusts the "player" query parameter, which is only fit for development.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator from cfg.
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		now:    time.Now,
	}
}

// Enabled reports whether tokens are verified.
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Authenticate returns the player ID for r. The token is read from the
// Authorization header or, since browsers cannot set headers on a
// WebSocket handshake, from the "token" query parameter.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if !a.Enabled() {
		playerID := r.URL.Query().Get("player")
		if playerID == "" {
			return "", ErrMissingCredentials
		}
		if !isValidPlayerID(playerID) {
			return "", ErrInvalidPlayerID
		}
		return playerID, nil
	}

	raw := bearerToken(r)
	if raw == "" {
		return "", ErrMissingCredentials
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !isValidPlayerID(claims.Subject) {
		return "", ErrInvalidPlayerID
	}
	return claims.Subject, nil
}

// IssueToken signs a token for playerID valid for ttl.
func (a *Authenticator) IssueToken(playerID string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("no signing secret configured")
	}
	if !isValidPlayerID(playerID) {
		return "", ErrInvalidPlayerID
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   playerID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// isValidPlayerID accepts letters, digits, hyphens, underscores and dots.
// IDs must start with a letter or digit.
func isValidPlayerID(id string) bool {
	if id == "" || len(id) > maxPlayerIDLength {
		return false
	}
	for i, r := range id {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
		case i > 0 && (r == '-' || r == '_' || r == '.'):
		default:
			return false
		}
	}
	return true
}
