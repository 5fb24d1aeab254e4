// Package auth guards the API with a single shared bearer token.
package auth

import (
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strings"
)

var (
	// ErrMissingToken is returned when the request carries no token.
	ErrMissingToken = errors.New("no token provided")
	// ErrInvalidToken is returned when the token does not match.
	ErrInvalidToken = errors.New("token does not match")
)

// Guard checks requests against the configured token. An empty token disables the check,
// which is how the daemon runs when only bound to localhost.
type Guard struct {
	token string
}

// NewGuard creates a guard for token.
func NewGuard(token string) *Guard {
	return &Guard{token: strings.TrimSpace(token)}
}

// Enabled reports whether a token is required.
func (g *Guard) Enabled() bool {
	return g.token != ""
}

// RequireToken rejects requests without a valid bearer token with 401 Unauthorized.
func (g *Guard) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Validate(BearerToken(r.Header.Get("Authorization"))); err != nil {
			log.Printf("Auth: %s %s rejected: %v", r.Method, r.URL.Path, err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Validate checks token against the configured one.
func (g *Guard) Validate(token string) error {
	if !g.Enabled() {
		return nil
	}
	if token == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value ("Bearer <token>",
// scheme case-insensitive). It returns "" when the header has another form.
func BearerToken(header string) string {
	fields := strings.Fields(header)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(strings.Join(fields[1:], " "))
}

// RequestToken returns the token of a request. Browsers cannot set headers on WebSocket
// handshakes, so the "token" query parameter is accepted before the header.
func RequestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return BearerToken(r.Header.Get("Authorization"))
}
