// Package auth resolves the learner behind a request. It does not issue
// credentials; it maps what the caller presents to a user ID.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

// UserHeader carries the user ID in header mode.
const UserHeader = "X-User-ID"

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._@:-]{1,128}$`)

// SessionProvider resolves the user for a request.
type SessionProvider interface {
	UserID(r *http.Request) (string, error)
}

// HeaderProvider trusts the X-User-ID header. Use it only behind a proxy
// that sets the header, or on loopback.
type HeaderProvider struct{}

func (HeaderProvider) UserID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		return "", domain.ErrMissingUser
	}
	if !ValidUserID(id) {
		return "", fmt.Errorf("%w: malformed user id", domain.ErrUnauthorized)
	}
	return id, nil
}

// TokenProvider maps bearer tokens to users.
type TokenProvider struct {
	tokens map[string]string
}

// NewTokenProvider creates a provider over a token -> user ID map.
func NewTokenProvider(tokens map[string]string) *TokenProvider {
	copied := make(map[string]string, len(tokens))
	for tok, user := range tokens {
		copied[tok] = user
	}
	return &TokenProvider{tokens: copied}
}

func (p *TokenProvider) UserID(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", domain.ErrMissingUser
	}

	// Compare every entry so timing does not depend on which one matched.
	var user string
	for tok, id := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(token)) == 1 {
			user = id
		}
	}
	if user == "" {
		return "", domain.ErrUnauthorized
	}
	return user, nil
}

// StaticProvider always returns the same user. The CLI uses it for local
// runs.
type StaticProvider string

func (p StaticProvider) UserID(*http.Request) (string, error) {
	if p == "" {
		return "", domain.ErrMissingUser
	}
	return string(p), nil
}

// NewProvider builds the provider for an auth mode.
func NewProvider(mode string, tokens map[string]string) (SessionProvider, error) {
	switch mode {
	case "", "header":
		return HeaderProvider{}, nil
	case "token":
		return NewTokenProvider(tokens), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// ValidUserID reports whether id is an acceptable user identifier.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

type contextKey struct{}

// WithUser returns a context carrying the user ID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserFrom returns the user ID stored by WithUser.
func UserFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}
