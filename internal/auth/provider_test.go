package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/felixgeelhaar/gradebox/internal/domain"
)

func TestHeaderProvider(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"present", "alice", "alice", nil},
		{"trimmed", "  bob  ", "bob", nil},
		{"missing", "", "", domain.ErrMissingUser},
		{"malformed", "a b/c", "", domain.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set(UserHeader, tt.header)
			}
			got, err := HeaderProvider{}.UserID(r)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("UserID() error = %v; want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("UserID() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestTokenProvider(t *testing.T) {
	p := NewTokenProvider(map[string]string{"tok-a": "alice", "tok-b": "bob"})

	tests := []struct {
		name    string
		auth    string
		want    string
		wantErr error
	}{
		{"known token", "Bearer tok-b", "bob", nil},
		{"unknown token", "Bearer nope", "", domain.ErrUnauthorized},
		{"no header", "", "", domain.ErrMissingUser},
		{"wrong scheme", "Basic tok-a", "", domain.ErrMissingUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.auth != "" {
				r.Header.Set("Authorization", tt.auth)
			}
			got, err := p.UserID(r)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("UserID() error = %v; want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("UserID() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestNewProvider(t *testing.T) {
	if p, err := NewProvider("header", nil); err != nil {
		t.Errorf("NewProvider(header) error = %v", err)
	} else if _, ok := p.(HeaderProvider); !ok {
		t.Errorf("NewProvider(header) = %T; want HeaderProvider", p)
	}
	if _, err := NewProvider("token", map[string]string{"t": "u"}); err != nil {
		t.Errorf("NewProvider(token) error = %v", err)
	}
	if _, err := NewProvider("oauth", nil); err == nil {
		t.Error("NewProvider(oauth) error = nil; want error")
	}
}

func TestStaticProvider(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if got, err := StaticProvider("local").UserID(r); err != nil || got != "local" {
		t.Errorf("UserID() = %q, %v; want local", got, err)
	}
	if _, err := StaticProvider("").UserID(r); !errors.Is(err, domain.ErrMissingUser) {
		t.Errorf("UserID() error = %v; want ErrMissingUser", err)
	}
}

func TestUserContext(t *testing.T) {
	ctx := WithUser(context.Background(), "carol")
	if got, ok := UserFrom(ctx); !ok || got != "carol" {
		t.Errorf("UserFrom() = %q, %v; want carol, true", got, ok)
	}
	if _, ok := UserFrom(context.Background()); ok {
		t.Error("UserFrom(empty) ok = true; want false")
	}
}
