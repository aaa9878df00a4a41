// Package session carries session-changed events between publishers (sign-in,
// refresh, sign-out) and subscribers such as the auth gate or the SSE stream.
package session

import (
	"context"
	"time"
)

// EventType names a session transition.
type EventType string

const (
	SignedIn       EventType = "signed_in"
	TokenRefreshed EventType = "token_refreshed"
	SignedOut      EventType = "signed_out"
)

// User is the identity a session belongs to.
type User struct {
	ID    string `json:"id" yaml:"id"`
	Email string `json:"email" yaml:"email"`
}

// Session is the credential set issued at sign-in.
type Session struct {
	AccessToken  string    `json:"access_token" yaml:"access_token"`
	RefreshToken string    `json:"refresh_token" yaml:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at" yaml:"expires_at"`
	User         User      `json:"user" yaml:"user"`
}

// Expired reports whether the access token is within skew of expiring.
func (s *Session) Expired(now time.Time, skew time.Duration) bool {
	return s == nil || !now.Add(skew).Before(s.ExpiresAt)
}

// Event is a session transition. Session is only set on in-process buses and
// is never serialized.
type Event struct {
	Type    EventType `json:"type"`
	UserID  string    `json:"user_id"`
	Email   string    `json:"email,omitempty"`
	At      time.Time `json:"at"`
	Session *Session  `json:"-"`
}

// Bus is the abstraction over different event backends.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	// Subscribe delivers events published after it returns. The returned
	// function unsubscribes and closes the channel; cancelling ctx does the same.
	Subscribe(ctx context.Context) (<-chan Event, func(), error)
}
