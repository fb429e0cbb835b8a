package provisioning

import (
	"context"
	"errors"
	"time"
)

// SessionTTL is how long a started provisioning session stays redeemable.
const SessionTTL = 2 * time.Minute

var (
	// ErrInvalidInstallCode indicates the serial/install-code pair did not match.
	ErrInvalidInstallCode = errors.New("provisioning: invalid install code")

	// ErrSessionNotFound indicates the session token is unknown.
	ErrSessionNotFound = errors.New("provisioning: session not found")

	// ErrSessionExpired indicates the session expired or was already redeemed.
	ErrSessionExpired = errors.New("provisioning: session expired")
)

// Session is a short-lived handle issued after install-code verification.
// The device redeems it once to receive its permanent device key.
type Session struct {
	Token     string
	DeviceID  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// Redeemable reports whether the session can still be confirmed.
func (s Session) Redeemable(now time.Time) bool {
	return !s.Used && now.Before(s.ExpiresAt)
}

// SessionStore persists provisioning sessions. Sessions survive restarts so
// a device can confirm even if the backend bounces mid-handshake.
type SessionStore interface {
	Create(ctx context.Context, session Session) error
	Get(ctx context.Context, token string) (*Session, error)

	// MarkUsed flips an unredeemed session to used; false when already
	// used or missing.
	MarkUsed(ctx context.Context, token string) (bool, error)
}
