package commands

import "time"

const (
	// DefaultBaseAckTimeout is how long the first SENT attempt may await an ack.
	DefaultBaseAckTimeout = 30 * time.Second
	// DefaultMaxAckTimeout bounds the ack wait so an offline device cannot
	// stall its queue indefinitely.
	DefaultMaxAckTimeout = 5 * time.Minute
	// DefaultMaxRetries is the per-command resend cap beyond the first attempt.
	DefaultMaxRetries = 3
)

// Backoff maps a retry attempt number to an acknowledgment-wait duration.
// Linear growth: attempt 0 waits Base, attempt k waits Base*(k+1), capped
// at Ceiling.
type Backoff struct {
	Base    time.Duration
	Ceiling time.Duration
}

// DefaultBackoff returns the default linear backoff policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBaseAckTimeout, Ceiling: DefaultMaxAckTimeout}
}

// Wait returns the ack timeout for the given retry count.
func (b Backoff) Wait(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	base := b.Base
	if base <= 0 {
		base = DefaultBaseAckTimeout
	}
	ceiling := b.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultMaxAckTimeout
	}
	wait := base * time.Duration(retryCount+1)
	if wait > ceiling {
		wait = ceiling
	}
	return wait
}
