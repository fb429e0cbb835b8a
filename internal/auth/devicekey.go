package auth

import (
	"context"
	"net/http"

	"github.com/kovacsmedia/SchoolLive-backend/internal/observability/metrics"
)

const deviceKeyHeader = "X-Device-Key"

// DeviceKeyVerifier resolves a presented device key to a device identity.
// Implementations return ErrUnauthorized when the key does not match.
type DeviceKeyVerifier interface {
	VerifyDeviceKey(ctx context.Context, key string) (DeviceIdentity, error)
}

// DeviceKeyMiddleware authenticates device requests by shared key.
type DeviceKeyMiddleware struct {
	verifier DeviceKeyVerifier
}

// NewDeviceKeyMiddleware constructs a device key middleware.
func NewDeviceKeyMiddleware(verifier DeviceKeyVerifier) *DeviceKeyMiddleware {
	return &DeviceKeyMiddleware{verifier: verifier}
}

// Wrap authenticates the device and stores its identity in context.
func (m *DeviceKeyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil || m.verifier == nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		key := r.Header.Get(deviceKeyHeader)
		if key == "" {
			metrics.IncAuthFailure("device_key")
			http.Error(w, "missing device key", http.StatusUnauthorized)
			return
		}
		identity, err := m.verifier.VerifyDeviceKey(r.Context(), key)
		if err != nil {
			metrics.IncAuthFailure("device_key")
			http.Error(w, "invalid device key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithDevice(r.Context(), identity)))
	})
}
