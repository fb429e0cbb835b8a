package auth

import "context"

type contextKey string

const (
	contextKeyTenant    contextKey = "auth.tenant_id"
	contextKeyRole      contextKey = "auth.role"
	contextKeySubject   contextKey = "auth.subject"
	contextKeyDevice    contextKey = "auth.device_id"
	contextKeyDevTenant contextKey = "auth.device_tenant_id"
)

// WithIdentity stores operator identity details in context.
func WithIdentity(ctx context.Context, tenantID string, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeyTenant, tenantID)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return ctx
}

// TenantIDFromContext extracts the operator tenant id from context.
func TenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if tenantID, ok := ctx.Value(contextKeyTenant).(string); ok {
		return tenantID
	}
	return ""
}

// RoleFromContext extracts the operator role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts the operator subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if subject, ok := ctx.Value(contextKeySubject).(string); ok {
		return subject
	}
	return ""
}

// DeviceIdentity is the authenticated device making a request.
type DeviceIdentity struct {
	DeviceID string
	TenantID string
}

// WithDevice stores device identity details in context.
func WithDevice(ctx context.Context, identity DeviceIdentity) context.Context {
	ctx = context.WithValue(ctx, contextKeyDevice, identity.DeviceID)
	ctx = context.WithValue(ctx, contextKeyDevTenant, identity.TenantID)
	return ctx
}

// DeviceFromContext extracts the device identity, if any.
func DeviceFromContext(ctx context.Context) (DeviceIdentity, bool) {
	if ctx == nil {
		return DeviceIdentity{}, false
	}
	deviceID, _ := ctx.Value(contextKeyDevice).(string)
	tenantID, _ := ctx.Value(contextKeyDevTenant).(string)
	if deviceID == "" || tenantID == "" {
		return DeviceIdentity{}, false
	}
	return DeviceIdentity{DeviceID: deviceID, TenantID: tenantID}, true
}
