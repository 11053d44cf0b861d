// Package ctxkeys defines typed context keys to avoid key collisions across
// packages.
package ctxkeys

// Key is a typed context key to prevent collisions.
type Key string

// Auth context keys
const (
	KeyUserID   Key = "user_id"
	KeyOrgID    Key = "org_id"
	KeyEmail    Key = "email"
	KeyRole     Key = "role"
	KeyAuthType Key = "auth_type"
)

// Request context keys
const (
	KeyRequestID Key = "request_id"
)
