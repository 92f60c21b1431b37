package domain

import (
	"encoding/json"
	"time"
)

// QRRecord is a publicly resolvable QR artifact owned by one tenant.
// TenantPath locates the owning partition and is never sent to callers;
// Payload is the only field returned on a successful resolution.
type QRRecord struct {
	QRID       string
	TenantPath string
	ExpiresAt  *time.Time
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// Expired reports whether the record carries an expiry in the past.
// Records without an expiry never expire.
func (r *QRRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// RateWindow is the fixed-window counter state for one client identity.
// Count is the number of admitted requests since WindowStart.
type RateWindow struct {
	Count       int
	WindowStart time.Time
}
