package waba

import "time"

// Channel represents one WhatsApp-capable account/session. A channel may be
// created before its owning tenant is known ("orphan") and claimed later.
type Channel struct {
	ID          string
	TenantID    string
	PhoneID     string
	SessionName string
	Status      string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Orphan reports whether the channel has no owning tenant yet.
func (c Channel) Orphan() bool {
	return c.TenantID == ""
}
