package contact

import "time"

// IdentityTypeWhatsApp is the identity type for WhatsApp-style identifiers.
const IdentityTypeWhatsApp = "WHATSAPP"

// Contact is an identity-less person record. It is created implicitly the
// first time a message arrives from an unknown identifier.
type Contact struct {
	ID        string
	TenantID  string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity is a (type, value) external address owned by exactly one contact.
type Identity struct {
	ID        string
	ContactID string
	Type      string
	Value     string
	CreatedAt time.Time
}

// Resolution is the outcome of resolving a raw identifier.
type Resolution struct {
	Contact  Contact
	Identity Identity
	// Created reports whether the contact was created by this resolution.
	Created bool
}
