package message

import "time"

// Direction of a message relative to the tenant's agent.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Message is the immutable record of one inbound/outbound event.
type Message struct {
	ID                 string
	ConversationID     string
	IdentityID         string
	ExternalID         string
	Direction          Direction
	Content            string
	HasMedia           bool
	SentAt             time.Time
	RequiresProcessing bool
	ProcessedAt        time.Time
	CreatedAt          time.Time
}

// InsertInput carries everything needed to persist one message.
type InsertInput struct {
	ConversationID string
	IdentityID     string
	ExternalID     string
	Direction      Direction
	Content        string
	HasMedia       bool
	SentAt         time.Time
}

// RawRecord is the append-only audit copy of a webhook payload.
type RawRecord struct {
	ID        string
	ChannelID string
	Processed bool
	CreatedAt time.Time
}
