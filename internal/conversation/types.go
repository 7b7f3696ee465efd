package conversation

import "time"

// Conversation is the unique thread between one contact and one channel.
type Conversation struct {
	ID                 string
	ContactID          string
	ChannelID          string
	IsStartedByContact bool
	FirstMessageAt     time.Time
	LastMessageAt      time.Time
	FirstInboundAt     time.Time
	FirstOutboundAt    time.Time
	FirstResponseAt    time.Time
	// TimeToFirstInteraction is frozen once, in whole seconds, when the
	// first outbound reply lands on a contact-initiated conversation.
	TimeToFirstInteraction int64
	Summary                string
	NeedsAnalysis          bool
	LastAnalysisAt         time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}
