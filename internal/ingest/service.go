package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vendalink/vendalink/internal/contact"
	"github.com/vendalink/vendalink/internal/conversation"
	"github.com/vendalink/vendalink/internal/message"
	"github.com/vendalink/vendalink/internal/timeline"
	"github.com/vendalink/vendalink/internal/waba"
)

// Skip reasons surfaced to the webhook caller. None of them is an error; the
// gateway gets a 2xx either way so it never retries genuinely bad events.
const (
	ReasonMissingChannelIdentifier = "missing-channel-identifier"
	ReasonEmptyMessage             = "empty-message"
	ReasonGroupMessage             = "group-message"
	ReasonMissingContactIdentifier = "missing-contact-identifier"
	ReasonDuplicateMessage         = "duplicate-message"
	ReasonSessionStatus            = "session-status"
)

// Result is the outcome of one webhook delivery.
type Result struct {
	Skipped        bool   `json:"skipped,omitempty"`
	Reason         string `json:"reason,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
}

type contactResolver interface {
	Resolve(ctx context.Context, rawIdentifier string) (contact.Resolution, error)
}

type channelResolver interface {
	Resolve(ctx context.Context, rawAccountID, sessionName string, metadata map[string]any) (waba.Channel, error)
	UpdateStatus(ctx context.Context, sessionName, status, rawAccountID string) error
}

type messageStore interface {
	Insert(ctx context.Context, input message.InsertInput) (message.Message, error)
	RecordRaw(ctx context.Context, channelID string, payload []byte, processed bool) (string, error)
	MarkRawProcessed(ctx context.Context, rawID string) error
}

type conversationStore interface {
	FindOrCreate(ctx context.Context, contactID, channelID string, direction message.Direction, sentAt time.Time) (conversation.Conversation, error)
	ApplyMessage(ctx context.Context, conversationID string, direction message.Direction, sentAt time.Time) error
}

type timelineAppender interface {
	Append(ctx context.Context, ev timeline.Event) error
}

type analysisScheduler interface {
	Schedule(conversationID string)
}

// Service turns webhook deliveries into persisted CRM state.
type Service struct {
	contacts      contactResolver
	channels      channelResolver
	messages      messageStore
	conversations conversationStore
	timeline      timelineAppender
	scheduler     analysisScheduler
	logger        *slog.Logger
	now           func() time.Time
}

// NewService wires the ingestion pipeline. scheduler may be nil when no
// completion endpoint is configured; ingestion then persists without
// enqueueing analysis.
func NewService(
	log *slog.Logger,
	contacts contactResolver,
	channels channelResolver,
	messages messageStore,
	conversations conversationStore,
	tl timelineAppender,
	scheduler analysisScheduler,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		contacts:      contacts,
		channels:      channels,
		messages:      messages,
		conversations: conversations,
		timeline:      tl,
		scheduler:     scheduler,
		logger:        log.With(slog.String("service", "ingest")),
		now:           time.Now,
	}
}

// Handle routes one webhook body: session-status events update the channel,
// everything else goes through message ingestion.
func (s *Service) Handle(ctx context.Context, body []byte) (Result, error) {
	env, err := ParseEnvelope(body)
	if err != nil {
		s.logger.Warn("unparseable webhook body", slog.Any("error", err))
		return Result{Skipped: true, Reason: ReasonMissingChannelIdentifier}, nil
	}

	if env.IsSessionStatus() {
		status := ""
		if env.Payload != nil {
			status = env.Payload.Status
		}
		if err := s.channels.UpdateStatus(ctx, env.Session, status, env.AccountID()); err != nil {
			s.logger.Warn("session status update failed",
				slog.String("session", env.Session),
				slog.Any("error", err),
			)
		}
		return Result{Skipped: true, Reason: ReasonSessionStatus}, nil
	}

	return s.ingest(ctx, env, body)
}

// ingest runs the gated pipeline. Side effects are cumulative: a failure in a
// later step does not undo earlier writes, and the raw audit row in
// particular must survive everything that follows it.
func (s *Service) ingest(ctx context.Context, env Envelope, body []byte) (Result, error) {
	// Without an account identifier the event is unattributable; nothing is
	// persisted, not even the audit row.
	ch, err := s.channels.Resolve(ctx, env.AccountID(), env.Session, channelMetadata(env))
	if err != nil {
		if errors.Is(err, waba.ErrMissingAccountID) {
			return Result{Skipped: true, Reason: ReasonMissingChannelIdentifier}, nil
		}
		return Result{}, fmt.Errorf("resolve channel: %w", err)
	}

	p := env.Payload
	if p.IsEmpty() {
		return s.skipAudited(ctx, ch.ID, body, ReasonEmptyMessage)
	}
	if p.IsGroup() {
		return s.skipAudited(ctx, ch.ID, body, ReasonGroupMessage)
	}

	rawID, err := s.messages.RecordRaw(ctx, ch.ID, body, false)
	if err != nil {
		return Result{}, fmt.Errorf("record raw message: %w", err)
	}

	res, err := s.contacts.Resolve(ctx, p.ContactIdentifier())
	if err != nil {
		if errors.Is(err, contact.ErrMissingIdentifier) {
			s.finishRaw(ctx, rawID)
			return Result{Skipped: true, Reason: ReasonMissingContactIdentifier}, nil
		}
		return Result{}, fmt.Errorf("resolve contact: %w", err)
	}

	direction := message.DirectionInbound
	if p.FromMe {
		direction = message.DirectionOutbound
	}
	sentAt := p.SentAt(s.now())
	content := p.Content()

	conv, err := s.conversations.FindOrCreate(ctx, res.Contact.ID, ch.ID, direction, sentAt)
	if err != nil {
		return Result{}, fmt.Errorf("find or create conversation: %w", err)
	}

	identityID := ""
	if direction == message.DirectionInbound {
		identityID = res.Identity.ID
	}
	msg, err := s.messages.Insert(ctx, message.InsertInput{
		ConversationID: conv.ID,
		IdentityID:     identityID,
		ExternalID:     p.ID,
		Direction:      direction,
		Content:        content,
		HasMedia:       p.HasMedia,
		SentAt:         sentAt,
	})
	if err != nil {
		// The unique constraint on the external id is the sole dedup
		// mechanism; a conflict means the gateway delivered twice.
		if errors.Is(err, message.ErrDuplicate) {
			s.finishRaw(ctx, rawID)
			return Result{Skipped: true, Reason: ReasonDuplicateMessage}, nil
		}
		return Result{}, fmt.Errorf("insert message: %w", err)
	}

	if err := s.conversations.ApplyMessage(ctx, conv.ID, direction, sentAt); err != nil {
		return Result{}, fmt.Errorf("update conversation: %w", err)
	}

	eventType := timeline.EventMessageReceived
	if direction == message.DirectionOutbound {
		eventType = timeline.EventMessageSent
	}
	if err := s.timeline.Append(ctx, timeline.Event{
		ConversationID: conv.ID,
		ContactID:      res.Contact.ID,
		Type:           eventType,
		Payload: map[string]any{
			"raw_message_id": rawID,
			"channel_type":   contact.IdentityTypeWhatsApp,
			"message_id":     msg.ID,
		},
	}); err != nil {
		s.logger.Warn("timeline append failed",
			slog.String("conversation_id", conv.ID),
			slog.Any("error", err),
		)
	}

	s.finishRaw(ctx, rawID)

	if s.scheduler != nil {
		s.scheduler.Schedule(conv.ID)
	}

	s.logger.Info("message ingested",
		slog.String("conversation_id", conv.ID),
		slog.String("message_id", msg.ID),
		slog.String("direction", string(direction)),
	)
	return Result{ConversationID: conv.ID, MessageID: msg.ID}, nil
}

// skipAudited writes the raw audit row already marked processed and returns
// the skip; channel-known skips stay observable in the audit log.
func (s *Service) skipAudited(ctx context.Context, channelID string, body []byte, reason string) (Result, error) {
	if _, err := s.messages.RecordRaw(ctx, channelID, body, true); err != nil {
		s.logger.Warn("audit write for skipped event failed",
			slog.String("reason", reason),
			slog.Any("error", err),
		)
	}
	return Result{Skipped: true, Reason: reason}, nil
}

func (s *Service) finishRaw(ctx context.Context, rawID string) {
	if err := s.messages.MarkRawProcessed(ctx, rawID); err != nil {
		s.logger.Warn("mark raw processed failed",
			slog.String("raw_id", rawID),
			slog.Any("error", err),
		)
	}
}

func channelMetadata(env Envelope) map[string]any {
	if env.Me == nil || env.Me.PushName == "" {
		return nil
	}
	return map[string]any{"push_name": env.Me.PushName}
}
