package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/vendalink/vendalink/internal/db"
)

// Event types recorded on the narrative timeline.
const (
	EventMessageReceived = "MESSAGE_RECEIVED"
	EventMessageSent     = "MESSAGE_SENT"
	EventStageChange     = "STAGE_CHANGE"
	EventSystemLog       = "SYSTEM_LOG"
)

// Event is one append-only timeline record.
type Event struct {
	ConversationID string
	ContactID      string
	Type           string
	Payload        map[string]any
}

// Service appends timeline events.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a timeline service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "timeline")),
	}
}

// Append writes one event. Timeline rows are never updated or deleted.
func (s *Service) Append(ctx context.Context, ev Event) error {
	pgConversationID, err := optionalUUID(ev.ConversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	pgContactID, err := optionalUUID(ev.ContactID)
	if err != nil {
		return fmt.Errorf("invalid contact id: %w", err)
	}
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal timeline payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO timeline_events (conversation_id, contact_id, type, payload)
		VALUES ($1, $2, $3, $4)`,
		pgConversationID, pgContactID, ev.Type, payloadBytes)
	if err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}
	return nil
}

func optionalUUID(id string) (pgtype.UUID, error) {
	if strings.TrimSpace(id) == "" {
		return pgtype.UUID{}, nil
	}
	return dbpkg.ParseUUID(id)
}
