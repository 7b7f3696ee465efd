package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/vendalink/vendalink/internal/db"
)

// ErrDuplicate is returned when a message with the same external id already
// exists. Detection relies on the store's unique constraint; there is no
// pre-insert existence check.
var ErrDuplicate = errors.New("duplicate message")

// Service persists messages and the raw inbound audit log.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a message service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "message")),
	}
}

// Insert writes a single message. A unique-constraint conflict on the
// external id surfaces as ErrDuplicate.
func (s *Service) Insert(ctx context.Context, input InsertInput) (Message, error) {
	pgConversationID, err := dbpkg.ParseUUID(input.ConversationID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	pgIdentityID, err := parseOptionalUUID(input.IdentityID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid identity id: %w", err)
	}

	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, identity_id, external_id, direction, content, has_media, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		pgConversationID, pgIdentityID, dbpkg.ToPgText(input.ExternalID),
		string(input.Direction), input.Content, input.HasMedia,
		pgtype.Timestamptz{Time: input.SentAt, Valid: true},
	).Scan(&id, &createdAt)
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return Message{}, ErrDuplicate
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return Message{
		ID:                 dbpkg.UUIDToString(id),
		ConversationID:     input.ConversationID,
		IdentityID:         input.IdentityID,
		ExternalID:         input.ExternalID,
		Direction:          input.Direction,
		Content:            input.Content,
		HasMedia:           input.HasMedia,
		SentAt:             input.SentAt,
		RequiresProcessing: true,
		CreatedAt:          createdAt.Time,
	}, nil
}

// RecordRaw appends the webhook payload to the audit log.
func (s *Service) RecordRaw(ctx context.Context, channelID string, payload []byte, processed bool) (string, error) {
	pgChannelID, err := parseOptionalUUID(channelID)
	if err != nil {
		return "", fmt.Errorf("invalid channel id: %w", err)
	}
	if len(payload) == 0 || !json.Valid(payload) {
		// The audit log stores whatever arrived; non-JSON bodies are wrapped
		// so the jsonb column accepts them.
		wrapped, marshalErr := json.Marshal(map[string]string{"raw": string(payload)})
		if marshalErr != nil {
			return "", marshalErr
		}
		payload = wrapped
	}
	var id pgtype.UUID
	if err := s.pool.QueryRow(ctx, `
		INSERT INTO raw_inbound_messages (channel_id, payload, processed)
		VALUES ($1, $2, $3)
		RETURNING id`,
		pgChannelID, payload, processed,
	).Scan(&id); err != nil {
		return "", fmt.Errorf("record raw message: %w", err)
	}
	return dbpkg.UUIDToString(id), nil
}

// MarkRawProcessed flips the audit record's processed flag, the only
// mutation raw records ever receive.
func (s *Service) MarkRawProcessed(ctx context.Context, rawID string) error {
	pgID, err := dbpkg.ParseUUID(rawID)
	if err != nil {
		return fmt.Errorf("invalid raw record id: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE raw_inbound_messages SET processed = true WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("mark raw processed: %w", err)
	}
	return nil
}

func parseOptionalUUID(id string) (pgtype.UUID, error) {
	if strings.TrimSpace(id) == "" {
		return pgtype.UUID{}, nil
	}
	return dbpkg.ParseUUID(id)
}
