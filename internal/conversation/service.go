package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/vendalink/vendalink/internal/db"
	"github.com/vendalink/vendalink/internal/message"
)

// Service manages conversation threads and their rolling statistics.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "conversation")),
	}
}

// FindOrCreate returns the conversation for (contact, channel), creating it
// with direction-derived seeds when the pair has never talked.
func (s *Service) FindOrCreate(ctx context.Context, contactID, channelID string, direction message.Direction, sentAt time.Time) (Conversation, error) {
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid contact id: %w", err)
	}
	pgChannelID, err := dbpkg.ParseUUID(channelID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid channel id: %w", err)
	}

	conv, err := s.getByPair(ctx, pgContactID, pgChannelID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, fmt.Errorf("lookup conversation: %w", err)
	}

	startedByContact := direction == message.DirectionInbound
	firstInbound := pgtype.Timestamptz{}
	firstOutbound := pgtype.Timestamptz{}
	if startedByContact {
		firstInbound = pgtype.Timestamptz{Time: sentAt, Valid: true}
	} else {
		firstOutbound = pgtype.Timestamptz{Time: sentAt, Valid: true}
	}

	conv, err = s.scan(s.pool.QueryRow(ctx, `
		INSERT INTO conversations (contact_id, channel_id, is_started_by_contact,
		    first_message_at, last_message_at, first_inbound_at, first_outbound_at)
		VALUES ($1, $2, $3, $4, $4, $5, $6)
		RETURNING `+columns,
		pgContactID, pgChannelID, startedByContact,
		pgtype.Timestamptz{Time: sentAt, Valid: true}, firstInbound, firstOutbound))
	if err != nil {
		// Concurrent ingest created the pair first; use its row.
		if dbpkg.IsUniqueViolation(err) {
			return s.getByPair(ctx, pgContactID, pgChannelID)
		}
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Info("conversation created",
		slog.String("conversation_id", conv.ID),
		slog.String("contact_id", contactID),
		slog.String("channel_id", channelID),
	)
	return conv, nil
}

// ApplyMessage folds one persisted message into the conversation's rolling
// fields and marks it dirty for analysis.
func (s *Service) ApplyMessage(ctx context.Context, conversationID string, direction message.Direction, sentAt time.Time) error {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	at := pgtype.Timestamptz{Time: sentAt, Valid: true}
	inbound := direction == message.DirectionInbound

	_, err = s.pool.Exec(ctx, `
		UPDATE conversations SET
		    first_message_at = LEAST(COALESCE(first_message_at, $2), $2),
		    last_message_at  = GREATEST(COALESCE(last_message_at, $2), $2),
		    first_inbound_at = CASE WHEN $3 THEN COALESCE(first_inbound_at, $2) ELSE first_inbound_at END,
		    first_outbound_at = CASE WHEN NOT $3 THEN COALESCE(first_outbound_at, $2) ELSE first_outbound_at END,
		    first_response_at = CASE
		        WHEN NOT $3 AND is_started_by_contact AND first_response_at IS NULL AND first_inbound_at IS NOT NULL
		        THEN $2 ELSE first_response_at END,
		    time_to_first_interaction = CASE
		        WHEN NOT $3 AND is_started_by_contact AND first_response_at IS NULL AND first_inbound_at IS NOT NULL
		        THEN FLOOR(EXTRACT(EPOCH FROM ($2 - first_inbound_at)))::bigint
		        ELSE time_to_first_interaction END,
		    needs_analysis = true,
		    updated_at = now()
		WHERE id = $1`,
		pgID, at, inbound)
	if err != nil {
		return fmt.Errorf("apply message to conversation: %w", err)
	}
	return nil
}

// MarkNeedsAnalysis flags a conversation dirty, e.g. for a manual re-analyze.
func (s *Service) MarkNeedsAnalysis(ctx context.Context, conversationID string) error {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET needs_analysis = true, updated_at = now() WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("mark needs analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListDirty returns ids of conversations that still need analysis and have
// been quiet for at least the given duration.
func (s *Service) ListDirty(ctx context.Context, quiet time.Duration, limit int32) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM conversations
		WHERE needs_analysis
		  AND (last_message_at IS NULL OR last_message_at <= now() - $1::interval)
		ORDER BY last_message_at NULLS FIRST
		LIMIT $2`,
		fmt.Sprintf("%d seconds", int(quiet.Seconds())), limit)
	if err != nil {
		return nil, fmt.Errorf("list dirty conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, dbpkg.UUIDToString(id))
	}
	return ids, rows.Err()
}

const columns = `id, contact_id, channel_id, is_started_by_contact,
	first_message_at, last_message_at, first_inbound_at, first_outbound_at,
	first_response_at, time_to_first_interaction, summary, needs_analysis,
	last_analysis_at, created_at, updated_at`

func (s *Service) getByPair(ctx context.Context, contactID, channelID pgtype.UUID) (Conversation, error) {
	return s.scan(s.pool.QueryRow(ctx, `
		SELECT `+columns+`
		FROM conversations WHERE contact_id = $1 AND channel_id = $2`,
		contactID, channelID))
}

// Get loads one conversation by id.
func (s *Service) Get(ctx context.Context, conversationID string) (Conversation, error) {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	return s.scan(s.pool.QueryRow(ctx, `
		SELECT `+columns+` FROM conversations WHERE id = $1`, pgID))
}

func (s *Service) scan(row pgx.Row) (Conversation, error) {
	var (
		id, contactID, channelID pgtype.UUID
		startedByContact         bool
		firstMessageAt           pgtype.Timestamptz
		lastMessageAt            pgtype.Timestamptz
		firstInboundAt           pgtype.Timestamptz
		firstOutboundAt          pgtype.Timestamptz
		firstResponseAt          pgtype.Timestamptz
		ttfi                     pgtype.Int8
		summary                  pgtype.Text
		needsAnalysis            bool
		lastAnalysisAt           pgtype.Timestamptz
		createdAt, updatedAt     pgtype.Timestamptz
	)
	if err := row.Scan(&id, &contactID, &channelID, &startedByContact,
		&firstMessageAt, &lastMessageAt, &firstInboundAt, &firstOutboundAt,
		&firstResponseAt, &ttfi, &summary, &needsAnalysis, &lastAnalysisAt,
		&createdAt, &updatedAt); err != nil {
		return Conversation{}, err
	}
	return Conversation{
		ID:                     dbpkg.UUIDToString(id),
		ContactID:              dbpkg.UUIDToString(contactID),
		ChannelID:              dbpkg.UUIDToString(channelID),
		IsStartedByContact:     startedByContact,
		FirstMessageAt:         dbpkg.TimeOrZero(firstMessageAt),
		LastMessageAt:          dbpkg.TimeOrZero(lastMessageAt),
		FirstInboundAt:         dbpkg.TimeOrZero(firstInboundAt),
		FirstOutboundAt:        dbpkg.TimeOrZero(firstOutboundAt),
		FirstResponseAt:        dbpkg.TimeOrZero(firstResponseAt),
		TimeToFirstInteraction: ttfi.Int64,
		Summary:                dbpkg.TextToString(summary),
		NeedsAnalysis:          needsAnalysis,
		LastAnalysisAt:         dbpkg.TimeOrZero(lastAnalysisAt),
		CreatedAt:              createdAt.Time,
		UpdatedAt:              updatedAt.Time,
	}, nil
}
