package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendalink/vendalink/internal/catalog"
	"github.com/vendalink/vendalink/internal/conversation"
	dbpkg "github.com/vendalink/vendalink/internal/db"
	"github.com/vendalink/vendalink/internal/message"
	"github.com/vendalink/vendalink/internal/timeline"
	"github.com/vendalink/vendalink/internal/waba"
)

// TagSourceAI marks contact tags written by the analysis step.
const TagSourceAI = "AI"

type conversationGetter interface {
	Get(ctx context.Context, conversationID string) (conversation.Conversation, error)
}

type catalogReader interface {
	Load(ctx context.Context, tenantID string) (catalog.Catalogs, error)
	ContactState(ctx context.Context, contactID string) (catalog.ContactState, error)
}

// Store loads analysis context and applies results in one transaction.
type Store struct {
	pool          *pgxpool.Pool
	conversations conversationGetter
	catalogs      catalogReader
	logger        *slog.Logger
}

// NewStore creates the analysis store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool, conversations conversationGetter, catalogs catalogReader) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:          pool,
		conversations: conversations,
		catalogs:      catalogs,
		logger:        log.With(slog.String("service", "analysis_store")),
	}
}

// LoadContext gathers the conversation, its chronological messages, the
// channel's tenant catalogs and the contact's current CRM state.
func (s *Store) LoadContext(ctx context.Context, conversationID string) (Context, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return Context{}, fmt.Errorf("load conversation: %w", err)
	}

	ch, err := s.loadChannel(ctx, conv.ChannelID)
	if err != nil {
		return Context{}, fmt.Errorf("load channel: %w", err)
	}

	msgs, unprocessed, err := s.loadMessages(ctx, conversationID)
	if err != nil {
		return Context{}, fmt.Errorf("load messages: %w", err)
	}

	cats, err := s.catalogs.Load(ctx, ch.TenantID)
	if err != nil {
		return Context{}, fmt.Errorf("load catalogs: %w", err)
	}

	state, err := s.catalogs.ContactState(ctx, conv.ContactID)
	if err != nil {
		return Context{}, fmt.Errorf("load contact state: %w", err)
	}

	return Context{
		Conversation: conv,
		Channel:      ch,
		Messages:     msgs,
		Catalogs:     cats,
		State:        state,
		Unprocessed:  unprocessed,
	}, nil
}

// ClearNeedsAnalysis marks the conversation clean without touching anything
// else; used when a pass finds nothing worth analyzing.
func (s *Store) ClearNeedsAnalysis(ctx context.Context, conversationID string) error {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE conversations SET needs_analysis = false, updated_at = now() WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("clear needs analysis: %w", err)
	}
	return nil
}

// ApplyResult writes the validated analysis outcome as one atomic unit:
// conversation summary and flags, AI tags, replace-not-merge insights, the
// stage decision with its timeline event, and message processed marks.
func (s *Store) ApplyResult(ctx context.Context, c Context, res Result, now time.Time) error {
	pgConvID, err := dbpkg.ParseUUID(c.Conversation.ID)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	pgContactID, err := dbpkg.ParseUUID(c.Conversation.ContactID)
	if err != nil {
		return fmt.Errorf("invalid contact id: %w", err)
	}
	at := pgtype.Timestamptz{Time: now, Valid: true}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET
		    summary = CASE WHEN $2 <> '' THEN $2 ELSE summary END,
		    last_analysis_at = $3,
		    needs_analysis = false,
		    updated_at = now()
		WHERE id = $1`,
		pgConvID, res.Summary, at); err != nil {
		return fmt.Errorf("update conversation summary: %w", err)
	}

	for _, tg := range res.Tags {
		pgTagID, err := dbpkg.ParseUUID(tg.ID)
		if err != nil {
			return fmt.Errorf("invalid tag id: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO contact_tags (contact_id, tag_id, source)
			VALUES ($1, $2, $3)
			ON CONFLICT (contact_id, tag_id) DO NOTHING`,
			pgContactID, pgTagID, TagSourceAI); err != nil {
			return fmt.Errorf("apply tag %s: %w", tg.Slug, err)
		}
	}

	for _, ins := range res.Insights {
		pgDefID, err := dbpkg.ParseUUID(ins.Definition.ID)
		if err != nil {
			return fmt.Errorf("invalid insight definition id: %w", err)
		}
		payload, err := json.Marshal(ins.Payload)
		if err != nil {
			return fmt.Errorf("marshal insight payload: %w", err)
		}
		var expires pgtype.Timestamptz
		if ins.ExpiresAt != nil {
			expires = pgtype.Timestamptz{Time: *ins.ExpiresAt, Valid: true}
		}
		// Insights are current-best-knowledge, not history: any prior row for
		// the pair is replaced outright.
		if _, err := tx.Exec(ctx, `
			DELETE FROM contact_insights WHERE contact_id = $1 AND definition_id = $2`,
			pgContactID, pgDefID); err != nil {
			return fmt.Errorf("clear insight %s: %w", ins.Definition.Slug, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO contact_insights (contact_id, definition_id, payload, confidence, expires_at)
			VALUES ($1, $2, $3, $4, $5)`,
			pgContactID, pgDefID, payload, ins.Confidence, expires); err != nil {
			return fmt.Errorf("apply insight %s: %w", ins.Definition.Slug, err)
		}
	}

	switch decideStage(c.State, res.Stage) {
	case stageActionApply:
		pgStageID, err := dbpkg.ParseUUID(res.Stage.Stage.ID)
		if err != nil {
			return fmt.Errorf("invalid stage id: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO opportunities (contact_id, stage_id)
			VALUES ($1, $2)
			ON CONFLICT (contact_id) DO UPDATE SET stage_id = EXCLUDED.stage_id, updated_at = now()`,
			pgContactID, pgStageID); err != nil {
			return fmt.Errorf("apply stage transition: %w", err)
		}
		if err := appendEvent(ctx, tx, pgConvID, pgContactID, timeline.EventStageChange, map[string]any{
			"from_stage_id": c.State.StageID,
			"to_stage_id":   res.Stage.Stage.ID,
			"stage_slug":    res.Stage.Stage.Slug,
			"confidence":    res.Stage.Confidence,
		}); err != nil {
			return err
		}
	case stageActionHint:
		if err := appendEvent(ctx, tx, pgConvID, pgContactID, timeline.EventSystemLog, map[string]any{
			"note":               "stage suggested but not applied",
			"suggested_stage_id": res.Stage.Stage.ID,
			"stage_slug":         res.Stage.Stage.Slug,
			"confidence":         res.Stage.Confidence,
		}); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE messages SET requires_processing = false, processed_at = $2
		WHERE conversation_id = $1 AND requires_processing`,
		pgConvID, at); err != nil {
		return fmt.Errorf("mark messages processed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

func appendEvent(ctx context.Context, tx pgx.Tx, conversationID, contactID pgtype.UUID, eventType string, payload map[string]any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal timeline payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO timeline_events (conversation_id, contact_id, type, payload)
		VALUES ($1, $2, $3, $4)`,
		conversationID, contactID, eventType, payloadBytes); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}

func (s *Store) loadChannel(ctx context.Context, channelID string) (waba.Channel, error) {
	pgID, err := dbpkg.ParseUUID(channelID)
	if err != nil {
		return waba.Channel{}, fmt.Errorf("invalid channel id: %w", err)
	}
	var tenantID pgtype.UUID
	if err := s.pool.QueryRow(ctx, `
		SELECT tenant_id FROM channels WHERE id = $1`, pgID).Scan(&tenantID); err != nil {
		return waba.Channel{}, err
	}
	ch := waba.Channel{ID: channelID}
	if tenantID.Valid {
		ch.TenantID = dbpkg.UUIDToString(tenantID)
	}
	return ch, nil
}

func (s *Store) loadMessages(ctx context.Context, conversationID string) ([]message.Message, int, error) {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid conversation id: %w", err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, identity_id, external_id, direction, content, has_media,
		       sent_at, requires_processing, processed_at, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at, created_at`, pgID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var msgs []message.Message
	unprocessed := 0
	for rows.Next() {
		var (
			id                 pgtype.UUID
			identityID         pgtype.UUID
			externalID         pgtype.Text
			direction, content string
			hasMedia           bool
			sentAt             pgtype.Timestamptz
			requiresProcessing bool
			processedAt        pgtype.Timestamptz
			createdAt          pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &identityID, &externalID, &direction, &content,
			&hasMedia, &sentAt, &requiresProcessing, &processedAt, &createdAt); err != nil {
			return nil, 0, err
		}
		m := message.Message{
			ID:                 dbpkg.UUIDToString(id),
			ConversationID:     conversationID,
			ExternalID:         dbpkg.TextToString(externalID),
			Direction:          message.Direction(direction),
			Content:            content,
			HasMedia:           hasMedia,
			SentAt:             dbpkg.TimeOrZero(sentAt),
			RequiresProcessing: requiresProcessing,
			ProcessedAt:        dbpkg.TimeOrZero(processedAt),
			CreatedAt:          createdAt.Time,
		}
		if identityID.Valid {
			m.IdentityID = dbpkg.UUIDToString(identityID)
		}
		if requiresProcessing {
			unprocessed++
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return msgs, unprocessed, nil
}
