package waba

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendalink/vendalink/internal/contact"
	dbpkg "github.com/vendalink/vendalink/internal/db"
)

// ErrMissingAccountID is returned when the event carries no usable account
// identifier; such events cannot be attributed to any channel.
var ErrMissingAccountID = errors.New("missing account identifier")

// Service resolves gateway session/account identifiers to channel records.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a channel service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "waba")),
	}
}

// Resolve maps the event's account identifier to a channel record.
//
// The external phone identifier is only known once a session has fully
// authenticated, so lookup is three-tiered: by phone identifier, then by the
// gateway session name (backfilling the phone identifier for next time), and
// finally a fresh unlinked channel so early events are never dropped.
func (s *Service) Resolve(ctx context.Context, rawAccountID, sessionName string, metadata map[string]any) (Channel, error) {
	token := contact.NormalizeIdentifier(rawAccountID)
	if token == "" {
		return Channel{}, ErrMissingAccountID
	}

	ch, err := s.getByPhoneID(ctx, token)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Channel{}, fmt.Errorf("lookup channel by phone: %w", err)
	}

	if strings.TrimSpace(sessionName) != "" {
		ch, err = s.getBySessionName(ctx, sessionName)
		if err == nil {
			if ch.PhoneID == "" {
				if err := s.backfillPhoneID(ctx, ch.ID, token); err != nil {
					s.logger.Warn("backfill channel phone failed",
						slog.String("channel_id", ch.ID),
						slog.Any("error", err),
					)
				} else {
					ch.PhoneID = token
				}
			}
			return ch, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Channel{}, fmt.Errorf("lookup channel by session: %w", err)
		}
	}

	return s.createOrphan(ctx, token, sessionName, metadata)
}

// UpdateStatus records a session-status change and backfills the phone
// identifier when the authenticated status reveals it.
func (s *Service) UpdateStatus(ctx context.Context, sessionName, status, rawAccountID string) error {
	sessionName = strings.TrimSpace(sessionName)
	if sessionName == "" {
		return errors.New("session name required")
	}
	token := contact.NormalizeIdentifier(rawAccountID)
	tag, err := s.pool.Exec(ctx, `
		UPDATE channels
		SET status = $2,
		    phone_id = COALESCE(phone_id, NULLIF($3, '')),
		    updated_at = now()
		WHERE session_name = $1`,
		sessionName, strings.TrimSpace(status), token)
	if err != nil {
		return fmt.Errorf("update channel status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("status for unknown session ignored", slog.String("session", sessionName))
	}
	return nil
}

func (s *Service) getByPhoneID(ctx context.Context, phoneID string) (Channel, error) {
	return s.scanChannel(s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, phone_id, session_name, status, metadata, created_at, updated_at
		FROM channels WHERE phone_id = $1`, phoneID))
}

func (s *Service) getBySessionName(ctx context.Context, sessionName string) (Channel, error) {
	return s.scanChannel(s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, phone_id, session_name, status, metadata, created_at, updated_at
		FROM channels WHERE session_name = $1
		ORDER BY created_at LIMIT 1`, strings.TrimSpace(sessionName)))
}

func (s *Service) backfillPhoneID(ctx context.Context, channelID, phoneID string) error {
	pgID, err := dbpkg.ParseUUID(channelID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE channels SET phone_id = $2, updated_at = now()
		WHERE id = $1 AND phone_id IS NULL`, pgID, phoneID)
	return err
}

func (s *Service) createOrphan(ctx context.Context, phoneID, sessionName string, metadata map[string]any) (Channel, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return Channel{}, fmt.Errorf("marshal channel metadata: %w", err)
	}
	ch, err := s.scanChannel(s.pool.QueryRow(ctx, `
		INSERT INTO channels (phone_id, session_name, metadata)
		VALUES ($1, NULLIF($2, ''), $3)
		RETURNING id, tenant_id, phone_id, session_name, status, metadata, created_at, updated_at`,
		phoneID, strings.TrimSpace(sessionName), metaBytes))
	if err != nil {
		// Lost a race against another ingest creating the same channel.
		if dbpkg.IsUniqueViolation(err) {
			return s.getByPhoneID(ctx, phoneID)
		}
		return Channel{}, fmt.Errorf("create orphan channel: %w", err)
	}
	s.logger.Info("orphan channel created",
		slog.String("channel_id", ch.ID),
		slog.String("phone_id", phoneID),
	)
	return ch, nil
}

func (s *Service) scanChannel(row pgx.Row) (Channel, error) {
	var (
		id, tenantID         pgtype.UUID
		phoneID, sessionName pgtype.Text
		status               string
		metaBytes            []byte
		createdAt, updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &tenantID, &phoneID, &sessionName, &status, &metaBytes, &createdAt, &updatedAt); err != nil {
		return Channel{}, err
	}
	ch := Channel{
		ID:          dbpkg.UUIDToString(id),
		PhoneID:     dbpkg.TextToString(phoneID),
		SessionName: dbpkg.TextToString(sessionName),
		Status:      status,
		CreatedAt:   createdAt.Time,
		UpdatedAt:   updatedAt.Time,
	}
	if tenantID.Valid {
		ch.TenantID = dbpkg.UUIDToString(tenantID)
	}
	if len(metaBytes) > 0 {
		var meta map[string]any
		if err := json.Unmarshal(metaBytes, &meta); err == nil {
			ch.Metadata = meta
		}
	}
	return ch, nil
}
