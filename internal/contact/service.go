package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/vendalink/vendalink/internal/db"
)

// ErrMissingIdentifier is returned when a raw identifier normalizes to
// nothing. Callers treat it as a skip condition, not a failure.
var ErrMissingIdentifier = errors.New("missing identifier")

// Service resolves raw WhatsApp-style identifiers to stable contacts.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a contact service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "contact")),
	}
}

// NormalizeIdentifier strips everything from the first "@" onward and trims
// whitespace. An empty result means the identifier is unusable.
func NormalizeIdentifier(raw string) string {
	raw = strings.TrimSpace(raw)
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	return strings.TrimSpace(raw)
}

// Resolve maps a raw identifier to a contact, creating contact and identity
// rows when the identifier has never been seen.
func (s *Service) Resolve(ctx context.Context, rawIdentifier string) (Resolution, error) {
	token := NormalizeIdentifier(rawIdentifier)
	if token == "" {
		return Resolution{}, ErrMissingIdentifier
	}

	res, err := s.lookup(ctx, token)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Resolution{}, fmt.Errorf("lookup identity: %w", err)
	}

	res, err = s.create(ctx, token)
	if err == nil {
		return res, nil
	}
	// A concurrent ingest may have created the same identity between the
	// lookup and the insert; the unique constraint decides the winner.
	if dbpkg.IsUniqueViolation(err) {
		res, err = s.lookup(ctx, token)
		if err != nil {
			return Resolution{}, fmt.Errorf("lookup identity after conflict: %w", err)
		}
		return res, nil
	}
	return Resolution{}, fmt.Errorf("create contact identity: %w", err)
}

func (s *Service) lookup(ctx context.Context, token string) (Resolution, error) {
	var (
		res      Resolution
		tenantID pgtype.UUID
		name     pgtype.Text
	)
	row := s.pool.QueryRow(ctx, `
		SELECT i.id, i.contact_id, i.type, i.value, i.created_at,
		       c.tenant_id, c.name, c.created_at, c.updated_at
		FROM identities i
		JOIN contacts c ON c.id = i.contact_id
		WHERE i.type = $1 AND i.value = $2`,
		IdentityTypeWhatsApp, token)

	var (
		identityID, contactID  pgtype.UUID
		identityCreated        pgtype.Timestamptz
		contactCreated         pgtype.Timestamptz
		contactUpdated         pgtype.Timestamptz
		identityType, identity string
	)
	if err := row.Scan(&identityID, &contactID, &identityType, &identity, &identityCreated,
		&tenantID, &name, &contactCreated, &contactUpdated); err != nil {
		return Resolution{}, err
	}
	res.Identity = Identity{
		ID:        dbpkg.UUIDToString(identityID),
		ContactID: dbpkg.UUIDToString(contactID),
		Type:      identityType,
		Value:     identity,
		CreatedAt: identityCreated.Time,
	}
	res.Contact = Contact{
		ID:        dbpkg.UUIDToString(contactID),
		TenantID:  dbpkg.UUIDToString(tenantID),
		Name:      dbpkg.TextToString(name),
		CreatedAt: contactCreated.Time,
		UpdatedAt: contactUpdated.Time,
	}
	return res, nil
}

// create inserts the contact and its identity in one transaction so a
// half-resolved identifier can never exist.
func (s *Service) create(ctx context.Context, token string) (Resolution, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Resolution{}, err
	}
	defer tx.Rollback(ctx)

	var (
		contactID pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	if err := tx.QueryRow(ctx, `
		INSERT INTO contacts DEFAULT VALUES
		RETURNING id, created_at`).Scan(&contactID, &createdAt); err != nil {
		return Resolution{}, err
	}

	var identityID pgtype.UUID
	if err := tx.QueryRow(ctx, `
		INSERT INTO identities (contact_id, type, value)
		VALUES ($1, $2, $3)
		RETURNING id`,
		contactID, IdentityTypeWhatsApp, token).Scan(&identityID); err != nil {
		return Resolution{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Resolution{}, err
	}

	s.logger.Info("contact created",
		slog.String("contact_id", dbpkg.UUIDToString(contactID)),
		slog.String("identity", token),
	)
	return Resolution{
		Contact: Contact{
			ID:        dbpkg.UUIDToString(contactID),
			CreatedAt: createdAt.Time,
			UpdatedAt: createdAt.Time,
		},
		Identity: Identity{
			ID:        dbpkg.UUIDToString(identityID),
			ContactID: dbpkg.UUIDToString(contactID),
			Type:      IdentityTypeWhatsApp,
			Value:     token,
			CreatedAt: createdAt.Time,
		},
		Created: true,
	}, nil
}
