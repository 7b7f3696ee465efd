package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/vendalink/vendalink/internal/db"
)

// Service reads tenant-scoped catalogs and contact CRM state.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a catalog service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "catalog")),
	}
}

// Load reads the tenant's active tags, active insight definitions and
// stages. An empty tenant id loads the unowned (orphan-channel) catalogs.
func (s *Service) Load(ctx context.Context, tenantID string) (Catalogs, error) {
	pgTenantID, err := optionalUUID(tenantID)
	if err != nil {
		return Catalogs{}, fmt.Errorf("invalid tenant id: %w", err)
	}

	var out Catalogs

	rows, err := s.pool.Query(ctx, `
		SELECT id, slug, name, description, apply_when
		FROM tags
		WHERE active AND tenant_id IS NOT DISTINCT FROM $1
		ORDER BY slug`, pgTenantID)
	if err != nil {
		return Catalogs{}, fmt.Errorf("load tags: %w", err)
	}
	for rows.Next() {
		var tg Tag
		if err := rows.Scan(&tg.ID, &tg.Slug, &tg.Name, &tg.Description, &tg.ApplyWhen); err != nil {
			rows.Close()
			return Catalogs{}, err
		}
		tg.TenantID = tenantID
		tg.Active = true
		out.Tags = append(out.Tags, tg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Catalogs{}, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, slug, name, description, apply_when
		FROM insight_definitions
		WHERE active AND tenant_id IS NOT DISTINCT FROM $1
		ORDER BY slug`, pgTenantID)
	if err != nil {
		return Catalogs{}, fmt.Errorf("load insight definitions: %w", err)
	}
	for rows.Next() {
		var def InsightDefinition
		if err := rows.Scan(&def.ID, &def.Slug, &def.Name, &def.Description, &def.ApplyWhen); err != nil {
			rows.Close()
			return Catalogs{}, err
		}
		def.TenantID = tenantID
		def.Active = true
		out.Insights = append(out.Insights, def)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Catalogs{}, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, slug, name, description, apply_when, position, auto_transition
		FROM stages
		WHERE tenant_id IS NOT DISTINCT FROM $1
		ORDER BY position`, pgTenantID)
	if err != nil {
		return Catalogs{}, fmt.Errorf("load stages: %w", err)
	}
	for rows.Next() {
		var st Stage
		if err := rows.Scan(&st.ID, &st.Slug, &st.Name, &st.Description, &st.ApplyWhen, &st.Position, &st.AutoTransition); err != nil {
			rows.Close()
			return Catalogs{}, err
		}
		st.TenantID = tenantID
		out.Stages = append(out.Stages, st)
	}
	rows.Close()
	return out, rows.Err()
}

// ContactState reads the contact's current stage and applied tag slugs.
func (s *Service) ContactState(ctx context.Context, contactID string) (ContactState, error) {
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return ContactState{}, fmt.Errorf("invalid contact id: %w", err)
	}

	var state ContactState
	var stageID pgtype.UUID
	var stageSlug pgtype.Text
	err = s.pool.QueryRow(ctx, `
		SELECT st.id, st.slug
		FROM opportunities o
		JOIN stages st ON st.id = o.stage_id
		WHERE o.contact_id = $1`, pgContactID).Scan(&stageID, &stageSlug)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return ContactState{}, fmt.Errorf("load contact stage: %w", err)
	}
	if stageID.Valid {
		state.StageID = dbpkg.UUIDToString(stageID)
		state.StageSlug = dbpkg.TextToString(stageSlug)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT t.slug
		FROM contact_tags ct
		JOIN tags t ON t.id = ct.tag_id
		WHERE ct.contact_id = $1
		ORDER BY t.slug`, pgContactID)
	if err != nil {
		return ContactState{}, fmt.Errorf("load contact tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return ContactState{}, err
		}
		state.TagSlugs = append(state.TagSlugs, slug)
	}
	return state, rows.Err()
}

func optionalUUID(id string) (pgtype.UUID, error) {
	if id == "" {
		return pgtype.UUID{}, nil
	}
	return dbpkg.ParseUUID(id)
}
