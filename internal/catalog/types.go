package catalog

import "time"

// Tag is a tenant-scoped label the analysis step may apply to contacts.
type Tag struct {
	ID          string
	TenantID    string
	Slug        string
	Name        string
	Description string
	// ApplyWhen is the per-item guidance surfaced to the model.
	ApplyWhen string
	Active    bool
}

// InsightDefinition describes one structured fact the analysis may extract.
type InsightDefinition struct {
	ID          string
	TenantID    string
	Slug        string
	Name        string
	Description string
	ApplyWhen   string
	Active      bool
}

// Stage is one step of the tenant's sales pipeline.
type Stage struct {
	ID          string
	TenantID    string
	Slug        string
	Name        string
	Description string
	ApplyWhen   string
	Position    int
	// AutoTransition marks the stage as eligible for silent model-driven
	// transitions (still gated by confidence).
	AutoTransition bool
}

// Catalogs bundles everything the analysis prompt needs from the tenant.
type Catalogs struct {
	Tags     []Tag
	Insights []InsightDefinition
	Stages   []Stage
}

// StageBySlug returns the stage with the given slug, if any.
func (c Catalogs) StageBySlug(slug string) (Stage, bool) {
	for _, st := range c.Stages {
		if st.Slug == slug {
			return st, true
		}
	}
	return Stage{}, false
}

// TagBySlug returns the active tag with the given slug, if any.
func (c Catalogs) TagBySlug(slug string) (Tag, bool) {
	for _, tg := range c.Tags {
		if tg.Slug == slug {
			return tg, true
		}
	}
	return Tag{}, false
}

// InsightBySlug returns the active insight definition with the given slug.
func (c Catalogs) InsightBySlug(slug string) (InsightDefinition, bool) {
	for _, def := range c.Insights {
		if def.Slug == slug {
			return def, true
		}
	}
	return InsightDefinition{}, false
}

// ContactState is the contact's current CRM standing read before analysis.
type ContactState struct {
	StageID   string
	StageSlug string
	TagSlugs  []string
}

// ContactInsight is one applied insight row.
type ContactInsight struct {
	ID           string
	ContactID    string
	DefinitionID string
	Payload      map[string]any
	Confidence   float64
	ExpiresAt    time.Time
}
