package analysis

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/vendalink/vendalink/internal/catalog"
	"github.com/vendalink/vendalink/internal/conversation"
	"github.com/vendalink/vendalink/internal/message"
	"github.com/vendalink/vendalink/internal/waba"
)

// Context is everything one analysis pass needs, loaded up front.
type Context struct {
	Conversation conversation.Conversation
	Channel      waba.Channel
	Messages     []message.Message
	Catalogs     catalog.Catalogs
	State        catalog.ContactState
	// Unprocessed counts messages still flagged requires_processing.
	Unprocessed int
}

// modelOutput mirrors the JSON object the completion endpoint is asked for.
// Every field is optional; anything missing or malformed degrades to a no-op
// rather than an error.
type modelOutput struct {
	Summary  string                   `json:"summary"`
	Tags     []string                 `json:"tags"`
	Insights map[string]insightOutput `json:"insights"`
	Stage    *stageOutput             `json:"stage"`
}

type insightOutput struct {
	Payload    any      `json:"payload"`
	Confidence *float64 `json:"confidence"`
	ExpiresAt  string   `json:"expiresAt"`
}

type stageOutput struct {
	Slug       *string  `json:"slug"`
	Confidence *float64 `json:"confidence"`
}

// InsightApplication is one validated insight ready to be written.
type InsightApplication struct {
	Definition catalog.InsightDefinition
	Payload    any
	Confidence float64
	ExpiresAt  *time.Time
}

// StageSuggestion is a validated stage proposal; whether it is applied,
// surfaced or dropped depends on confidence and the stage's flags.
type StageSuggestion struct {
	Stage      catalog.Stage
	Confidence float64
}

// Result is the catalog-validated outcome of one completion call.
type Result struct {
	Summary  string
	Tags     []catalog.Tag
	Insights []InsightApplication
	Stage    *StageSuggestion
}

// parseOutput decodes the endpoint's JSON content. The second return is
// false when the shape is unusable.
func parseOutput(content string) (modelOutput, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return modelOutput{}, false
	}
	var out modelOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return modelOutput{}, false
	}
	return out, true
}

func clampConfidence(c *float64) float64 {
	if c == nil {
		return 0
	}
	switch {
	case *c < 0:
		return 0
	case *c > 1:
		return 1
	}
	return *c
}

// validateOutput filters the model's answer against the tenant catalogs.
// Unknown tag and insight slugs are dropped silently; an unknown stage slug
// invalidates the stage suggestion entirely.
func validateOutput(out modelOutput, cats catalog.Catalogs) Result {
	res := Result{Summary: strings.TrimSpace(out.Summary)}

	for _, slug := range out.Tags {
		if tg, ok := cats.TagBySlug(strings.TrimSpace(slug)); ok {
			res.Tags = append(res.Tags, tg)
		}
	}

	for slug, ins := range out.Insights {
		def, ok := cats.InsightBySlug(strings.TrimSpace(slug))
		if !ok {
			continue
		}
		app := InsightApplication{
			Definition: def,
			Payload:    ins.Payload,
			Confidence: clampConfidence(ins.Confidence),
		}
		if ins.ExpiresAt != "" {
			if ts, err := time.Parse(time.RFC3339, ins.ExpiresAt); err == nil {
				app.ExpiresAt = &ts
			}
		}
		res.Insights = append(res.Insights, app)
	}

	if out.Stage != nil && out.Stage.Slug != nil {
		if st, ok := cats.StageBySlug(strings.TrimSpace(*out.Stage.Slug)); ok {
			res.Stage = &StageSuggestion{
				Stage:      st,
				Confidence: clampConfidence(out.Stage.Confidence),
			}
		}
	}
	return res
}
