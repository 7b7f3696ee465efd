package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendalink/vendalink/internal/catalog"
)

func testCatalogs() catalog.Catalogs {
	return catalog.Catalogs{
		Tags: []catalog.Tag{
			{ID: "tag-hot", Slug: "hot-lead"},
			{ID: "tag-support", Slug: "support"},
		},
		Insights: []catalog.InsightDefinition{
			{ID: "ins-budget", Slug: "budget"},
		},
		Stages: []catalog.Stage{
			{ID: "stage-new", Slug: "new", Position: 0},
			{ID: "stage-nego", Slug: "negotiation", Position: 1, AutoTransition: true},
			{ID: "stage-manual", Slug: "closed", Position: 2},
		},
	}
}

func TestDecideStage(t *testing.T) {
	t.Parallel()

	cats := testCatalogs()
	auto, _ := cats.StageBySlug("negotiation")
	manual, _ := cats.StageBySlug("closed")
	current := catalog.ContactState{StageID: "stage-new", StageSlug: "new"}

	tests := []struct {
		name       string
		suggestion *StageSuggestion
		want       stageAction
	}{
		{"nil suggestion", nil, stageActionNone},
		{"same stage", &StageSuggestion{Stage: catalog.Stage{ID: "stage-new"}, Confidence: 0.99}, stageActionNone},
		{"auto at threshold", &StageSuggestion{Stage: auto, Confidence: 0.60}, stageActionApply},
		{"auto just below threshold", &StageSuggestion{Stage: auto, Confidence: 0.59}, stageActionHint},
		{"auto at hint floor", &StageSuggestion{Stage: auto, Confidence: 0.40}, stageActionHint},
		{"auto below hint floor", &StageSuggestion{Stage: auto, Confidence: 0.39}, stageActionNone},
		{"manual stage never auto-applies", &StageSuggestion{Stage: manual, Confidence: 0.95}, stageActionHint},
		{"manual below hint floor", &StageSuggestion{Stage: manual, Confidence: 0.30}, stageActionNone},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, decideStage(current, tt.suggestion))
		})
	}
}

func TestValidateOutputDropsUnknownSlugs(t *testing.T) {
	t.Parallel()

	conf := 0.8
	out := modelOutput{
		Summary: "  cliente quer comprar  ",
		Tags:    []string{"hot-lead", "made-up-tag"},
		Insights: map[string]insightOutput{
			"budget":  {Payload: map[string]any{"value": 500}, Confidence: &conf},
			"unknown": {Payload: "x", Confidence: &conf},
		},
		Stage: &stageOutput{Slug: strPtr("negotiation"), Confidence: &conf},
	}

	res := validateOutput(out, testCatalogs())

	assert.Equal(t, "cliente quer comprar", res.Summary)
	require.Len(t, res.Tags, 1)
	assert.Equal(t, "hot-lead", res.Tags[0].Slug)
	require.Len(t, res.Insights, 1)
	assert.Equal(t, "budget", res.Insights[0].Definition.Slug)
	assert.Equal(t, 0.8, res.Insights[0].Confidence)
	require.NotNil(t, res.Stage)
	assert.Equal(t, "negotiation", res.Stage.Stage.Slug)
}

func TestValidateOutputUnknownStageInvalidatesSuggestion(t *testing.T) {
	t.Parallel()

	conf := 0.9
	out := modelOutput{Stage: &stageOutput{Slug: strPtr("imaginary"), Confidence: &conf}}
	res := validateOutput(out, testCatalogs())
	assert.Nil(t, res.Stage)
}

func TestValidateOutputClampsConfidence(t *testing.T) {
	t.Parallel()

	high := 1.7
	low := -0.3
	out := modelOutput{
		Insights: map[string]insightOutput{
			"budget": {Payload: "r$500", Confidence: &high},
		},
		Stage: &stageOutput{Slug: strPtr("negotiation"), Confidence: &low},
	}

	res := validateOutput(out, testCatalogs())

	require.Len(t, res.Insights, 1)
	assert.Equal(t, 1.0, res.Insights[0].Confidence)
	require.NotNil(t, res.Stage)
	assert.Equal(t, 0.0, res.Stage.Confidence)
}

func TestValidateOutputMissingConfidenceDefaultsToZero(t *testing.T) {
	t.Parallel()

	out := modelOutput{Stage: &stageOutput{Slug: strPtr("negotiation")}}
	res := validateOutput(out, testCatalogs())
	require.NotNil(t, res.Stage)
	assert.Equal(t, 0.0, res.Stage.Confidence)
}

func TestParseOutput(t *testing.T) {
	t.Parallel()

	out, ok := parseOutput(`{"summary":"ok","tags":["hot-lead"],"insights":{},"stage":{"slug":null}}`)
	require.True(t, ok)
	assert.Equal(t, "ok", out.Summary)
	assert.Equal(t, []string{"hot-lead"}, out.Tags)
	require.NotNil(t, out.Stage)
	assert.Nil(t, out.Stage.Slug)

	_, ok = parseOutput("not json at all")
	assert.False(t, ok)
	_, ok = parseOutput("")
	assert.False(t, ok)
}

func TestValidateOutputExpiry(t *testing.T) {
	t.Parallel()

	conf := 0.5
	out := modelOutput{
		Insights: map[string]insightOutput{
			"budget": {Payload: "x", Confidence: &conf, ExpiresAt: "2026-12-01T00:00:00Z"},
		},
	}
	res := validateOutput(out, testCatalogs())
	require.Len(t, res.Insights, 1)
	require.NotNil(t, res.Insights[0].ExpiresAt)
	assert.Equal(t, 2026, res.Insights[0].ExpiresAt.Year())

	out.Insights["budget"] = insightOutput{Payload: "x", ExpiresAt: "amanhã"}
	res = validateOutput(out, testCatalogs())
	require.Len(t, res.Insights, 1)
	assert.Nil(t, res.Insights[0].ExpiresAt)
}

func strPtr(s string) *string { return &s }
