package analysis

import "github.com/vendalink/vendalink/internal/catalog"

// Confidence thresholds are deliberately asymmetric: silently moving a
// contact through the pipeline demands materially more confidence than
// surfacing a hint for a human to act on.
const (
	autoTransitionConfidence = 0.60
	stageHintConfidence      = 0.40
)

type stageAction int

const (
	stageActionNone stageAction = iota
	stageActionHint
	stageActionApply
)

// decideStage classifies a validated stage suggestion against the contact's
// current stage: apply (auto-transition), surface as a hint, or discard.
func decideStage(current catalog.ContactState, suggestion *StageSuggestion) stageAction {
	if suggestion == nil || suggestion.Stage.ID == current.StageID {
		return stageActionNone
	}
	if suggestion.Stage.AutoTransition && suggestion.Confidence >= autoTransitionConfidence {
		return stageActionApply
	}
	if suggestion.Confidence >= stageHintConfidence {
		return stageActionHint
	}
	return stageActionNone
}
