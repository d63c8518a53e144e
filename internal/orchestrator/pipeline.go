package orchestrator

import (
	"context"

	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/mealplan"
)

// Pipeline is the external collaborator that turns a validated day plan
// into priced, quantity-resolved, macro-validated output. Its internals are
// out of this core's scope.
type Pipeline interface {
	Execute(ctx context.Context, day mealplan.DayPlan, targets mealplan.Targets) (PipelineResult, error)
}

// PipelineResult is the per-day outcome the orchestrator aggregates and
// streams ingredient events from.
type PipelineResult struct {
	Matched   []string       `json:"matched,omitempty"`
	Unmatched []string       `json:"unmatched,omitempty"`
	Flagged   []string       `json:"flagged,omitempty"`
	Stats     map[string]any `json:"stats,omitempty"`
}

// PassthroughPipeline marks every ingredient as matched without pricing or
// macro validation. Used when no real pipeline backend is configured.
type PassthroughPipeline struct{}

func (PassthroughPipeline) Execute(_ context.Context, day mealplan.DayPlan, _ mealplan.Targets) (PipelineResult, error) {
	var matched []string
	for _, meal := range day.Meals {
		for _, ing := range meal.Ingredients {
			matched = append(matched, ing.Key)
		}
	}
	return PipelineResult{Matched: matched}, nil
}
