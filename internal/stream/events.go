// Package stream defines the outbound event vocabulary and the emitter that
// writes it over a live SSE connection.
package stream

// Event type catalogue. plan:complete and plan:error are the only terminal
// types; everything else is repeatable progress information.
const (
	EventPhaseStart = "phase:start"
	EventPhaseEnd   = "phase:end"
	EventPhaseError = "phase:error"

	EventDayStart    = "day:start"
	EventDayComplete = "day:complete"
	EventDayError    = "day:error"

	EventIngredientFound   = "ingredient:found"
	EventIngredientFailed  = "ingredient:failed"
	EventIngredientFlagged = "ingredient:flagged"

	EventInvariantWarning   = "invariant:warning"
	EventInvariantViolation = "invariant:violation"

	EventValidationWarning = "validation:warning"
	EventValidationFailed  = "validation:failed"

	EventLogMessage = "log_message"

	EventPlanComplete = "plan:complete"
	EventPlanError    = "plan:error"
)

// IsTerminal reports whether eventType ends the stream.
func IsTerminal(eventType string) bool {
	return eventType == EventPlanComplete || eventType == EventPlanError
}

// Error codes carried in day:error and terminal plan:error payloads.
const (
	CodeInvariantViolation      = "invariant_violation"
	CodeValidationFailed        = "validation_failed"
	CodeModelValidationFailed   = "model_validation_failed"
	CodeModelRetryExhausted     = "model_retry_exhausted"
	CodeModelPrimaryFailed      = "model_primary_failed"
	CodeModelFallbackFailed     = "model_fallback_failed"
	CodePipelineExecutionFailed = "pipeline_execution_failed"
	CodeDayGenerationFailed     = "day_generation_failed"
	CodeNutritionLookupFailed   = "nutrition_lookup_failed"
	CodeUnknownError            = "unknown_error"
	CodeHandlerCrashed          = "handler_crashed"
	CodeStreamTerminated        = "stream_terminated"
)

// Event is one materialized stream event, as also seen by watch
// subscribers. Payload already includes the merged correlation metadata.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}
