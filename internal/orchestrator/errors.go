package orchestrator

import (
	"errors"
	"fmt"

	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/llm"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/stream"
)

// DayGenerationError is the typed per-day failure. It carries the wire-level
// error code so day:error payloads and failure details stay consistent.
type DayGenerationError struct {
	Day  int
	Code string
	Err  error
}

func (e *DayGenerationError) Error() string {
	return fmt.Sprintf("day %d: %s: %v", e.Day, e.Code, e.Err)
}

func (e *DayGenerationError) Unwrap() error { return e.Err }

// PipelineError is the run-level fatal error produced when the whole run
// cannot deliver any output.
type PipelineError struct {
	Code string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("run failed: %s: %v", e.Code, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// classifyDayError maps an arbitrary per-day failure onto the error code
// catalogue.
func classifyDayError(err error) string {
	var dayErr *DayGenerationError
	if errors.As(err, &dayErr) && dayErr.Code != "" {
		return dayErr.Code
	}
	if errors.Is(err, llm.ErrInvalidJSON) {
		return stream.CodeModelValidationFailed
	}
	return stream.CodeDayGenerationFailed
}
