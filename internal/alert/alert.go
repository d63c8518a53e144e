// Package alert evaluates metric thresholds and emits rate-limited
// structured alerts to registered notification hooks.
package alert

import (
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelCritical Level = "critical"
	LevelWarning  Level = "warning"
	LevelInfo     Level = "info"
)

// Alert is one emitted alert. Alerts are ephemeral: they live in the
// engine's bounded buffer and in whatever the hooks do with them.
type Alert struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Metric    string         `json:"metric"`
	Category  string         `json:"category"`
	Context   map[string]any `json:"context,omitempty"`
}

func newAlert(level Level, metric, category string, ctxFields map[string]any, now time.Time) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Timestamp: now,
		Level:     level,
		Metric:    metric,
		Category:  category,
		Context:   ctxFields,
	}
}

// Range bounds a metric; a value outside [Low, High] is a breach.
type Range struct {
	Low  float64
	High float64
}

func (r Range) outside(v float64) bool { return v < r.Low || v > r.High }

// Threshold maps one metric to its numeric boundaries. Absolute ("exceeds")
// bounds take priority over ranges, critical over warning.
type Threshold struct {
	CriticalAbove *float64
	WarningAbove  *float64
	CriticalRange *Range
	WarningRange  *Range
}

func ptr(v float64) *float64 { return &v }

// Metric categories.
const (
	CategoryNutrition       = "nutrition"
	CategoryStateResolution = "state-resolution"
	CategoryValidation      = "validation"
	CategoryReconciliation  = "reconciliation"
	CategoryMarketRun       = "market-run"
	CategoryModel           = "model"
	CategorySystem          = "system"
	CategoryInvariants      = "invariants"
	CategoryIngestion       = "ingestion"
)

// DefaultCategories is the static metric-to-category map. Unknown metrics
// fall back to system.
func DefaultCategories() map[string]string {
	return map[string]string{
		"plan.failed_day_ratio":      CategoryModel,
		"plan.aggregate_failure":     CategorySystem,
		"model.retry_exhausted":      CategoryModel,
		"model.fallback_used":        CategoryModel,
		"cache.read_errors":          CategoryStateResolution,
		"extract.invalid_payloads":   CategoryValidation,
		"nutrition.protein_ratio":    CategoryNutrition,
		"pipeline.execution_failure": CategoryReconciliation,
		"ingredient.unmatched":       CategoryIngestion,
		"invariant.violations":       CategoryInvariants,
		"market.price_staleness":     CategoryMarketRun,
	}
}

// DefaultThresholds covers the metrics the orchestrator reports.
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		"plan.failed_day_ratio":      {WarningAbove: ptr(0.25), CriticalAbove: ptr(0.5)},
		"plan.aggregate_failure":     {CriticalAbove: ptr(0)},
		"model.retry_exhausted":      {WarningAbove: ptr(0)},
		"cache.read_errors":          {WarningAbove: ptr(3)},
		"extract.invalid_payloads":   {WarningAbove: ptr(2), CriticalAbove: ptr(5)},
		"nutrition.protein_ratio":    {WarningRange: &Range{Low: 0.8, High: 1.2}, CriticalRange: &Range{Low: 0.5, High: 1.5}},
		"pipeline.execution_failure": {WarningAbove: ptr(0), CriticalAbove: ptr(2)},
		"invariant.violations":       {CriticalAbove: ptr(0)},
	}
}
