// Package extract normalizes arbitrary cached or model-returned payloads
// into a validated meal list. The same function runs on cache reads and on
// raw model output so that any shape accepted from the model is guaranteed
// re-extractable from the cache later.
package extract

import (
	"encoding/json"
	"log"

	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/mealplan"
)

// Reason is a stable rejection code. Codes are part of the operator-facing
// contract; tests assert on them.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonCacheMiss         Reason = "cache_miss"
	ReasonInvalidType       Reason = "invalid_type"
	ReasonMealsEmpty        Reason = "meals_empty"
	ReasonArrayMissingItems Reason = "array_missing_items"
	ReasonObjectNoMeals     Reason = "object_no_meals"
)

// Provenance records which recognized shape the meal list was resolved from.
type Provenance string

const (
	ProvenanceNone          Provenance = ""
	ProvenanceBareArray     Provenance = "bare_array"
	ProvenanceWrapped       Provenance = "wrapped"
	ProvenanceDoubleWrapped Provenance = "double_wrapped"
)

// Result is the sum-type outcome of one extraction. When Valid is false,
// Reason is always set and Meals is nil. MalformedMeals lists 0-based
// indexes past the first meal whose ingredients field is not an array;
// validity is gated on the first meal only (cheap-check policy), later
// malformed meals are surfaced as warnings by the caller.
type Result struct {
	Valid          bool
	Meals          []mealplan.Meal
	Reason         Reason
	Provenance     Provenance
	MalformedMeals []int
}

// wrapper field names accepted on reads. Writes always use "meals".
var wrapperKeys = []string{"meals", "mealPlan"}

// Extract never panics and never mutates its input. logger may be nil.
func Extract(v any, logger *log.Logger) Result {
	res := extract(v)
	if logger != nil {
		logger.Printf("extract: valid=%t provenance=%s reason=%s meals=%d",
			res.Valid, res.Provenance, res.Reason, len(res.Meals))
	}
	return res
}

// ExtractRaw decodes JSON bytes and extracts. Empty or undecodable input is
// reported as a miss or type rejection, never as an error.
func ExtractRaw(raw []byte, logger *log.Logger) Result {
	if len(raw) == 0 {
		res := Result{Reason: ReasonCacheMiss}
		if logger != nil {
			logger.Printf("extract: valid=false provenance= reason=%s meals=0", res.Reason)
		}
		return res
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		res := Result{Reason: ReasonInvalidType}
		if logger != nil {
			logger.Printf("extract: valid=false provenance= reason=%s meals=0", res.Reason)
		}
		return res
	}
	return Extract(v, logger)
}

func extract(v any) Result {
	if v == nil {
		return Result{Reason: ReasonCacheMiss}
	}

	list, prov, reason := resolveList(v)
	if reason != ReasonNone {
		return Result{Reason: reason, Provenance: prov}
	}
	if len(list) == 0 {
		return Result{Reason: ReasonMealsEmpty, Provenance: prov}
	}

	first, ok := list[0].(map[string]any)
	if !ok {
		return Result{Reason: ReasonArrayMissingItems, Provenance: prov}
	}
	if _, ok := first["ingredients"].([]any); !ok {
		return Result{Reason: ReasonArrayMissingItems, Provenance: prov}
	}

	meals := make([]mealplan.Meal, 0, len(list))
	var malformed []int
	for i, el := range list {
		meal, ok := convertMeal(el)
		if !ok {
			if i == 0 {
				return Result{Reason: ReasonInvalidType, Provenance: prov}
			}
			malformed = append(malformed, i)
			meal = salvageMeal(el)
		}
		meals = append(meals, meal)
	}
	return Result{Valid: true, Meals: meals, Provenance: prov, MalformedMeals: malformed}
}

// resolveList finds the candidate meal array inside v, unwrapping at most
// two levels of object nesting.
func resolveList(v any) ([]any, Provenance, Reason) {
	switch x := v.(type) {
	case []any:
		return x, ProvenanceBareArray, ReasonNone
	case map[string]any:
		inner, ok := wrappedValue(x)
		if !ok {
			return nil, ProvenanceNone, ReasonObjectNoMeals
		}
		switch y := inner.(type) {
		case []any:
			return y, ProvenanceWrapped, ReasonNone
		case map[string]any:
			deeper, ok := wrappedValue(y)
			if !ok {
				return nil, ProvenanceNone, ReasonObjectNoMeals
			}
			if list, ok := deeper.([]any); ok {
				return list, ProvenanceDoubleWrapped, ReasonNone
			}
			return nil, ProvenanceNone, ReasonObjectNoMeals
		default:
			return nil, ProvenanceNone, ReasonObjectNoMeals
		}
	default:
		return nil, ProvenanceNone, ReasonInvalidType
	}
}

func wrappedValue(m map[string]any) (any, bool) {
	for _, k := range wrapperKeys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func convertMeal(el any) (mealplan.Meal, bool) {
	raw, err := json.Marshal(el)
	if err != nil {
		return mealplan.Meal{}, false
	}
	var meal mealplan.Meal
	if err := json.Unmarshal(raw, &meal); err != nil {
		return mealplan.Meal{}, false
	}
	return meal, true
}

// salvageMeal keeps a malformed later meal in the plan with whatever name it
// carried and no ingredients, so day indices stay stable for warnings.
func salvageMeal(el any) mealplan.Meal {
	m, ok := el.(map[string]any)
	if !ok {
		return mealplan.Meal{}
	}
	name, _ := m["name"].(string)
	return mealplan.Meal{Name: name}
}

// Canonicalize wraps a validated meal list into the single agreed cache
// shape. Write-through always uses this regardless of what shape was read.
func Canonicalize(meals []mealplan.Meal) mealplan.CachePayload {
	return mealplan.CachePayload{Meals: meals}
}
