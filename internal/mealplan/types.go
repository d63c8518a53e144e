package mealplan

import "strings"

// Ingredient is one discrete item inside a meal. Key is the free-text
// ingredient name as produced by the model; Quantity/Unit carry the amount
// after unit normalization; State and Prep are hint fields describing the
// physical and preparation state used downstream by the pricing pipeline.
type Ingredient struct {
	Key      string  `json:"key"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	State    string  `json:"state,omitempty"`
	Prep     string  `json:"prep,omitempty"`
}

// Meal is a named sub-unit of a day plan.
type Meal struct {
	Name        string       `json:"name"`
	Ingredients []Ingredient `json:"ingredients"`
}

// DayPlan is one validated day of output. Day is 1-based.
type DayPlan struct {
	Day   int    `json:"day"`
	Meals []Meal `json:"meals"`
}

// CachePayload is the single canonical wrapped shape written to the cache.
// Reads tolerate older shapes (see internal/extract); writes always use this.
type CachePayload struct {
	Meals []Meal `json:"meals"`
}

// Targets holds the per-day numeric nutrient targets a generated day must hit.
type Targets struct {
	Calories float64 `json:"calories"`
	ProteinG float64 `json:"proteinG"`
	CarbsG   float64 `json:"carbsG"`
	FatG     float64 `json:"fatG"`
}

// Profile describes the requesting user. BodyWeightKG participates in the
// protein ratio cap embedded in the model prompt.
type Profile struct {
	UserID       string   `json:"userId"`
	BodyWeightKG float64  `json:"bodyWeightKg"`
	Diet         string   `json:"diet,omitempty"`
	Allergies    []string `json:"allergies,omitempty"`
	MealsPerDay  int      `json:"mealsPerDay,omitempty"`
}

// Request is the parsed body of one generation request.
type Request struct {
	Profile     Profile            `json:"profile"`
	Targets     Targets            `json:"targets"`
	MealTargets map[string]Targets `json:"mealTargets,omitempty"`
	Days        int                `json:"days"`
}

// NormalizeKey folds an ingredient key into the form used for de-duplication
// across days.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
