package mealplan

import (
	"fmt"
	"sort"
	"strings"
)

// MaxProteinPerKG caps the protein target embedded in a day prompt relative
// to body weight. Targets above the cap are clamped, not rejected.
const MaxProteinPerKG = 3.0

// DayPrompt builds the system prompt for generating a single day. The prompt
// pins the output contract to the canonical wrapped shape so that model
// output and cache reads stay symmetric.
func DayPrompt(profile Profile, targets Targets, mealTargets map[string]Targets, day int) string {
	protein := targets.ProteinG
	if profile.BodyWeightKG > 0 {
		if cap := profile.BodyWeightKG * MaxProteinPerKG; protein > cap {
			protein = cap
		}
	}
	mealsPerDay := profile.MealsPerDay
	if mealsPerDay <= 0 {
		mealsPerDay = 3
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a meal planning engine. Generate day %d of a meal plan as JSON.\n\n", day)
	fmt.Fprintf(&b, "Daily targets: %.0f kcal, %.1f g protein, %.1f g carbs, %.1f g fat.\n",
		targets.Calories, protein, targets.CarbsG, targets.FatG)
	fmt.Fprintf(&b, "Produce exactly %d meals.\n", mealsPerDay)
	if profile.Diet != "" {
		fmt.Fprintf(&b, "Dietary pattern: %s.\n", profile.Diet)
	}
	if len(profile.Allergies) > 0 {
		fmt.Fprintf(&b, "Never include: %s.\n", strings.Join(profile.Allergies, ", "))
	}
	names := make([]string, 0, len(mealTargets))
	for name := range mealTargets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := mealTargets[name]
		fmt.Fprintf(&b, "Meal %q should land near %.0f kcal and %.1f g protein.\n", name, t.Calories, t.ProteinG)
	}
	b.WriteString("\nUnits: quantities must use g for solids, ml for liquids, or unit for countable items.\n")
	b.WriteString("Every ingredient needs key, quantity, unit, and a state hint (raw, cooked, canned, frozen).\n")
	b.WriteString(`Respond with a single JSON object: {"meals":[{"name":"...","ingredients":[{"key":"...","quantity":0,"unit":"g","state":"raw"}]}]}` + "\n")
	b.WriteString("No prose, no markdown fences, JSON only.\n")
	return b.String()
}
