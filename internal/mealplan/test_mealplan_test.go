package mealplan

import (
	"regexp"
	"strings"
	"testing"
)

var cacheKeyPattern = regexp.MustCompile(`^cheffy:v3:meals:day(\d+):[0-9a-f]{16}$`)

func TestCacheKeyLayout(t *testing.T) {
	profile := Profile{UserID: "u-1", BodyWeightKG: 80}
	targets := Targets{Calories: 2400, ProteinG: 180}

	key := CacheKey(profile, targets, nil, 3)
	if !cacheKeyPattern.MatchString(key) {
		t.Fatalf("key %q does not match the agreed layout", key)
	}
	if !strings.Contains(key, ":day3:") {
		t.Fatalf("key %q missing the day segment", key)
	}
}

func TestCacheKeyDeterministicAndSensitive(t *testing.T) {
	profile := Profile{UserID: "u-1", BodyWeightKG: 80}
	targets := Targets{Calories: 2400, ProteinG: 180}

	a := CacheKey(profile, targets, nil, 1)
	b := CacheKey(profile, targets, nil, 1)
	if a != b {
		t.Fatalf("same inputs produced different keys: %q vs %q", a, b)
	}

	if CacheKey(profile, targets, nil, 2) == a {
		t.Fatal("day index does not participate in the key")
	}

	targets.Calories = 2500
	if CacheKey(profile, targets, nil, 1) == a {
		t.Fatal("target change does not change the key")
	}

	mt := map[string]Targets{"breakfast": {Calories: 500}}
	if CacheKey(Profile{UserID: "u-1", BodyWeightKG: 80}, Targets{Calories: 2400, ProteinG: 180}, mt, 1) == a {
		t.Fatal("per-meal targets do not participate in the key")
	}
}

func TestDayPromptClampsProtein(t *testing.T) {
	profile := Profile{BodyWeightKG: 50}
	targets := Targets{Calories: 2000, ProteinG: 400}

	prompt := DayPrompt(profile, targets, nil, 1)
	if strings.Contains(prompt, "400.0 g protein") {
		t.Fatal("protein target not clamped to the per-kg cap")
	}
	if !strings.Contains(prompt, "150.0 g protein") {
		t.Fatalf("expected clamped protein 150.0 in prompt:\n%s", prompt)
	}
}

func TestDayPromptContents(t *testing.T) {
	profile := Profile{Diet: "vegetarian", Allergies: []string{"peanut", "shellfish"}, MealsPerDay: 4}
	targets := Targets{Calories: 1800, ProteinG: 120}

	prompt := DayPrompt(profile, targets, nil, 2)
	for _, want := range []string{
		"day 2 of a meal plan",
		"Produce exactly 4 meals",
		"vegetarian",
		"peanut, shellfish",
		`{"meals":[`,
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"  Chicken Breast ": "chicken breast",
		"OATS":              "oats",
		"":                  "",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDayPromptDeterministicMealTargetOrder(t *testing.T) {
	mt := map[string]Targets{
		"dinner":    {Calories: 700, ProteinG: 50},
		"breakfast": {Calories: 500, ProteinG: 40},
		"lunch":     {Calories: 600, ProteinG: 45},
	}
	targets := Targets{Calories: 1800, ProteinG: 135}

	first := DayPrompt(Profile{}, targets, mt, 1)
	for i := 0; i < 20; i++ {
		if got := DayPrompt(Profile{}, targets, mt, 1); got != first {
			t.Fatal("identical input produced different prompt text")
		}
	}

	bIdx := strings.Index(first, `Meal "breakfast"`)
	dIdx := strings.Index(first, `Meal "dinner"`)
	lIdx := strings.Index(first, `Meal "lunch"`)
	if bIdx == -1 || dIdx == -1 || lIdx == -1 {
		t.Fatalf("meal target lines missing:\n%s", first)
	}
	if !(bIdx < dIdx && dIdx < lIdx) {
		t.Fatalf("meal targets not in sorted order: %d %d %d", bIdx, dIdx, lIdx)
	}
}
