package extract

import (
	"encoding/json"
	"testing"
)

func mustAny(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("bad fixture %q: %v", raw, err)
	}
	return v
}

const mealJSON = `{"name":"Breakfast","ingredients":[{"key":"Oats","quantity":80,"unit":"g","state":"raw"}]}`

func TestExtractRecognizedShapes(t *testing.T) {
	cases := map[string]string{
		"bare array":     `[` + mealJSON + `]`,
		"wrapped meals":  `{"meals":[` + mealJSON + `]}`,
		"wrapped alt":    `{"mealPlan":[` + mealJSON + `]}`,
		"double wrapped": `{"meals":{"meals":[` + mealJSON + `]}}`,
		"day envelope":   `{"dayNumber":2,"meals":[` + mealJSON + `]}`,
	}
	for name, raw := range cases {
		res := Extract(mustAny(t, raw), nil)
		if !res.Valid {
			t.Fatalf("%s: expected valid, got reason %q", name, res.Reason)
		}
		if len(res.Meals) != 1 {
			t.Fatalf("%s: expected 1 meal, got %d", name, len(res.Meals))
		}
		if res.Meals[0].Name != "Breakfast" {
			t.Fatalf("%s: unexpected meal name %q", name, res.Meals[0].Name)
		}
		if len(res.Meals[0].Ingredients) != 1 || res.Meals[0].Ingredients[0].Key != "Oats" {
			t.Fatalf("%s: ingredient list not preserved: %+v", name, res.Meals[0].Ingredients)
		}
	}
}

func TestExtractSameCanonicalListAcrossShapes(t *testing.T) {
	bare := Extract(mustAny(t, `[`+mealJSON+`]`), nil)
	wrapped := Extract(mustAny(t, `{"meals":[`+mealJSON+`]}`), nil)
	a, _ := json.Marshal(bare.Meals)
	b, _ := json.Marshal(wrapped.Meals)
	if string(a) != string(b) {
		t.Fatalf("shapes resolved to different lists:\n%s\n%s", a, b)
	}
}

func TestExtractRejections(t *testing.T) {
	cases := []struct {
		name   string
		value  any
		reason Reason
	}{
		{"nil value", nil, ReasonCacheMiss},
		{"empty object", mustAny(t, `{}`), ReasonObjectNoMeals},
		{"empty list", mustAny(t, `[]`), ReasonMealsEmpty},
		{"wrapped empty list", mustAny(t, `{"meals":[]}`), ReasonMealsEmpty},
		{"list of non-objects", mustAny(t, `[1,2,3]`), ReasonArrayMissingItems},
		{"first meal lacks ingredients", mustAny(t, `[{"name":"Lunch"}]`), ReasonArrayMissingItems},
		{"ingredients not an array", mustAny(t, `[{"name":"Lunch","ingredients":"none"}]`), ReasonArrayMissingItems},
		{"scalar", "hello", ReasonInvalidType},
		{"number", float64(42), ReasonInvalidType},
		{"meals wraps a scalar", mustAny(t, `{"meals":7}`), ReasonObjectNoMeals},
		{"triple wrapped", mustAny(t, `{"meals":{"meals":{"meals":[]}}}`), ReasonObjectNoMeals},
	}
	for _, tc := range cases {
		res := Extract(tc.value, nil)
		if res.Valid {
			t.Fatalf("%s: expected invalid", tc.name)
		}
		if res.Reason != tc.reason {
			t.Fatalf("%s: expected reason %q, got %q", tc.name, tc.reason, res.Reason)
		}
		if res.Meals != nil {
			t.Fatalf("%s: rejected result must carry no meals", tc.name)
		}
	}
}

func TestExtractRawMissAndGarbage(t *testing.T) {
	if res := ExtractRaw(nil, nil); res.Valid || res.Reason != ReasonCacheMiss {
		t.Fatalf("nil bytes: got %+v", res)
	}
	if res := ExtractRaw([]byte("not json"), nil); res.Valid || res.Reason != ReasonInvalidType {
		t.Fatalf("garbage bytes: got %+v", res)
	}
}

func TestExtractShallowCheckFlagsLaterMeals(t *testing.T) {
	raw := `{"meals":[` + mealJSON + `,{"name":"Dinner","ingredients":"oops"}]}`
	res := Extract(mustAny(t, raw), nil)
	if !res.Valid {
		t.Fatalf("expected valid under shallow check, got %q", res.Reason)
	}
	if len(res.Meals) != 2 {
		t.Fatalf("expected both meals kept, got %d", len(res.Meals))
	}
	if len(res.MalformedMeals) != 1 || res.MalformedMeals[0] != 1 {
		t.Fatalf("expected meal index 1 flagged, got %v", res.MalformedMeals)
	}
	if res.Meals[1].Name != "Dinner" || len(res.Meals[1].Ingredients) != 0 {
		t.Fatalf("malformed meal not salvaged: %+v", res.Meals[1])
	}
}

func TestWriteThenReadStability(t *testing.T) {
	model := Extract(mustAny(t, `{"mealPlan":[`+mealJSON+`]}`), nil)
	if !model.Valid {
		t.Fatalf("model output rejected: %q", model.Reason)
	}

	stored, err := json.Marshal(Canonicalize(model.Meals))
	if err != nil {
		t.Fatalf("marshal canonical payload: %v", err)
	}
	readBack := ExtractRaw(stored, nil)
	if !readBack.Valid {
		t.Fatalf("canonical payload did not re-extract: %q", readBack.Reason)
	}
	if readBack.Provenance != ProvenanceWrapped {
		t.Fatalf("canonical payload should read as wrapped, got %q", readBack.Provenance)
	}

	a, _ := json.Marshal(model.Meals)
	b, _ := json.Marshal(readBack.Meals)
	if string(a) != string(b) {
		t.Fatalf("round-trip changed the meal list:\n%s\n%s", a, b)
	}
}
