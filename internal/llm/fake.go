package llm

import (
	"context"
	"encoding/json"
)

// FakeClient returns a deterministic, minimal valid day payload for
// offline runs and tests.
type FakeClient struct{}

func NewFakeClient() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	obj := map[string]any{
		"meals": []any{
			map[string]any{
				"name": "Breakfast",
				"ingredients": []any{
					map[string]any{"key": "rolled oats", "quantity": 80, "unit": "g", "state": "raw"},
					map[string]any{"key": "whole milk", "quantity": 250, "unit": "ml", "state": "raw"},
				},
			},
			map[string]any{
				"name": "Lunch",
				"ingredients": []any{
					map[string]any{"key": "chicken breast", "quantity": 200, "unit": "g", "state": "raw"},
					map[string]any{"key": "white rice", "quantity": 90, "unit": "g", "state": "raw"},
				},
			},
			map[string]any{
				"name": "Dinner",
				"ingredients": []any{
					map[string]any{"key": "salmon fillet", "quantity": 180, "unit": "g", "state": "raw"},
					map[string]any{"key": "broccoli", "quantity": 150, "unit": "g", "state": "raw"},
				},
			},
		},
	}
	raw, _ := json.Marshal(obj)
	return raw, nil
}
