package trace

import "strings"

// RedactionMarker replaces any value whose key matches the denylist.
const RedactionMarker = "[REDACTED]"

// denylist substrings are matched case-insensitively against object keys at
// any nesting depth. Values under matching keys are replaced before storage,
// never after.
var denylist = []string{
	"password",
	"secret",
	"token",
	"apikey",
	"api_key",
	"authorization",
	"credential",
	"bearer",
}

// Sanitize walks a JSON-like value and redacts sensitive fields. The input
// is never mutated; maps and slices are rebuilt.
func Sanitize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			if sensitiveKey(k) {
				out[k] = RedactionMarker
				continue
			}
			out[k] = Sanitize(vv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = Sanitize(vv)
		}
		return out
	default:
		return v
	}
}

func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, bad := range denylist {
		if strings.Contains(k, bad) {
			return true
		}
	}
	return false
}
