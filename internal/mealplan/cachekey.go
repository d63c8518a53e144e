package mealplan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// CacheKeyPrefix and CacheKeyVersion form the fixed key namespace.
	// Bumping the version is the only supported migration path: entries
	// written under an older payload shape become unreachable and expire
	// on their own TTL.
	CacheKeyPrefix  = "cheffy"
	CacheKeyVersion = "v3"

	// CacheTTL bounds how long a generated day may be reused.
	CacheTTL = 24 * time.Hour
)

type cacheKeyMaterial struct {
	Profile     Profile            `json:"profile"`
	Targets     Targets            `json:"targets"`
	MealTargets map[string]Targets `json:"mealTargets,omitempty"`
}

// CacheKey derives the deterministic cache key for one day of one request.
// Layout: {prefix}:{version}:meals:day{N}:{16-hex content hash}.
func CacheKey(profile Profile, targets Targets, mealTargets map[string]Targets, day int) string {
	raw, _ := json.Marshal(cacheKeyMaterial{
		Profile:     profile,
		Targets:     targets,
		MealTargets: mealTargets,
	})
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s:%s:meals:day%d:%s", CacheKeyPrefix, CacheKeyVersion, day, hex.EncodeToString(sum[:])[:16])
}
