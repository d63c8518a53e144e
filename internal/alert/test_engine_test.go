package alert

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietEngine(window time.Duration, maxPerWindow int) *Engine {
	return NewEngine(Config{
		Window:       window,
		MaxPerWindow: maxPerWindow,
		Logger:       log.New(io.Discard, "", 0),
	})
}

func TestCheckThresholdPriorityOrder(t *testing.T) {
	e := quietEngine(time.Minute, 100)

	e.CheckThreshold("plan.failed_day_ratio", 0.6, nil) // above critical
	e.CheckThreshold("plan.failed_day_ratio", 0.3, nil) // above warning only
	e.CheckThreshold("plan.failed_day_ratio", 0.1, nil) // no breach

	recent := e.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, LevelCritical, recent[0].Level)
	assert.Equal(t, LevelWarning, recent[1].Level)
	assert.Equal(t, CategoryModel, recent[0].Category)
}

func TestCheckThresholdRangeForm(t *testing.T) {
	e := quietEngine(time.Minute, 100)

	e.CheckThreshold("nutrition.protein_ratio", 1.0, nil) // inside both ranges
	e.CheckThreshold("nutrition.protein_ratio", 1.3, nil) // outside warning range
	e.CheckThreshold("nutrition.protein_ratio", 0.4, nil) // outside critical range

	recent := e.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, LevelWarning, recent[0].Level)
	assert.Equal(t, LevelCritical, recent[1].Level)
	assert.Equal(t, CategoryNutrition, recent[0].Category)
}

func TestEmitRateLimitsPerMetricWindow(t *testing.T) {
	e := quietEngine(time.Minute, 3)

	sent := 0
	for i := 0; i < 10; i++ {
		if e.Emit(LevelWarning, "cache.read_errors", nil) {
			sent++
		}
	}
	assert.Equal(t, 3, sent, "burst must be capped at maxPerWindow")

	// a different metric has its own window
	assert.True(t, e.Emit(LevelWarning, "model.retry_exhausted", nil))
}

func TestEmitWindowSlides(t *testing.T) {
	e := quietEngine(time.Minute, 1)
	base := time.Now()
	e.now = func() time.Time { return base }

	require.True(t, e.Emit(LevelWarning, "m", nil))
	require.False(t, e.Emit(LevelWarning, "m", nil))

	base = base.Add(2 * time.Minute)
	assert.True(t, e.Emit(LevelWarning, "m", nil), "window should free up after it slides")
}

func TestCriticalBypassesRateLimit(t *testing.T) {
	e := quietEngine(time.Minute, 1)

	require.True(t, e.Emit(LevelWarning, "m", nil))
	require.False(t, e.Emit(LevelWarning, "m", nil))

	for i := 0; i < 5; i++ {
		assert.True(t, e.Emit(LevelCritical, "m", nil), "critical alert %d suppressed", i)
	}
}

func TestNotifierIsolation(t *testing.T) {
	e := quietEngine(time.Minute, 100)
	defer e.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{}, 1)

	e.RegisterNotifier(func(Alert) {
		panic("broken hook")
	})
	e.RegisterNotifier(func(a Alert) {
		mu.Lock()
		got = append(got, a.Metric)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	require.True(t, e.Emit(LevelInfo, "m", nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("healthy hook never received the alert")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"m"}, got)
}

func TestUnknownMetricFallsBackToSystemCategory(t *testing.T) {
	e := quietEngine(time.Minute, 100)
	e.Emit(LevelInfo, "made.up.metric", nil)
	recent := e.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, CategorySystem, recent[0].Category)
}

func TestCheckThresholdDoesNotMutateCallerContext(t *testing.T) {
	e := quietEngine(time.Minute, 100)
	ctx := map[string]any{"runId": "r-1"}

	e.CheckThreshold("plan.failed_day_ratio", 0.9, ctx)

	require.Len(t, ctx, 1, "caller map must stay untouched")
	_, leaked := ctx["value"]
	assert.False(t, leaked)

	recent := e.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, 0.9, recent[0].Context["value"])
	assert.Equal(t, "r-1", recent[0].Context["runId"])
}
