// Package orchestrator drives the day-by-day generation loop: cache probe,
// model call with retry and fallback, validation, pipeline hand-off, and
// aggregation, streaming progress over the run's emitter.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/alert"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/cache"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/extract"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/llm"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/mealplan"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/stream"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/trace"
)

// Archiver persists the final payload to object storage, best-effort.
type Archiver interface {
	Put(ctx context.Context, runID, path string, content []byte) error
}

// PlanSaver persists the final plan document by user key, best-effort.
type PlanSaver interface {
	SavePlan(ctx context.Context, userKey string, doc []byte) error
}

// Config carries the resilience knobs.
type Config struct {
	// MaxRetries is the primary model's attempt budget per day.
	MaxRetries int
	// RetryBase scales the linear backoff between attempts.
	RetryBase time.Duration
	// AbortOnDayError promotes the first day failure to a fatal run error.
	AbortOnDayError bool
}

// Orchestrator owns one Run at a time; the process-wide collaborators
// (cache, trace recorder, alert engine) are shared across concurrent runs.
type Orchestrator struct {
	cache    cache.Store
	primary  llm.Client
	fallback llm.Client
	pipeline Pipeline
	trace    *trace.Recorder
	alerts   *alert.Engine
	archive  Archiver
	plans    PlanSaver
	log      *log.Logger
	sleep    llm.SleepFunc
	cfg      Config
}

type Deps struct {
	Cache    cache.Store
	Primary  llm.Client
	Fallback llm.Client
	Pipeline Pipeline
	Trace    *trace.Recorder
	Alerts   *alert.Engine
	Archive  Archiver
	Plans    PlanSaver
	Logger   *log.Logger
	Sleep    llm.SleepFunc
}

func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Pipeline == nil {
		deps.Pipeline = PassthroughPipeline{}
	}
	if deps.Sleep == nil {
		deps.Sleep = time.Sleep
	}
	if deps.Trace == nil {
		deps.Trace = trace.NewRecorder(0, 0, 0, deps.Logger)
	}
	if deps.Alerts == nil {
		deps.Alerts = alert.NewEngine(alert.Config{Logger: deps.Logger})
	}
	return &Orchestrator{
		cache:    deps.Cache,
		primary:  deps.Primary,
		fallback: deps.Fallback,
		pipeline: deps.Pipeline,
		trace:    deps.Trace,
		alerts:   deps.Alerts,
		archive:  deps.Archive,
		plans:    deps.Plans,
		log:      deps.Logger,
		sleep:    deps.Sleep,
		cfg:      cfg,
	}
}

// DayFailure is one entry of the run's failure details.
type DayFailure struct {
	Day         int    `json:"day"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Stats is the aggregate the terminal event reports.
type Stats struct {
	TotalDays         int `json:"totalDays"`
	SuccessfulDays    int `json:"successfulDays"`
	FailedDays        int `json:"failedDays"`
	CacheHits         int `json:"cacheHits"`
	ModelCalls        int `json:"modelCalls"`
	FallbackCalls     int `json:"fallbackCalls"`
	UniqueIngredients int `json:"uniqueIngredients"`
}

// Result is the final aggregated outcome of one run.
type Result struct {
	RunID             string            `json:"runId"`
	Status            string            `json:"status"`
	Days              []mealplan.DayPlan `json:"days"`
	Meals             []mealplan.Meal   `json:"meals"`
	UniqueIngredients []string          `json:"uniqueIngredients"`
	Stats             Stats             `json:"stats"`
	FailedDayDetails  []DayFailure      `json:"failedDayDetails"`
}

// runState is the mutable bookkeeping for one run.
type runState struct {
	days        []mealplan.DayPlan
	failures    []DayFailure
	seen        map[string]struct{}
	ingredients []string
	stats       Stats
	cacheErrors int
}

// Run executes one end-to-end plan generation. It always leaves the emitter
// with exactly one terminal event sent (the caller still calls Close as the
// defensive backstop) and always completes the trace.
func (o *Orchestrator) Run(ctx context.Context, runID string, req mealplan.Request, em *stream.Emitter) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Printf("orchestrator: run %s panicked: %v", runID, r)
			o.trace.AddEvent(runID, "run", trace.EventError, map[string]any{"panic": fmt.Sprint(r)})
			o.trace.Complete(runID, trace.StatusError, map[string]any{"code": stream.CodeHandlerCrashed})
			o.alerts.Emit(alert.LevelCritical, "plan.aggregate_failure", map[string]any{"runId": runID, "panic": fmt.Sprint(r)})
			em.Error(stream.CodeHandlerCrashed, "internal error during plan generation", nil)
		}
	}()

	o.trace.Create(runID, map[string]any{
		"days":    req.Days,
		"userId":  req.Profile.UserID,
		"targets": map[string]any{"calories": req.Targets.Calories, "proteinG": req.Targets.ProteinG},
	})
	em.Send(stream.EventPhaseStart, map[string]any{"phase": "plan-generation", "days": req.Days})
	o.trace.AddEvent(runID, "run", trace.EventStageStart, map[string]any{"days": req.Days})

	st := &runState{seen: map[string]struct{}{}}
	st.stats.TotalDays = req.Days

	for day := 1; day <= req.Days; day++ {
		em.Send(stream.EventDayStart, map[string]any{"day": day})
		o.trace.AddEvent(runID, fmt.Sprintf("day-%d", day), trace.EventStageStart, nil)

		plan, err := o.processDay(ctx, runID, req, day, st, em)
		if err != nil {
			if fatal := o.recordDayFailure(runID, day, err, st, em); fatal {
				return
			}
			continue
		}

		st.days = append(st.days, plan)
		st.stats.SuccessfulDays++
		o.collectIngredients(plan, st)
		o.trace.AddEvent(runID, fmt.Sprintf("day-%d", day), trace.EventStageEnd, map[string]any{"meals": len(plan.Meals)})
		em.Send(stream.EventDayComplete, map[string]any{"day": day, "meals": len(plan.Meals)})
	}

	o.finish(ctx, runID, req, st, em)
}

// recordDayFailure classifies and records one day failure. It returns true
// when abort-on-day-error is set, after emitting the fatal terminal event.
func (o *Orchestrator) recordDayFailure(runID string, day int, err error, st *runState, em *stream.Emitter) bool {
	code := classifyDayError(err)
	recoverable := !o.cfg.AbortOnDayError
	failure := DayFailure{Day: day, Code: code, Message: err.Error(), Recoverable: recoverable}
	st.failures = append(st.failures, failure)
	st.stats.FailedDays++

	o.log.Printf("orchestrator: run %s day %d failed (%s): %v", runID, day, code, err)
	o.trace.AddEvent(runID, fmt.Sprintf("day-%d", day), trace.EventError, map[string]any{"code": code, "error": err.Error()})
	if code == stream.CodeModelRetryExhausted || code == stream.CodeModelFallbackFailed {
		o.alerts.CheckThreshold("model.retry_exhausted", float64(st.stats.FailedDays), map[string]any{"runId": runID, "day": day})
	}
	em.Send(stream.EventDayError, map[string]any{
		"day":         day,
		"code":        code,
		"message":     err.Error(),
		"recoverable": recoverable,
	})

	if !o.cfg.AbortOnDayError {
		return false
	}
	o.trace.Complete(runID, trace.StatusError, map[string]any{"code": code, "abortedOnDay": day})
	em.Error(code, fmt.Sprintf("day %d failed and abort-on-error is set", day), map[string]any{"day": day})
	return true
}

// processDay runs the cache-check / generate / validate / pipeline sequence
// for one day.
func (o *Orchestrator) processDay(ctx context.Context, runID string, req mealplan.Request, day int, st *runState, em *stream.Emitter) (mealplan.DayPlan, error) {
	key := mealplan.CacheKey(req.Profile, req.Targets, req.MealTargets, day)

	meals, hit := o.readCache(ctx, runID, key, day, st, em)
	if !hit {
		var err error
		meals, err = o.generateDay(ctx, runID, req, day, st, em)
		if err != nil {
			return mealplan.DayPlan{}, err
		}
		o.writeCache(ctx, runID, key, meals)
	}

	plan := mealplan.DayPlan{Day: day, Meals: meals}

	pres, err := o.pipeline.Execute(ctx, plan, req.Targets)
	if err != nil {
		return mealplan.DayPlan{}, &DayGenerationError{Day: day, Code: stream.CodePipelineExecutionFailed, Err: err}
	}
	o.emitIngredientEvents(day, pres, em)
	for k, v := range pres.Stats {
		o.trace.AddEvent(runID, fmt.Sprintf("day-%d", day), trace.EventDebug, map[string]any{k: v})
	}
	return plan, nil
}

// readCache probes the cache through the shared extractor. Cache errors are
// never fatal: they count toward an alert metric and read as a miss.
func (o *Orchestrator) readCache(ctx context.Context, runID, key string, day int, st *runState, em *stream.Emitter) ([]mealplan.Meal, bool) {
	if o.cache == nil {
		return nil, false
	}
	raw, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		st.cacheErrors++
		o.log.Printf("orchestrator: run %s cache read failed for day %d, treating as miss: %v", runID, day, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	res := extract.ExtractRaw(raw, o.log)
	if !res.Valid {
		o.log.Printf("orchestrator: run %s day %d cached value rejected (%s), regenerating", runID, day, res.Reason)
		o.trace.AddEvent(runID, fmt.Sprintf("day-%d", day), trace.EventWarning, map[string]any{"cacheReject": string(res.Reason)})
		return nil, false
	}
	st.stats.CacheHits++
	em.Send(stream.EventLogMessage, map[string]any{"message": fmt.Sprintf("day %d served from cache (%s)", day, res.Provenance)})
	o.warnMalformedMeals(day, res, em)
	return res.Meals, true
}

// generateDay calls the primary model with the full retry budget, then the
// fallback variant exactly once.
func (o *Orchestrator) generateDay(ctx context.Context, runID string, req mealplan.Request, day int, st *runState, em *stream.Emitter) ([]mealplan.Meal, error) {
	prompt := mealplan.DayPrompt(req.Profile, req.Targets, req.MealTargets, day)

	primary := llm.Wrap(o.primary, llm.Retry(o.cfg.MaxRetries, o.cfg.RetryBase, o.sleep))
	st.stats.ModelCalls++
	raw, err := primary.GenerateJSON(ctx, prompt, nil)
	if err != nil {
		o.log.Printf("orchestrator: run %s day %d primary model %s exhausted %d attempts: %v",
			runID, day, o.primary.Name(), o.cfg.MaxRetries, err)
		o.trace.AddEvent(runID, fmt.Sprintf("day-%d", day), trace.EventWarning, map[string]any{
			"code": stream.CodeModelPrimaryFailed, "model": o.primary.Name(), "error": err.Error(),
		})
		if o.fallback == nil {
			return nil, &DayGenerationError{Day: day, Code: stream.CodeModelRetryExhausted, Err: err}
		}
		st.stats.FallbackCalls++
		raw, err = o.fallback.GenerateJSON(ctx, prompt, nil)
		if err != nil {
			o.log.Printf("orchestrator: run %s day %d fallback model %s failed: %v", runID, day, o.fallback.Name(), err)
			return nil, &DayGenerationError{Day: day, Code: stream.CodeModelFallbackFailed, Err: err}
		}
	}

	res := extract.ExtractRaw(raw, o.log)
	if !res.Valid {
		return nil, &DayGenerationError{
			Day:  day,
			Code: stream.CodeModelValidationFailed,
			Err:  fmt.Errorf("model output rejected: %s", res.Reason),
		}
	}
	o.warnMalformedMeals(day, res, em)
	return res.Meals, nil
}

// writeCache writes through in the single canonical wrapped shape,
// regardless of what shape was read. Failures are logged and ignored.
func (o *Orchestrator) writeCache(ctx context.Context, runID, key string, meals []mealplan.Meal) {
	if o.cache == nil {
		return
	}
	payload, err := json.Marshal(extract.Canonicalize(meals))
	if err != nil {
		return
	}
	if err := o.cache.Set(ctx, key, payload); err != nil {
		o.log.Printf("orchestrator: run %s cache write failed: %v", runID, err)
	}
}

func (o *Orchestrator) warnMalformedMeals(day int, res extract.Result, em *stream.Emitter) {
	for _, idx := range res.MalformedMeals {
		em.Send(stream.EventValidationWarning, map[string]any{
			"day":     day,
			"meal":    idx,
			"message": "meal has a malformed ingredient list and was kept empty",
		})
	}
}

func (o *Orchestrator) emitIngredientEvents(day int, pres PipelineResult, em *stream.Emitter) {
	for _, key := range pres.Unmatched {
		em.Send(stream.EventIngredientFailed, map[string]any{"day": day, "key": key})
	}
	for _, key := range pres.Flagged {
		em.Send(stream.EventIngredientFlagged, map[string]any{"day": day, "key": key})
	}
	if len(pres.Matched) > 0 {
		em.Send(stream.EventIngredientFound, map[string]any{"day": day, "count": len(pres.Matched)})
	}
}

func (o *Orchestrator) collectIngredients(plan mealplan.DayPlan, st *runState) {
	for _, meal := range plan.Meals {
		for _, ing := range meal.Ingredients {
			norm := mealplan.NormalizeKey(ing.Key)
			if norm == "" {
				continue
			}
			if _, dup := st.seen[norm]; dup {
				continue
			}
			st.seen[norm] = struct{}{}
			st.ingredients = append(st.ingredients, norm)
		}
	}
}

// finish aggregates the run, emits the terminal event, raises threshold
// alerts, and persists/archives the payload best-effort.
func (o *Orchestrator) finish(ctx context.Context, runID string, req mealplan.Request, st *runState, em *stream.Emitter) {
	if st.cacheErrors > 0 {
		o.alerts.CheckThreshold("cache.read_errors", float64(st.cacheErrors), map[string]any{"runId": runID})
	}
	if st.stats.TotalDays > 0 {
		ratio := float64(st.stats.FailedDays) / float64(st.stats.TotalDays)
		o.alerts.CheckThreshold("plan.failed_day_ratio", ratio, map[string]any{"runId": runID})
	}

	if st.stats.SuccessfulDays == 0 {
		err := &PipelineError{Code: stream.CodeDayGenerationFailed, Err: fmt.Errorf("all %d days failed", st.stats.TotalDays)}
		o.log.Printf("orchestrator: run %s aborted: %v", runID, err)
		o.alerts.Emit(alert.LevelCritical, "plan.aggregate_failure", map[string]any{"runId": runID, "days": st.stats.TotalDays})
		o.trace.Complete(runID, trace.StatusError, map[string]any{"code": err.Code, "failedDays": st.stats.FailedDays})
		em.Error(err.Code, "no day could be generated", map[string]any{"failedDayDetails": st.failures})
		return
	}

	status := trace.StatusSuccess
	if st.stats.FailedDays > 0 {
		status = trace.StatusPartial
	}
	st.stats.UniqueIngredients = len(st.ingredients)

	result := Result{
		RunID:             runID,
		Status:            status,
		Days:              st.days,
		Meals:             flattenMeals(st.days),
		UniqueIngredients: st.ingredients,
		Stats:             st.stats,
		FailedDayDetails:  st.failures,
	}

	em.Send(stream.EventPhaseEnd, map[string]any{"phase": "plan-generation"})
	o.persistResult(ctx, runID, req, result)
	o.trace.Complete(runID, status, map[string]any{
		"successfulDays": st.stats.SuccessfulDays,
		"failedDays":     st.stats.FailedDays,
	})
	em.Complete(map[string]any{
		"status":            status,
		"stats":             result.Stats,
		"plan":              result.Days,
		"meals":             result.Meals,
		"uniqueIngredients": result.UniqueIngredients,
		"failedDayDetails":  result.FailedDayDetails,
	})
}

// persistResult saves and archives the final payload. Both stores are
// best-effort; failures never reach the client.
func (o *Orchestrator) persistResult(ctx context.Context, runID string, req mealplan.Request, result Result) {
	doc, err := json.Marshal(result)
	if err != nil {
		return
	}
	if o.plans != nil && req.Profile.UserID != "" {
		if err := o.plans.SavePlan(ctx, req.Profile.UserID, doc); err != nil {
			o.log.Printf("orchestrator: run %s plan save failed: %v", runID, err)
		}
	}
	if o.archive != nil {
		if err := o.archive.Put(ctx, runID, "plan.json", doc); err != nil {
			o.log.Printf("orchestrator: run %s archive upload failed: %v", runID, err)
		}
	}
}

func flattenMeals(days []mealplan.DayPlan) []mealplan.Meal {
	var out []mealplan.Meal
	for _, d := range days {
		out = append(out, d.Meals...)
	}
	return out
}
