package alert

import (
	"log"
	"sync"
	"time"
)

const (
	defaultWindow       = time.Minute
	defaultMaxPerWindow = 5
	recentBufferCap     = 256
	hookQueueCap        = 64
)

// Notifier receives emitted alerts. Hooks run on their own goroutine with a
// bounded queue; a slow or failing hook never blocks emission or affects
// other hooks.
type Notifier func(Alert)

type hook struct {
	ch chan Alert
}

// Engine holds the threshold table, the per-metric sliding-window rate
// limiter, and the notification hooks. Safe for concurrent use across runs.
type Engine struct {
	mu         sync.Mutex
	thresholds map[string]Threshold
	categories map[string]string

	window       time.Duration
	maxPerWindow int
	emitted      map[string][]time.Time

	recent []Alert
	hooks  []*hook

	log *log.Logger
	now func() time.Time
}

type Config struct {
	Thresholds   map[string]Threshold
	Categories   map[string]string
	Window       time.Duration
	MaxPerWindow int
	Logger       *log.Logger
}

func NewEngine(cfg Config) *Engine {
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Categories == nil {
		cfg.Categories = DefaultCategories()
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = defaultMaxPerWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Engine{
		thresholds:   cfg.Thresholds,
		categories:   cfg.Categories,
		window:       cfg.Window,
		maxPerWindow: cfg.MaxPerWindow,
		emitted:      map[string][]time.Time{},
		log:          cfg.Logger,
		now:          time.Now,
	}
}

// RegisterNotifier adds an asynchronous notification hook. Each hook gets
// its own bounded queue and goroutine; overflow drops the alert for that
// hook only, and a panicking hook is recovered and logged.
func (e *Engine) RegisterNotifier(fn Notifier) {
	h := &hook{ch: make(chan Alert, hookQueueCap)}
	e.mu.Lock()
	e.hooks = append(e.hooks, h)
	e.mu.Unlock()

	go func() {
		for a := range h.ch {
			e.deliver(fn, a)
		}
	}()
}

func (e *Engine) deliver(fn Notifier, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Printf("alert: notifier panic for metric %s: %v", a.Metric, r)
		}
	}()
	fn(a)
}

// CheckThreshold evaluates value against the metric's threshold table and
// emits on breach. Evaluation order: critical before warning, absolute
// bound before range.
func (e *Engine) CheckThreshold(metric string, value float64, ctxFields map[string]any) {
	e.mu.Lock()
	th, ok := e.thresholds[metric]
	e.mu.Unlock()
	if !ok {
		return
	}
	// Annotate a copy; the caller's map stays untouched and hooks never
	// share mutable state with the call site.
	annotated := make(map[string]any, len(ctxFields)+1)
	for k, v := range ctxFields {
		annotated[k] = v
	}
	annotated["value"] = value
	ctxFields = annotated

	switch {
	case th.CriticalAbove != nil && value > *th.CriticalAbove:
		e.Emit(LevelCritical, metric, ctxFields)
	case th.CriticalRange != nil && th.CriticalRange.outside(value):
		e.Emit(LevelCritical, metric, ctxFields)
	case th.WarningAbove != nil && value > *th.WarningAbove:
		e.Emit(LevelWarning, metric, ctxFields)
	case th.WarningRange != nil && th.WarningRange.outside(value):
		e.Emit(LevelWarning, metric, ctxFields)
	}
}

// Emit builds an alert, applies the per-metric sliding-window rate limit
// (critical bypasses), appends it to the bounded buffer, and fans it out
// to the hooks. Returns false when the alert was suppressed.
func (e *Engine) Emit(level Level, metric string, ctxFields map[string]any) bool {
	now := e.now()

	e.mu.Lock()
	if level != LevelCritical && !e.allowLocked(metric, now) {
		e.mu.Unlock()
		e.log.Printf("alert: rate-limited %s alert for metric %s", level, metric)
		return false
	}
	a := newAlert(level, metric, e.categoryLocked(metric), ctxFields, now)
	e.recent = append(e.recent, a)
	if len(e.recent) > recentBufferCap {
		e.recent = e.recent[len(e.recent)-recentBufferCap:]
	}
	hooks := append([]*hook(nil), e.hooks...)
	e.mu.Unlock()

	e.log.Printf("alert: [%s] %s (%s)", a.Level, a.Metric, a.Category)
	for _, h := range hooks {
		select {
		case h.ch <- a:
		default:
			e.log.Printf("alert: hook queue full, dropping alert %s for one hook", a.ID)
		}
	}
	return true
}

// allowLocked prunes the metric's emission window and reserves a slot when
// under the cap.
func (e *Engine) allowLocked(metric string, now time.Time) bool {
	cutoff := now.Add(-e.window)
	times := e.emitted[metric]
	kept := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= e.maxPerWindow {
		e.emitted[metric] = kept
		return false
	}
	e.emitted[metric] = append(kept, now)
	return true
}

func (e *Engine) categoryLocked(metric string) string {
	if c, ok := e.categories[metric]; ok {
		return c
	}
	return CategorySystem
}

// Recent returns a copy of the alert buffer, oldest first.
func (e *Engine) Recent() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Alert(nil), e.recent...)
}

// Close stops all hook goroutines. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.hooks {
		close(h.ch)
	}
	e.hooks = nil
}
