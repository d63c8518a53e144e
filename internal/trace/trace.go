// Package trace records a bounded, sanitized execution trace per run. The
// store is in-memory and last-writer-bounded (hard caps on event count and
// tracked run count); it is not durable storage.
package trace

import (
	"log"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Event types.
const (
	EventStageStart  = "stage_start"
	EventStageEnd    = "stage_end"
	EventError       = "error"
	EventWarning     = "warning"
	EventDebug       = "debug"
	EventPipelineEnd = "pipeline_end"
)

// Run statuses.
const (
	StatusActive  = "active"
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// Event is one sanitized trace entry.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Stage     string         `json:"stage"`
	Type      string         `json:"type"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Run is the stored trace for one run id.
type Run struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Events      []Event        `json:"events"`
	Result      map[string]any `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	CompletedAt time.Time      `json:"completedAt,omitzero"`
	DurationMS  int64          `json:"durationMs"`

	StageCount   int `json:"stageCount"`
	ErrorCount   int `json:"errorCount"`
	WarningCount int `json:"warningCount"`

	dropWarned bool
}

// Summary is the list/summary view of a run.
type Summary struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	EventCount   int       `json:"eventCount"`
	StageCount   int       `json:"stageCount"`
	ErrorCount   int       `json:"errorCount"`
	WarningCount int       `json:"warningCount"`
	CreatedAt    time.Time `json:"createdAt"`
	DurationMS   int64     `json:"durationMs"`
}

// Recorder tracks runs in an expirable LRU: least recently touched runs are
// evicted past the run cap and every run expires after the TTL.
type Recorder struct {
	mu        sync.Mutex
	runs      *expirable.LRU[string, *Run]
	maxEvents int
	log       *log.Logger
	now       func() time.Time
}

func NewRecorder(maxRuns, maxEvents int, ttl time.Duration, logger *log.Logger) *Recorder {
	if maxRuns <= 0 {
		maxRuns = 200
	}
	if maxEvents <= 0 {
		maxEvents = 500
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{
		runs:      expirable.NewLRU[string, *Run](maxRuns, nil, ttl),
		maxEvents: maxEvents,
		log:       logger,
		now:       time.Now,
	}
}

// Create registers a new active run. Metadata is sanitized on the way in.
func (r *Recorder) Create(id string, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := &Run{
		ID:        id,
		Status:    StatusActive,
		CreatedAt: r.now(),
		Events:    make([]Event, 0, 16),
	}
	if metadata != nil {
		run.Metadata = Sanitize(metadata).(map[string]any)
	}
	r.runs.Add(id, run)
}

// AddEvent appends one sanitized event. Appends past the event cap are
// silently dropped; the drop is logged once per run, out-of-band. Returns
// false when the run is unknown or already evicted.
func (r *Recorder) AddEvent(id, stage, typ string, fields map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs.Get(id)
	if !ok {
		return false
	}
	if len(run.Events) >= r.maxEvents {
		if !run.dropWarned {
			r.log.Printf("trace: run %s reached event cap %d, dropping further events", id, r.maxEvents)
			run.dropWarned = true
		}
		return true
	}
	ev := Event{Timestamp: r.now(), Stage: stage, Type: typ}
	if fields != nil {
		ev.Fields = Sanitize(fields).(map[string]any)
	}
	run.Events = append(run.Events, ev)
	switch typ {
	case EventStageStart:
		run.StageCount++
	case EventError:
		run.ErrorCount++
	case EventWarning:
		run.WarningCount++
	}
	return true
}

// Complete appends a synthetic end-event, computes the total duration from
// first to last event timestamp, and freezes the status. Completing twice or
// completing an unknown run is a no-op returning false.
func (r *Recorder) Complete(id, status string, result map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs.Get(id)
	if !ok || run.Status != StatusActive {
		return false
	}
	end := Event{Timestamp: r.now(), Stage: "run", Type: EventPipelineEnd}
	if result != nil {
		run.Result = Sanitize(result).(map[string]any)
		end.Fields = run.Result
	}
	run.Events = append(run.Events, end)
	run.Status = status
	run.CompletedAt = end.Timestamp
	first := run.CreatedAt
	if len(run.Events) > 0 {
		first = run.Events[0].Timestamp
	}
	run.DurationMS = end.Timestamp.Sub(first).Milliseconds()
	return true
}

// Get returns a copy of the full run view.
func (r *Recorder) Get(id string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs.Get(id)
	if !ok {
		return Run{}, false
	}
	out := *run
	out.Events = append([]Event(nil), run.Events...)
	return out, true
}

// Summary returns the compact view of one run.
func (r *Recorder) Summary(id string) (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs.Get(id)
	if !ok {
		return Summary{}, false
	}
	return summarize(run), true
}

// List returns recent runs, newest first, optionally filtered by status,
// with offset/limit pagination.
func (r *Recorder) List(offset, limit int, status string) []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	values := r.runs.Values()
	out := make([]Summary, 0, limit)
	// Values returns oldest-first; walk backwards for newest-first.
	skipped := 0
	for i := len(values) - 1; i >= 0; i-- {
		run := values[i]
		if status != "" && run.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, summarize(run))
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Delete evicts one run. Returns false when it was not tracked.
func (r *Recorder) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs.Remove(id)
}

func summarize(run *Run) Summary {
	return Summary{
		ID:           run.ID,
		Status:       run.Status,
		EventCount:   len(run.Events),
		StageCount:   run.StageCount,
		ErrorCount:   run.ErrorCount,
		WarningCount: run.WarningCount,
		CreatedAt:    run.CreatedAt,
		DurationMS:   run.DurationMS,
	}
}
