package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// Emitter writes the event stream for one run. It guarantees that at most
// one terminal event is ever written and that Close never ends the stream
// without a terminal event having been sent first (synthesizing a fallback
// plan:error when needed). Writes after the client hangs up fail silently;
// bookkeeping continues so the orchestrator can still reach a terminal
// state.
type Emitter struct {
	mu      sync.Mutex
	w       io.Writer
	flush   func()
	traceID string
	log     *log.Logger
	now     func() time.Time

	mirror func(Event)

	terminalSent bool
	closed       bool
	writeBroken  bool
}

// NewEmitter prepares an SSE response on w. It fails only when the
// ResponseWriter cannot stream.
func NewEmitter(w http.ResponseWriter, traceID string, logger *log.Logger) (*Emitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("stream: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return newEmitter(w, flusher.Flush, traceID, logger), nil
}

// newEmitter is the testable constructor over a plain writer.
func newEmitter(w io.Writer, flush func(), traceID string, logger *log.Logger) *Emitter {
	if logger == nil {
		logger = log.Default()
	}
	if flush == nil {
		flush = func() {}
	}
	return &Emitter{
		w:       w,
		flush:   flush,
		traceID: traceID,
		log:     logger,
		now:     time.Now,
	}
}

// SetMirror registers a callback invoked with every event that passes the
// terminal guard, used to fan events out to watch subscribers.
func (e *Emitter) SetMirror(fn func(Event)) {
	e.mu.Lock()
	e.mirror = fn
	e.mu.Unlock()
}

// Send emits one event. Payload is copied and merged with the correlation
// metadata. A second terminal event is a no-op with a warning logged.
func (e *Emitter) Send(eventType string, payload map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendLocked(eventType, payload)
}

// Complete emits the terminal plan:complete event.
func (e *Emitter) Complete(payload map[string]any) {
	e.Send(EventPlanComplete, payload)
}

// Error emits the terminal plan:error event with the given code.
func (e *Emitter) Error(code, message string, payload map[string]any) {
	merged := map[string]any{}
	for k, v := range payload {
		merged[k] = v
	}
	merged["code"] = code
	merged["message"] = message
	e.Send(EventPlanError, merged)
}

// TerminalSent reports whether a terminal event has been emitted.
func (e *Emitter) TerminalSent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminalSent
}

// Close ends the stream. If no terminal event was sent, a fallback
// plan:error is synthesized first. This path must be unreachable in a
// correct run; it exists as a defensive backstop.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if !e.terminalSent {
		e.log.Printf("stream: run %s closed without a terminal event, synthesizing plan:error", e.traceID)
		e.sendLocked(EventPlanError, map[string]any{
			"code":    CodeStreamTerminated,
			"message": "stream closed before a terminal event was produced",
		})
	}
	e.closed = true
}

func (e *Emitter) sendLocked(eventType string, payload map[string]any) {
	if e.closed {
		e.log.Printf("stream: dropping %s event on closed stream for run %s", eventType, e.traceID)
		return
	}
	if IsTerminal(eventType) {
		if e.terminalSent {
			e.log.Printf("stream: suppressing second terminal event %s for run %s", eventType, e.traceID)
			return
		}
		e.terminalSent = true
	}

	merged := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		merged[k] = v
	}
	merged["traceId"] = e.traceID
	merged["timestamp"] = e.now().UTC().Format(time.RFC3339Nano)
	merged["eventType"] = eventType

	ev := Event{Type: eventType, Payload: merged}
	e.writeLocked(ev)
	if e.mirror != nil {
		e.mirror(ev)
	}
}

// writeLocked writes the two-line wire form. A write error marks the
// connection broken and is otherwise swallowed.
func (e *Emitter) writeLocked(ev Event) {
	if e.writeBroken || e.w == nil {
		return
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		e.log.Printf("stream: marshal %s payload: %v", ev.Type, err)
		return
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		e.writeBroken = true
		e.log.Printf("stream: write failed for run %s, client likely gone: %v", e.traceID, err)
		return
	}
	e.flush()
}
