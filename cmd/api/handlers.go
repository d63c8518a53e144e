package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/alert"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/mealplan"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/orchestrator"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/store"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/stream"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/trace"
)

const maxPlanDays = 30

// archiveReader is the read side of the plan archive (satisfied by
// store.S3Archive).
type archiveReader interface {
	Get(ctx context.Context, runID, path string) ([]byte, error)
}

type apiServer struct {
	orch    *orchestrator.Orchestrator
	trace   *trace.Recorder
	alerts  *alert.Engine
	broker  *stream.Broker
	plans   store.PlanStore
	archive archiveReader
	log     *log.Logger
}

func newAPIServer(orch *orchestrator.Orchestrator, recorder *trace.Recorder, alerts *alert.Engine, broker *stream.Broker, plans store.PlanStore, archive archiveReader, logger *log.Logger) *apiServer {
	return &apiServer{
		orch:    orch,
		trace:   recorder,
		alerts:  alerts,
		broker:  broker,
		plans:   plans,
		archive: archive,
		log:     logger,
	}
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/plan/generate", s.handleGenerate)
	mux.HandleFunc("/api/plan/latest", s.handleLatestPlan)
	mux.HandleFunc("/api/plan/history", s.handlePlanHistory)
	mux.HandleFunc("/api/plan/archive/", s.handlePlanArchive)
	mux.HandleFunc("/api/watch/", s.handleWatchWS)
	mux.HandleFunc("/api/traces", s.handleTraceList)
	mux.HandleFunc("/api/traces/", s.handleTraceItem)
	mux.HandleFunc("/api/alerts/recent", s.handleRecentAlerts)
	return mux
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleGenerate validates the request, then streams the whole run as SSE.
// Validation failures are plain 400s; once streaming starts all errors
// travel inside the stream.
func (s *apiServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Pointer fields distinguish an absent object from a zero-valued one;
	// both profile and targets must be present before any stream event.
	var body struct {
		Profile     *mealplan.Profile           `json:"profile"`
		Targets     *mealplan.Targets           `json:"targets"`
		MealTargets map[string]mealplan.Targets `json:"mealTargets"`
		Days        int                         `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if body.Profile == nil {
		http.Error(w, "profile is required", http.StatusBadRequest)
		return
	}
	if body.Targets == nil {
		http.Error(w, "targets is required", http.StatusBadRequest)
		return
	}
	req := mealplan.Request{
		Profile:     *body.Profile,
		Targets:     *body.Targets,
		MealTargets: body.MealTargets,
		Days:        body.Days,
	}
	if msg := validateRequest(req); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	runID := uuid.NewString()
	em, err := stream.NewEmitter(w, runID, s.log)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	em.SetMirror(func(ev stream.Event) {
		s.broker.Publish(runID, ev)
	})
	defer s.broker.CloseRun(runID)
	defer em.Close()

	s.log.Printf("api: starting run %s (%d days) for user %q", runID, req.Days, req.Profile.UserID)
	s.orch.Run(r.Context(), runID, req, em)
}

func validateRequest(req mealplan.Request) string {
	if req.Days < 1 || req.Days > maxPlanDays {
		return "days must be between 1 and 30"
	}
	if req.Targets.Calories <= 0 {
		return "targets.calories must be positive"
	}
	if req.Targets.ProteinG < 0 || req.Targets.CarbsG < 0 || req.Targets.FatG < 0 {
		return "macro targets must not be negative"
	}
	if req.Profile.MealsPerDay < 0 || req.Profile.MealsPerDay > 10 {
		return "profile.mealsPerDay must be between 0 and 10"
	}
	return ""
}

func (s *apiServer) handleLatestPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userKey := strings.TrimSpace(r.URL.Query().Get("user"))
	if userKey == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}
	rec, ok, err := s.plans.GetPlan(r.Context(), userKey)
	if err != nil {
		http.Error(w, "plan store unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no plan for user", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Doc)
}

// handlePlanHistory serves GET /api/plan/history?user=&limit=, newest first.
func (s *apiServer) handlePlanHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userKey := strings.TrimSpace(r.URL.Query().Get("user"))
	if userKey == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}
	history, err := s.plans.ListPlans(r.Context(), userKey, queryInt(r, "limit", 0))
	if err != nil {
		http.Error(w, "plan store unavailable", http.StatusInternalServerError)
		return
	}
	entries := make([]map[string]any, 0, len(history))
	for _, rec := range history {
		entries = append(entries, map[string]any{
			"createdAt": rec.CreatedAt,
			"plan":      json.RawMessage(rec.Doc),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  userKey,
		"plans": entries,
		"count": len(entries),
	})
}

// handlePlanArchive serves GET /api/plan/archive/{runId}, reading the
// archived payload back from object storage.
func (s *apiServer) handlePlanArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.archive == nil {
		http.Error(w, "archive not configured", http.StatusNotFound)
		return
	}
	runID := strings.TrimPrefix(r.URL.Path, "/api/plan/archive/")
	if runID == "" || strings.Contains(runID, "/") {
		http.Error(w, "run id required", http.StatusBadRequest)
		return
	}
	doc, err := s.archive.Get(r.Context(), runID, "plan.json")
	if err != nil {
		http.Error(w, "archived plan not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// handleTraceList serves GET /api/traces?offset=&limit=&status= and
// POST /api/traces (create).
func (s *apiServer) handleTraceList(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		offset := queryInt(r, "offset", 0)
		limit := queryInt(r, "limit", 50)
		status := strings.TrimSpace(r.URL.Query().Get("status"))

		summaries := s.trace.List(offset, limit, status)
		writeJSON(w, http.StatusOK, map[string]any{
			"traces": summaries,
			"count":  len(summaries),
		})
	case http.MethodPost:
		var in struct {
			ID       string         `json:"id"`
			Metadata map[string]any `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		id := strings.TrimSpace(in.ID)
		if id == "" {
			id = uuid.NewString()
		}
		s.trace.Create(id, in.Metadata)
		writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTraceItem serves /api/traces/{id}, /api/traces/{id}/summary,
// /api/traces/{id}/events, /api/traces/{id}/complete and DELETE by id.
func (s *apiServer) handleTraceItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/traces/")
	id, suffix, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "trace id required", http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodDelete && suffix == "":
		if !s.trace.Delete(id) {
			http.Error(w, "trace not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
	case r.Method == http.MethodGet && suffix == "summary":
		summary, ok := s.trace.Summary(id)
		if !ok {
			http.Error(w, "trace not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	case r.Method == http.MethodGet && suffix == "":
		run, ok := s.trace.Get(id)
		if !ok {
			http.Error(w, "trace not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, run)
	case r.Method == http.MethodPost && suffix == "events":
		var in struct {
			Stage  string         `json:"stage"`
			Type   string         `json:"type"`
			Fields map[string]any `json:"fields"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		stage := strings.TrimSpace(in.Stage)
		if stage == "" {
			http.Error(w, "stage is required", http.StatusBadRequest)
			return
		}
		typ := strings.TrimSpace(in.Type)
		if typ == "" {
			typ = trace.EventDebug
		}
		if !s.trace.AddEvent(id, stage, typ, in.Fields) {
			http.Error(w, "trace not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"recorded": true})
	case r.Method == http.MethodPost && suffix == "complete":
		var in struct {
			Status string         `json:"status"`
			Result map[string]any `json:"result"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		status := strings.TrimSpace(in.Status)
		if status == "" {
			status = trace.StatusSuccess
		}
		if !s.trace.Complete(id, status, in.Result) {
			http.Error(w, "trace not found or already completed", http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"completed": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *apiServer) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	alerts := s.alerts.Recent()
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
