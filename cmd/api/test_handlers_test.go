package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/alert"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/cache/memory"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/llm"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/orchestrator"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/store"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/stream"
	"github.com/RisingLegendNzl/cheffy-proxy-sub003/internal/trace"
)

func newTestServer(t *testing.T) (*apiServer, *httptest.Server) {
	t.Helper()
	logger := log.New(&strings.Builder{}, "", 0)
	recorder := trace.NewRecorder(50, 200, time.Hour, logger)
	alerts := alert.NewEngine(alert.Config{Logger: logger})
	t.Cleanup(alerts.Close)
	plans := store.NewMemory()

	orch := orchestrator.New(orchestrator.Deps{
		Cache:    memory.NewLRUTTL(128, time.Hour),
		Primary:  llm.NewFakeClient(),
		Fallback: llm.NewFakeClient(),
		Trace:    recorder,
		Alerts:   alerts,
		Plans:    plans,
		Logger:   logger,
		Sleep:    func(time.Duration) {},
	}, orchestrator.Config{})

	api := newAPIServer(orch, recorder, alerts, stream.NewBroker(), plans, nil, logger)
	srv := httptest.NewServer(api.routes())
	t.Cleanup(srv.Close)
	return api, srv
}

const validBody = `{
	"profile": {"userId": "u-1", "bodyWeightKg": 80, "mealsPerDay": 3},
	"targets": {"calories": 2400, "proteinG": 180, "carbsG": 250, "fatG": 70},
	"days": 2
}`

type sseEvent struct {
	Type string
	Data map[string]any
}

func readSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			if v, ok := strings.CutPrefix(line, "event: "); ok {
				ev.Type = v
			}
			if v, ok := strings.CutPrefix(line, "data: "); ok {
				require.NoError(t, json.Unmarshal([]byte(v), &ev.Data))
			}
		}
		out = append(out, ev)
	}
	return out
}

func TestGenerateStreamsFullRun(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/plan/generate", "application/json", strings.NewReader(validBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	events := readSSE(t, string(body))
	require.NotEmpty(t, events)

	final := events[len(events)-1]
	require.Equal(t, stream.EventPlanComplete, final.Type)
	stats := final.Data["stats"].(map[string]any)
	assert.Equal(t, float64(2), stats["totalDays"])
	assert.Equal(t, float64(2), stats["successfulDays"])

	var dayStarts int
	for _, ev := range events {
		if ev.Type == stream.EventDayStart {
			dayStarts++
		}
		if ev.Data != nil {
			assert.NotEmpty(t, ev.Data["traceId"], "every event carries correlation metadata")
		}
	}
	assert.Equal(t, 2, dayStarts)
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	_, srv := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"garbage", `{not json`},
		{"missing profile", `{"targets":{"calories":2000},"days":2}`},
		{"missing targets", `{"profile":{"userId":"u-1"},"days":2}`},
		{"empty body", `{}`},
		{"zero days", `{"profile":{},"targets":{"calories":2000},"days":0}`},
		{"too many days", `{"profile":{},"targets":{"calories":2000},"days":99}`},
		{"no calories", `{"profile":{},"targets":{"calories":0},"days":2}`},
		{"negative macro", `{"profile":{},"targets":{"calories":2000,"proteinG":-1},"days":2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/plan/generate", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEqual(t, "text/event-stream", resp.Header.Get("Content-Type"),
				"no stream may open for an invalid request")
		})
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/plan/generate", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestTraceEndpoints(t *testing.T) {
	api, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/plan/generate", "application/json", strings.NewReader(validBody))
	require.NoError(t, err)
	resp.Body.Close()

	summaries := api.trace.List(0, 10, "")
	require.Len(t, summaries, 1)
	runID := summaries[0].ID

	resp, err = http.Get(srv.URL + "/api/traces")
	require.NoError(t, err)
	var listBody struct {
		Count  int               `json:"count"`
		Traces []json.RawMessage `json:"traces"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listBody))
	resp.Body.Close()
	assert.Equal(t, 1, listBody.Count)

	resp, err = http.Get(srv.URL + "/api/traces/" + runID)
	require.NoError(t, err)
	var run trace.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	resp.Body.Close()
	assert.Equal(t, trace.StatusSuccess, run.Status)
	assert.NotEmpty(t, run.Events)

	resp, err = http.Get(srv.URL + "/api/traces/" + runID + "/summary")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/traces/"+runID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/traces/" + runID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExternalTraceLifecycle(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/traces", "application/json",
		strings.NewReader(`{"metadata":{"source":"worker","apiKey":"s3cret"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.NotEmpty(t, created.ID)

	resp, err = http.Post(srv.URL+"/api/traces/"+created.ID+"/events", "application/json",
		strings.NewReader(`{"stage":"ingest","type":"stage_start","fields":{"rows":10}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/traces/unknown-run/events", "application/json",
		strings.NewReader(`{"stage":"ingest"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/traces/"+created.ID+"/complete", "application/json",
		strings.NewReader(`{"status":"success"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Completing twice conflicts.
	resp, err = http.Post(srv.URL+"/api/traces/"+created.ID+"/complete", "application/json",
		strings.NewReader(`{"status":"success"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/traces/" + created.ID)
	require.NoError(t, err)
	var run trace.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	resp.Body.Close()
	assert.Equal(t, trace.StatusSuccess, run.Status)
	assert.Equal(t, "[REDACTED]", run.Metadata["apiKey"], "sensitive metadata is redacted on the way in")
	assert.Equal(t, 1, run.StageCount)
}

func TestLatestPlanEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/plan/latest?user=u-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/plan/generate", "application/json", strings.NewReader(validBody))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/plan/latest?user=u-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc orchestrator.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, 2, doc.Stats.TotalDays)

	resp, err = http.Get(srv.URL + "/api/plan/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlanHistoryEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/plan/history")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Two runs for the same user build up a newest-first history.
	for i := 0; i < 2; i++ {
		resp, err = http.Post(srv.URL+"/api/plan/generate", "application/json", strings.NewReader(validBody))
		require.NoError(t, err)
		resp.Body.Close()
	}

	resp, err = http.Get(srv.URL + "/api/plan/history?user=u-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count int `json:"count"`
		Plans []struct {
			Plan orchestrator.Result `json:"plan"`
		} `json:"plans"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, 2, body.Plans[0].Plan.Stats.TotalDays)

	resp, err = http.Get(srv.URL + "/api/plan/history?user=u-1&limit=1")
	require.NoError(t, err)
	var limited struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&limited))
	resp.Body.Close()
	assert.Equal(t, 1, limited.Count)
}

type fakeArchive struct {
	docs map[string][]byte
}

func (f *fakeArchive) Get(_ context.Context, runID, path string) ([]byte, error) {
	doc, ok := f.docs[runID+"/"+path]
	if !ok {
		return nil, errors.New("object not found")
	}
	return doc, nil
}

func TestPlanArchiveEndpoint(t *testing.T) {
	api, srv := newTestServer(t)

	// Unconfigured archive answers not-found rather than erroring.
	resp, err := http.Get(srv.URL + "/api/plan/archive/run-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	api.archive = &fakeArchive{docs: map[string][]byte{
		"run-1/plan.json": []byte(`{"runId":"run-1","status":"success"}`),
	}}

	resp, err = http.Get(srv.URL + "/api/plan/archive/run-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "run-1", doc["runId"])

	resp, err = http.Get(srv.URL + "/api/plan/archive/run-missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecentAlertsEndpoint(t *testing.T) {
	api, srv := newTestServer(t)
	api.alerts.Emit(alert.LevelWarning, "nutrition.protein_ratio", map[string]any{"value": 1.3})

	resp, err := http.Get(srv.URL + "/api/alerts/recent")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Count  int           `json:"count"`
		Alerts []alert.Alert `json:"alerts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "nutrition.protein_ratio", body.Alerts[0].Metric)
	assert.NotEmpty(t, body.Alerts[0].ID)
}

func TestWatchWebSocketReceivesMirroredEvents(t *testing.T) {
	api, srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/watch/run-ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscriber registers before Upgrade returns, so this publish is
	// always observed.
	api.broker.Publish("run-ws", stream.Event{
		Type:    stream.EventPlanComplete,
		Payload: map[string]any{"status": "success"},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev stream.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, stream.EventPlanComplete, ev.Type)
	assert.Equal(t, "success", ev.Payload["status"])

	// Terminal event closes the socket from the server side.
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
