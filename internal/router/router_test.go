package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"lessoncoach-backend/internal/handlers"
	"lessoncoach-backend/internal/lesson"
	"lessoncoach-backend/internal/middleware"
	"lessoncoach-backend/internal/playback"
	"lessoncoach-backend/internal/repository"
	"lessoncoach-backend/internal/websocket"
)

type fixture struct {
	handler http.Handler
	sched   *lesson.ManualScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := repository.NewSQLiteStore("file:router?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(store.Close)

	sched := lesson.NewManualScheduler(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	manager := playback.NewManager(playback.Config{Store: store, Scheduler: sched})
	hub := websocket.NewHub(nil, manager, nil)
	limiter := middleware.NewRateLimiter(100, time.Minute)
	t.Cleanup(limiter.Stop)

	h := New(zap.NewNop(), store,
		handlers.NewLessonHandler(manager),
		handlers.NewRecordingHandler(manager),
		handlers.NewPlaybackHandler(manager),
		hub, limiter, "http://localhost:5173")
	return &fixture{handler: h, sched: sched}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if out != nil && rr.Body.Len() > 0 {
		if err := json.NewDecoder(rr.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return rr.Code
}

func TestRouter_RecordAndPlayBack(t *testing.T) {
	f := newFixture(t)

	if code := f.do(t, http.MethodGet, "/health", nil, nil); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}

	var started struct {
		RecordingID string `json:"recording_id"`
	}
	if code := f.do(t, http.MethodPost, "/api/v1/recordings", map[string]string{"title": "Colors"}, &started); code != http.StatusCreated {
		t.Fatalf("start recording = %d", code)
	}
	recPath := "/api/v1/recordings/" + started.RecordingID

	f.sched.Advance(1500 * time.Millisecond)
	interaction := map[string]interface{}{"type": "input", "data": map[string]string{"value": "red", "instruction": "Type the color"}}
	if code := f.do(t, http.MethodPost, recPath+"/interactions", interaction, nil); code != http.StatusOK {
		t.Fatalf("log interaction = %d", code)
	}

	var stopped struct {
		LessonID string `json:"lesson_id"`
	}
	if code := f.do(t, http.MethodPost, recPath+"/stop", nil, &stopped); code != http.StatusCreated {
		t.Fatalf("stop recording = %d", code)
	}
	if code := f.do(t, http.MethodPost, recPath+"/stop", nil, nil); code != http.StatusNotFound {
		t.Fatalf("second stop = %d, want 404", code)
	}

	var list struct {
		Total int `json:"total"`
	}
	f.do(t, http.MethodGet, "/api/v1/lessons", nil, &list)
	if list.Total != 1 {
		t.Fatalf("lessons total = %d, want 1", list.Total)
	}

	var view playback.SessionView
	if code := f.do(t, http.MethodPost, "/api/v1/playback", map[string]string{"lesson_id": stopped.LessonID}, &view); code != http.StatusCreated {
		t.Fatalf("start playback = %d", code)
	}
	if view.State != "awaiting_input" {
		t.Fatalf("state = %s", view.State)
	}
	sessionPath := "/api/v1/playback/" + view.Session.ID.String()

	if code := f.do(t, http.MethodPost, sessionPath+"/validate", map[string]string{"text": " RED "}, &view); code != http.StatusOK {
		t.Fatalf("validate = %d", code)
	}
	if view.Session.Score.Correct != 1 || view.Session.Score.Total != 1 {
		t.Fatalf("score = %+v, want 1/1", view.Session.Score)
	}
	if code := f.do(t, http.MethodPost, sessionPath+"/validate", map[string]string{"text": "red"}, nil); code != http.StatusConflict {
		t.Fatalf("validate while advancing = %d, want 409", code)
	}

	f.sched.Advance(lesson.DefaultAdvanceDelay)

	if code := f.do(t, http.MethodPost, sessionPath+"/abort", nil, &view); code != http.StatusOK {
		t.Fatalf("abort = %d", code)
	}
	if view.State != "completed" || view.Session.FinalScorePercent == nil || *view.Session.FinalScorePercent != 100 {
		t.Fatalf("after abort: %+v", view)
	}

	var actions struct {
		Actions []json.RawMessage `json:"actions"`
	}
	f.do(t, http.MethodGet, sessionPath+"/actions", nil, &actions)
	if len(actions.Actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions.Actions))
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestRouter_HealthDegraded(t *testing.T) {
	limiter := middleware.NewRateLimiter(1, time.Minute)
	defer limiter.Stop()
	manager := playback.NewManager(playback.Config{})
	h := New(zap.NewNop(), failingPinger{},
		handlers.NewLessonHandler(manager),
		handlers.NewRecordingHandler(manager),
		handlers.NewPlaybackHandler(manager),
		websocket.NewHub(nil, manager, nil), limiter, "*")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("health = %d, want 503", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}
