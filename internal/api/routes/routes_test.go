package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webtestflow/replayer/internal/api/handlers"
	"webtestflow/replayer/internal/config"
	"webtestflow/replayer/internal/models"
	"webtestflow/replayer/internal/proxy"
	"webtestflow/replayer/internal/relay"
	"webtestflow/replayer/internal/services"
	"webtestflow/replayer/pkg/auth"
	"webtestflow/replayer/pkg/database"
)

const secret = "routes-test-secret"

type stubLauncher struct {
	err error
}

func (l *stubLauncher) Launch(ctx context.Context, automationID string) (*services.Launch, error) {
	if l.err != nil {
		return nil, l.err
	}
	return &services.Launch{RunID: "r1", AutomationID: automationID, TabID: "tab-1", URL: "https://shop.test/?automation_run=r1"}, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router  *gin.Engine
	handler *handlers.Handler
}

func newTestServer(t *testing.T, launcher handlers.Launcher) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"},
		JWT:      config.JWTConfig{Secret: secret},
	}
	store, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub := relay.NewHub()
	h := &handlers.Handler{
		Proxy:       proxy.New(store, hub, proxy.Options{}),
		Hub:         hub,
		Launcher:    launcher,
		Scheduler:   services.NewScheduler(launcher, 0),
		TokenSecret: []byte(secret),
		TokenExpiry: time.Minute,
	}
	return &testServer{router: SetupRoutes(cfg, h), handler: h}
}

func (s *testServer) do(t *testing.T, method, path, body string) envelope {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var out envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, 200, resp.Code)
	assert.Contains(t, string(resp.Data), "healthy")
}

func TestIssueTabToken(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(t, http.MethodPost, "/api/v1/tabs", "")
	require.Equal(t, 200, resp.Code)
	var issued struct {
		TabID string `json:"tab_id"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &issued))
	assert.NotEmpty(t, issued.TabID)
	tabID, err := auth.ParseTabToken([]byte(secret), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.TabID, tabID)

	resp = s.do(t, http.MethodPost, "/api/v1/tabs", `{"tab_id":"tab-7"}`)
	require.NoError(t, json.Unmarshal(resp.Data, &issued))
	assert.Equal(t, "tab-7", issued.TabID)
}

func TestSessionConfig(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(t, http.MethodGet, "/api/v1/sessions/s1/config", "")
	assert.Equal(t, 404, resp.Code)

	resp = s.do(t, http.MethodPut, "/api/v1/sessions/s1/config", `{"links":{"docs":"https://docs"}}`)
	assert.Equal(t, 400, resp.Code)

	resp = s.do(t, http.MethodPut, "/api/v1/sessions/s1/config", `{"apiBase":"https://api.test/"}`)
	require.Equal(t, 200, resp.Code)
	assert.Equal(t, "session configured", resp.Message)

	resp = s.do(t, http.MethodGet, "/api/v1/sessions/s1/config", "")
	require.Equal(t, 200, resp.Code)
	var cfg models.SessionConfig
	require.NoError(t, json.Unmarshal(resp.Data, &cfg))
	assert.Equal(t, "https://api.test", cfg.APIBase)
}

func TestBufferStartsEmpty(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.do(t, http.MethodGet, "/api/v1/buffer", "")
	require.Equal(t, 200, resp.Code)
	assert.JSONEq(t, `{"entries":[],"cursor":0,"capacity":50}`, string(resp.Data))
}

func TestBufferSinceCursor(t *testing.T) {
	s := newTestServer(t, nil)
	record := func(eventID string) {
		env, err := relay.NewEnvelope(relay.KindRecordEvent, models.RecordedEvent{EventID: eventID})
		require.NoError(t, err)
		env.SessionID = "s1"
		// no API base is configured, so only the raw entry is buffered
		_, err = s.handler.Proxy.Handle(context.Background(), env)
		require.Error(t, err)
	}
	record("e1")
	record("e2")

	var page handlers.BufferPage
	resp := s.do(t, http.MethodGet, "/api/v1/buffer", "")
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Len(t, page.Entries, 2)
	assert.Equal(t, proxy.Cursor(2), page.Cursor)

	record("e3")
	var next handlers.BufferPage
	resp = s.do(t, http.MethodGet, "/api/v1/buffer?since=2", "")
	require.NoError(t, json.Unmarshal(resp.Data, &next))
	require.Len(t, next.Entries, 1)
	var event models.RecordedEvent
	require.NoError(t, json.Unmarshal(next.Entries[0].Payload, &event))
	assert.Equal(t, "e3", event.EventID)
	assert.Equal(t, proxy.Cursor(3), next.Cursor)

	assert.Equal(t, 400, s.do(t, http.MethodGet, "/api/v1/buffer?since=-1", "").Code)
	assert.Equal(t, 400, s.do(t, http.MethodGet, "/api/v1/buffer?since=abc", "").Code)
}

func TestLaunchAutomation(t *testing.T) {
	resp := newTestServer(t, &stubLauncher{}).do(t, http.MethodPost, "/api/v1/automations/a1/launch", "")
	require.Equal(t, 200, resp.Code)
	var launch services.Launch
	require.NoError(t, json.Unmarshal(resp.Data, &launch))
	assert.Equal(t, "a1", launch.AutomationID)
	assert.Equal(t, "r1", launch.RunID)

	resp = newTestServer(t, &stubLauncher{err: fmt.Errorf("dispatch: %w", relay.ErrNoListener)}).
		do(t, http.MethodPost, "/api/v1/automations/a1/launch", "")
	assert.Equal(t, 503, resp.Code)

	resp = newTestServer(t, nil).do(t, http.MethodPost, "/api/v1/automations/a1/launch", "")
	assert.Equal(t, 503, resp.Code)
}

func TestSchedules(t *testing.T) {
	s := newTestServer(t, &stubLauncher{})

	resp := s.do(t, http.MethodPut, "/api/v1/automations/a1/schedule", `{"spec":"@daily"}`)
	require.Equal(t, 200, resp.Code)

	resp = s.do(t, http.MethodPut, "/api/v1/automations/a2/schedule", `{"spec":"whenever"}`)
	assert.Equal(t, 400, resp.Code)

	resp = s.do(t, http.MethodGet, "/api/v1/automations/schedules", "")
	var entries []services.ScheduleEntry
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].AutomationID)

	assert.Equal(t, 200, s.do(t, http.MethodDelete, "/api/v1/automations/a1/schedule", "").Code)
	assert.Equal(t, 404, s.do(t, http.MethodDelete, "/api/v1/automations/a1/schedule", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/tabs", nil)
	req.Header.Set("Origin", "https://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestCORSSimpleRequestEchoesOrigin(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://other.test")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://other.test", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAgentRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, 401, s.do(t, http.MethodGet, "/api/v1/ws/agent", "").Code)
	assert.Equal(t, 401, s.do(t, http.MethodGet, "/api/v1/ws/agent?token=bogus", "").Code)
}

func TestAgentWebSocketRelaysToProxy(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	require.NoError(t, s.handler.Proxy.SetConfig("s1", models.SessionConfig{APIBase: "https://api.test"}))

	token, err := auth.GenerateTabToken([]byte(secret), "tab-1", time.Minute)
	require.NoError(t, err)
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/agent?token=" + token +
		"&url=" + url.QueryEscape("https://shop.test/?session=s1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pushes := make(chan relay.Envelope, 4)
	client, err := relay.DialWS(ctx, endpoint, nil, time.Second, func(env relay.Envelope) { pushes <- env })
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Request(ctx, relay.Envelope{Kind: relay.KindGetConfig, SessionID: "s1"})
	require.NoError(t, err)
	var cfg models.SessionConfig
	require.NoError(t, resp.Decode(&cfg))
	assert.Equal(t, "https://api.test", cfg.APIBase)

	tabs := s.handler.Hub.Tabs()
	require.Len(t, tabs, 1)
	assert.Equal(t, "tab-1", tabs[0].TabID)
	assert.Equal(t, "s1", tabs[0].SessionID)

	update := s.do(t, http.MethodPut, "/api/v1/sessions/s1/config", `{"apiBase":"https://api2.test"}`)
	require.Equal(t, 200, update.Code)
	select {
	case env := <-pushes:
		assert.Equal(t, relay.KindSetConfig, env.Kind)
	case <-time.After(time.Second):
		t.Fatal("config change was not pushed to the tab")
	}
}
