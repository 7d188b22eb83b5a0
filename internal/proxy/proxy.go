// Package proxy is the background process's capability boundary to the
// automation backend. It performs network calls for agents and holds no
// automation logic of its own.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"webtestflow/replayer/internal/backend"
	"webtestflow/replayer/internal/models"
	"webtestflow/replayer/internal/relay"
	"webtestflow/replayer/pkg/database"
)

const DefaultBufferCapacity = 50

var ErrNoAPIBase = errors.New("no API base configured for session")

// Backend is the subset of the backend client the proxy calls.
type Backend interface {
	RecordEvent(ctx context.Context, sessionID string, event models.RecordedEvent) (*backend.RecordResult, error)
	GetRun(ctx context.Context, runID string) (*models.AutomationRun, error)
	PostProgress(ctx context.Context, runID string, report models.ProgressReport) error
	ExecuteLLMStep(ctx context.Context, step models.AutomationStep, pageCtx models.LLMStepContext) (*models.StepOutcome, error)
}

// SessionStore persists session configuration and tab bindings.
type SessionStore interface {
	SaveSession(sessionID string, cfg models.SessionConfig) error
	Session(sessionID string) (*models.SessionConfig, error)
	BindTab(tabID, sessionID string) error
	TabSession(tabID string) (string, error)
}

type Broadcaster interface {
	Broadcast(sessionID string, env relay.Envelope) int
}

// BufferedEntry is one raw or summary envelope held for inspection.
type BufferedEntry struct {
	Kind      relay.Kind      `json:"kind"`
	SessionID string          `json:"sessionId"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

type Options struct {
	DefaultAPIBase string
	BufferCapacity int
	// NewBackend builds a client for an API base. Defaults to backend.NewClient.
	NewBackend func(apiBase string) Backend
}

type Proxy struct {
	store      SessionStore
	hub        Broadcaster
	newBackend func(apiBase string) Backend
	defaultAPI string

	mu       sync.RWMutex
	configs  map[string]models.SessionConfig
	backends map[string]Backend

	buffer *Ring[BufferedEntry]
}

func New(store SessionStore, hub Broadcaster, opts Options) *Proxy {
	if opts.NewBackend == nil {
		opts.NewBackend = func(apiBase string) Backend {
			return backend.NewClient(apiBase, 0)
		}
	}
	return &Proxy{
		store:      store,
		hub:        hub,
		newBackend: opts.NewBackend,
		defaultAPI: strings.TrimSpace(opts.DefaultAPIBase),
		configs:    make(map[string]models.SessionConfig),
		backends:   make(map[string]Backend),
		buffer:     NewRing[BufferedEntry](opts.BufferCapacity),
	}
}

// Handle answers one request envelope from an agent.
func (p *Proxy) Handle(ctx context.Context, env relay.Envelope) (relay.Envelope, error) {
	switch env.Kind {
	case relay.KindRecordEvent:
		return p.recordEvent(ctx, env)
	case relay.KindFetchRun:
		return p.fetchRun(ctx, env)
	case relay.KindPostProgress:
		return p.postProgress(ctx, env)
	case relay.KindExecuteLLMStep:
		return p.executeLLMStep(ctx, env)
	case relay.KindGetConfig:
		return p.getConfig(env)
	case relay.KindSetConfig:
		return p.setConfig(env)
	case relay.KindBindSession:
		return p.bindSession(env)
	case relay.KindLookupSession:
		return p.lookupSession(env)
	case relay.KindBufferSnapshot:
		return env.Reply(p.Buffered())
	}
	return relay.Envelope{}, &relay.CodedError{Code: relay.CodeBadRequest, Err: fmt.Errorf("unknown request kind %q", env.Kind)}
}

func (p *Proxy) recordEvent(ctx context.Context, env relay.Envelope) (relay.Envelope, error) {
	if env.SessionID == "" {
		return relay.Envelope{}, badRequest("record_event requires a session id")
	}
	var event models.RecordedEvent
	if err := env.Decode(&event); err != nil {
		return relay.Envelope{}, badRequest(err.Error())
	}
	p.remember(relay.KindRaw, env.SessionID, env.Payload)
	client, err := p.backendFor(env.SessionID)
	if err != nil {
		return relay.Envelope{}, err
	}

	result, err := client.RecordEvent(ctx, env.SessionID, event)
	if err != nil {
		return relay.Envelope{}, backendError(err)
	}
	if len(result.Summary) > 0 {
		p.remember(relay.KindSummary, env.SessionID, result.Summary)
	}
	return env.Reply(relay.RecordResult{Node: result.Node, Summary: result.Summary})
}

func (p *Proxy) fetchRun(ctx context.Context, env relay.Envelope) (relay.Envelope, error) {
	if env.RunID == "" {
		return relay.Envelope{}, badRequest("fetch_run requires a run id")
	}
	client, err := p.backendFor(env.SessionID)
	if err != nil {
		return relay.Envelope{}, err
	}
	run, err := client.GetRun(ctx, env.RunID)
	if err != nil {
		return relay.Envelope{}, backendError(err)
	}
	return env.Reply(run)
}

func (p *Proxy) postProgress(ctx context.Context, env relay.Envelope) (relay.Envelope, error) {
	var post relay.ProgressPost
	if err := env.Decode(&post); err != nil {
		return relay.Envelope{}, badRequest(err.Error())
	}
	if post.RunID == "" {
		post.RunID = env.RunID
	}
	client, err := p.backendFor(env.SessionID)
	if err != nil {
		return relay.Envelope{}, err
	}
	if err := client.PostProgress(ctx, post.RunID, post.Report); err != nil {
		return relay.Envelope{}, backendError(err)
	}
	return env.Reply(nil)
}

func (p *Proxy) executeLLMStep(ctx context.Context, env relay.Envelope) (relay.Envelope, error) {
	var req relay.LLMStepRequest
	if err := env.Decode(&req); err != nil {
		return relay.Envelope{}, badRequest(err.Error())
	}
	client, err := p.backendFor(env.SessionID)
	if err != nil {
		return relay.Envelope{}, err
	}
	outcome, err := client.ExecuteLLMStep(ctx, req.Step, req.Context)
	if err != nil {
		return relay.Envelope{}, backendError(err)
	}
	return env.Reply(outcome)
}

func (p *Proxy) getConfig(env relay.Envelope) (relay.Envelope, error) {
	cfg, err := p.Config(env.SessionID)
	if err != nil {
		return relay.Envelope{}, err
	}
	return env.Reply(cfg)
}

func (p *Proxy) setConfig(env relay.Envelope) (relay.Envelope, error) {
	var cfg models.SessionConfig
	if err := env.Decode(&cfg); err != nil {
		return relay.Envelope{}, badRequest(err.Error())
	}
	if err := p.SetConfig(env.SessionID, cfg); err != nil {
		return relay.Envelope{}, err
	}
	return env.Reply(cfg)
}

func (p *Proxy) bindSession(env relay.Envelope) (relay.Envelope, error) {
	var req relay.BindSession
	if err := env.Decode(&req); err != nil {
		return relay.Envelope{}, badRequest(err.Error())
	}
	if req.SessionID == "" || env.TabID == "" {
		return relay.Envelope{}, badRequest("bind_session requires a session id and a tab id")
	}
	current, err := p.store.TabSession(env.TabID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return relay.Envelope{}, err
	}
	if current != req.SessionID {
		if err := p.store.BindTab(env.TabID, req.SessionID); err != nil {
			return relay.Envelope{}, err
		}
		log.Printf("🔗 Tab %s bound to session %s", env.TabID, req.SessionID)
	}
	return env.Reply(req)
}

func (p *Proxy) lookupSession(env relay.Envelope) (relay.Envelope, error) {
	if env.TabID == "" {
		return relay.Envelope{}, badRequest("lookup_session requires a tab id")
	}
	sessionID, err := p.store.TabSession(env.TabID)
	if errors.Is(err, database.ErrNotFound) {
		return relay.Envelope{}, &relay.CodedError{Code: relay.CodeNotFound, Err: fmt.Errorf("no session bound to tab %s", env.TabID)}
	}
	if err != nil {
		return relay.Envelope{}, err
	}
	result := relay.LookupResult{SessionID: sessionID}
	if cfg, err := p.Config(sessionID); err == nil {
		result.Config = &cfg
	}
	return env.Reply(result)
}

// Config returns the session's configuration, from cache or the store. A
// session with no stored configuration falls back to the default API base.
func (p *Proxy) Config(sessionID string) (models.SessionConfig, error) {
	if sessionID == "" {
		return models.SessionConfig{}, badRequest("session id is required")
	}
	p.mu.RLock()
	cfg, ok := p.configs[sessionID]
	p.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	stored, err := p.store.Session(sessionID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		if p.defaultAPI == "" {
			return models.SessionConfig{}, &relay.CodedError{Code: relay.CodeNotFound, Err: fmt.Errorf("no configuration for session %s", sessionID)}
		}
		return models.SessionConfig{APIBase: p.defaultAPI}, nil
	case err != nil:
		return models.SessionConfig{}, err
	}

	p.mu.Lock()
	p.configs[sessionID] = *stored
	p.mu.Unlock()
	return *stored, nil
}

// SetConfig stores cfg, refreshes the cache and tells the session's tabs.
func (p *Proxy) SetConfig(sessionID string, cfg models.SessionConfig) error {
	if sessionID == "" {
		return badRequest("session id is required")
	}
	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if err := p.store.SaveSession(sessionID, cfg); err != nil {
		return err
	}
	p.mu.Lock()
	p.configs[sessionID] = cfg
	p.mu.Unlock()

	env := relay.MustEnvelope(relay.KindSetConfig, cfg)
	env.SessionID = sessionID
	if p.hub != nil {
		p.hub.Broadcast(sessionID, env)
	}
	log.Printf("⚙️ Session %s configured (apiBase=%s)", sessionID, cfg.APIBase)
	return nil
}

// Buffered returns the most recent raw and summary entries, oldest first.
func (p *Proxy) Buffered() []BufferedEntry {
	return p.buffer.All()
}

// BufferedSince returns the entries recorded after cursor and the cursor to
// pass on the next call.
func (p *Proxy) BufferedSince(cursor Cursor) ([]BufferedEntry, Cursor) {
	return p.buffer.ReadFrom(cursor)
}

func (p *Proxy) BufferCapacity() int { return p.buffer.Capacity() }

func (p *Proxy) remember(kind relay.Kind, sessionID string, payload json.RawMessage) {
	p.buffer.Push(BufferedEntry{Kind: kind, SessionID: sessionID, At: time.Now(), Payload: payload})
}

func (p *Proxy) backendFor(sessionID string) (Backend, error) {
	apiBase := p.defaultAPI
	if sessionID != "" {
		cfg, err := p.Config(sessionID)
		if err != nil && !relay.HasCode(err, relay.CodeNotFound) {
			return nil, err
		}
		if cfg.APIBase != "" {
			apiBase = cfg.APIBase
		}
	}
	if apiBase == "" {
		return nil, &relay.CodedError{Code: relay.CodeNoAPIBase, Err: fmt.Errorf("%w: %q", ErrNoAPIBase, sessionID)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	client, ok := p.backends[apiBase]
	if !ok {
		client = p.newBackend(apiBase)
		p.backends[apiBase] = client
	}
	return client, nil
}

func badRequest(msg string) error {
	return &relay.CodedError{Code: relay.CodeBadRequest, Err: errors.New(msg)}
}

func backendError(err error) error {
	return &relay.CodedError{Code: relay.CodeBackend, Err: err}
}
