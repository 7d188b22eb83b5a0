// Package identity resolves which recording session a page load belongs to,
// either from the navigation or from the background's tab binding.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"webtestflow/replayer/internal/models"
	"webtestflow/replayer/internal/relay"
)

var ErrNoSession = errors.New("no session bound to this tab")

// Resolver lives for one page load. Concurrent callers share a single
// in-flight resolution and a single in-flight configuration fetch; a caller
// that gives up does not cancel the shared request for the others.
type Resolver struct {
	bus     relay.Requester
	group   singleflight.Group
	timeout time.Duration

	mu        sync.RWMutex
	sessionID string
	config    *models.SessionConfig
}

func New(bus relay.Requester) *Resolver {
	return &Resolver{bus: bus, timeout: relay.DefaultTimeout}
}

// Current returns the resolved session id, if any.
func (r *Resolver) Current() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID, r.sessionID != ""
}

// Resolve returns the session for this page load. An explicit id is bound to
// the tab and adopted; otherwise the tab's existing binding is looked up.
func (r *Resolver) Resolve(ctx context.Context, explicit string) (string, error) {
	if current, ok := r.Current(); ok && (explicit == "" || explicit == current) {
		return current, nil
	}

	v, err := r.shared(ctx, "session:"+explicit, func(ctx context.Context) (interface{}, error) {
		if explicit != "" {
			return r.bind(ctx, explicit)
		}
		return r.lookup(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// shared runs fn once per key for all concurrent callers. fn gets a context
// detached from the caller and bounded by the resolver's timeout.
func (r *Resolver) shared(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ch := r.group.DoChan(key, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return fn(flightCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) bind(ctx context.Context, sessionID string) (string, error) {
	env := relay.MustEnvelope(relay.KindBindSession, relay.BindSession{SessionID: sessionID})
	env.SessionID = sessionID
	if _, err := r.bus.Request(ctx, env); err != nil {
		log.Printf("⚠️ Failed to bind session %s to tab: %v", sessionID, err)
	}
	r.adopt(sessionID, nil)
	return sessionID, nil
}

func (r *Resolver) lookup(ctx context.Context) (string, error) {
	resp, err := r.bus.Request(ctx, relay.Envelope{Kind: relay.KindLookupSession})
	if relay.HasCode(err, relay.CodeNotFound) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	var result relay.LookupResult
	if err := resp.Decode(&result); err != nil {
		return "", err
	}
	if result.SessionID == "" {
		return "", ErrNoSession
	}
	r.adopt(result.SessionID, result.Config)
	log.Printf("🔁 Recovered session %s for tab", result.SessionID)
	return result.SessionID, nil
}

func (r *Resolver) adopt(sessionID string, cfg *models.SessionConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID != sessionID {
		r.config = nil
	}
	r.sessionID = sessionID
	if cfg != nil {
		c := *cfg
		r.config = &c
	}
}

// Config returns the session configuration, fetched once and cached for the
// page load.
func (r *Resolver) Config(ctx context.Context) (models.SessionConfig, error) {
	r.mu.RLock()
	cached := r.config
	r.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	sessionID, err := r.Resolve(ctx, "")
	if err != nil {
		return models.SessionConfig{}, err
	}

	v, err := r.shared(ctx, "config:"+sessionID, func(ctx context.Context) (interface{}, error) {
		env := relay.Envelope{Kind: relay.KindGetConfig, SessionID: sessionID}
		resp, err := r.bus.Request(ctx, env)
		if err != nil {
			return nil, fmt.Errorf("fetch config for %s: %w", sessionID, err)
		}
		var cfg models.SessionConfig
		if err := resp.Decode(&cfg); err != nil {
			return nil, err
		}
		r.Update(sessionID, cfg)
		return cfg, nil
	})
	if err != nil {
		return models.SessionConfig{}, err
	}
	return v.(models.SessionConfig), nil
}

// Update replaces the cached configuration when it belongs to the current
// session, as happens when the background pushes a new one.
func (r *Resolver) Update(sessionID string, cfg models.SessionConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID != sessionID {
		return
	}
	r.config = &cfg
}
