package relay

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds every request that has no earlier deadline.
const DefaultTimeout = 10 * time.Second

// ErrNoListener is returned when nothing is listening on the other end of a hop.
var ErrNoListener = errors.New("relay: no listener for request")

// Requester sends a request envelope and waits for its single response.
type Requester interface {
	Request(ctx context.Context, env Envelope) (Envelope, error)
}

// Handler answers request envelopes on the background side.
type Handler interface {
	Handle(ctx context.Context, env Envelope) (Envelope, error)
}

type HandlerFunc func(ctx context.Context, env Envelope) (Envelope, error)

func (f HandlerFunc) Handle(ctx context.Context, env Envelope) (Envelope, error) {
	return f(ctx, env)
}

// LocalBus delivers requests to an in-process handler, with the same error
// and timeout semantics as the websocket transport.
type LocalBus struct {
	handler Handler
	timeout time.Duration
}

func NewLocalBus(handler Handler, timeout time.Duration) *LocalBus {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LocalBus{handler: handler, timeout: timeout}
}

func (b *LocalBus) Request(ctx context.Context, env Envelope) (Envelope, error) {
	if b == nil || b.handler == nil {
		return Envelope{}, fmt.Errorf("%s: %w", env.Kind, ErrNoListener)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan Envelope, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ErrorEnvelope(env, fmt.Errorf("handler panic: %v", r))
			}
		}()
		resp, err := b.handler.Handle(ctx, env)
		if err != nil {
			done <- ErrorEnvelope(env, err)
			return
		}
		resp.ID = env.ID
		done <- resp
	}()

	select {
	case resp := <-done:
		return Unwrap(resp)
	case <-ctx.Done():
		return Envelope{}, fmt.Errorf("%s: %w", env.Kind, ctx.Err())
	}
}

// SessionScoped fills in a missing session id, resolved lazily, before
// forwarding envelopes of the listed kinds.
type SessionScoped struct {
	next    Requester
	resolve func(ctx context.Context) (string, error)
	kinds   map[Kind]bool
}

func WithSession(next Requester, resolve func(ctx context.Context) (string, error), kinds ...Kind) *SessionScoped {
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return &SessionScoped{next: next, resolve: resolve, kinds: set}
}

func (s *SessionScoped) Request(ctx context.Context, env Envelope) (Envelope, error) {
	if env.SessionID == "" && s.kinds[env.Kind] {
		sessionID, err := s.resolve(ctx)
		if err != nil {
			return Envelope{}, fmt.Errorf("%s: resolve session: %w", env.Kind, err)
		}
		env.SessionID = sessionID
	}
	return s.next.Request(ctx, env)
}
