package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webtestflow/replayer/internal/models"
	"webtestflow/replayer/internal/relay"
)

// fakeBus answers session requests the way the background proxy does.
type fakeBus struct {
	mu       sync.Mutex
	calls    map[relay.Kind]int
	delay    time.Duration
	bound    string
	config   models.SessionConfig
	bindErr  error
	lookupFn func() (relay.Envelope, error)
}

func newFakeBus() *fakeBus {
	return &fakeBus{calls: make(map[relay.Kind]int), config: models.SessionConfig{APIBase: "http://api.local"}}
}

func (b *fakeBus) count(kind relay.Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[kind]
}

func (b *fakeBus) Request(ctx context.Context, env relay.Envelope) (relay.Envelope, error) {
	b.mu.Lock()
	b.calls[env.Kind]++
	b.mu.Unlock()
	select {
	case <-time.After(b.delay):
	case <-ctx.Done():
		return relay.Envelope{}, ctx.Err()
	}

	switch env.Kind {
	case relay.KindBindSession:
		if b.bindErr != nil {
			return relay.Envelope{}, b.bindErr
		}
		var req relay.BindSession
		_ = env.Decode(&req)
		b.mu.Lock()
		b.bound = req.SessionID
		b.mu.Unlock()
		return env.Reply(nil)
	case relay.KindLookupSession:
		if b.lookupFn != nil {
			return b.lookupFn()
		}
		b.mu.Lock()
		bound := b.bound
		b.mu.Unlock()
		if bound == "" {
			return relay.Envelope{}, &relay.RemoteError{Kind: env.Kind, Code: relay.CodeNotFound, Message: "unbound"}
		}
		cfg := b.config
		return env.Reply(relay.LookupResult{SessionID: bound, Config: &cfg})
	case relay.KindGetConfig:
		return env.Reply(b.config)
	}
	return relay.Envelope{}, errors.New("unexpected kind")
}

func TestResolveExplicitBindsTab(t *testing.T) {
	bus := newFakeBus()
	r := New(bus)

	sid, err := r.Resolve(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sid)
	assert.Equal(t, "s1", bus.bound)

	current, ok := r.Current()
	assert.True(t, ok)
	assert.Equal(t, "s1", current)
}

func TestResolveExplicitSurvivesBindFailure(t *testing.T) {
	bus := newFakeBus()
	bus.bindErr = errors.New("background unavailable")

	sid, err := New(bus).Resolve(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sid)
}

func TestResolveRecoversBindingAfterReload(t *testing.T) {
	bus := newFakeBus()
	_, err := New(bus).Resolve(context.Background(), "s1")
	require.NoError(t, err)

	reloaded := New(bus)
	sid, err := reloaded.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "s1", sid)

	cfg, err := reloaded.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://api.local", cfg.APIBase)
	assert.Equal(t, 0, bus.count(relay.KindGetConfig))
}

func TestResolveWithoutBinding(t *testing.T) {
	_, err := New(newFakeBus()).Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestResolveLookupFailure(t *testing.T) {
	bus := newFakeBus()
	bus.lookupFn = func() (relay.Envelope, error) {
		return relay.Envelope{}, relay.ErrNoListener
	}
	_, err := New(bus).Resolve(context.Background(), "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, err, relay.ErrNoListener)
}

func TestConcurrentResolveSharesOneRoundTrip(t *testing.T) {
	bus := newFakeBus()
	bus.bound = "s1"
	bus.delay = 50 * time.Millisecond
	r := New(bus)

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid, err := r.Resolve(context.Background(), "")
			assert.NoError(t, err)
			results[i] = sid
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, bus.count(relay.KindLookupSession))
	for _, sid := range results {
		assert.Equal(t, "s1", sid)
	}
}

func TestConcurrentConfigSharesOneFetch(t *testing.T) {
	bus := newFakeBus()
	bus.delay = 50 * time.Millisecond
	r := New(bus)
	_, err := r.Resolve(context.Background(), "s1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Config(context.Background()); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, 1, bus.count(relay.KindGetConfig))

	_, err = r.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, bus.count(relay.KindGetConfig))
}

func TestUpdateOnlyAppliesToCurrentSession(t *testing.T) {
	bus := newFakeBus()
	r := New(bus)
	_, err := r.Resolve(context.Background(), "s1")
	require.NoError(t, err)

	r.Update("other", models.SessionConfig{APIBase: "http://wrong"})
	r.Update("s1", models.SessionConfig{APIBase: "http://pushed"})

	cfg, err := r.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://pushed", cfg.APIBase)
	assert.Equal(t, 0, bus.count(relay.KindGetConfig))
}

func TestCancelledCallerDoesNotFailJoinedResolve(t *testing.T) {
	bus := newFakeBus()
	bus.bound = "s1"
	bus.delay = 100 * time.Millisecond
	r := New(bus)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(first, "")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return bus.count(relay.KindLookupSession) == 1 }, time.Second, time.Millisecond)

	second := make(chan string, 1)
	go func() {
		sid, err := r.Resolve(context.Background(), "")
		assert.NoError(t, err)
		second <- sid
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	select {
	case sid := <-second:
		assert.Equal(t, "s1", sid)
	case <-time.After(time.Second):
		t.Fatal("joined caller did not finish")
	}
	assert.Equal(t, 1, bus.count(relay.KindLookupSession))
}
