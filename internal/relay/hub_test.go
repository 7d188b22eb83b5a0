package relay

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu  sync.Mutex
	got []Envelope
	err error
}

func (s *sink) push(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, env)
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestHubBroadcastFiltersBySessionParam(t *testing.T) {
	hub := NewHub()
	a, b, c := &sink{}, &sink{}, &sink{}
	hub.Register("tab-a", "http://app.local/?session=s1", a.push)
	hub.Register("tab-b", "http://app.local/#/edit?session=s1", b.push)
	hub.Register("tab-c", "http://app.local/?session=s2", c.push)

	n := hub.Broadcast("s1", MustEnvelope(KindSetConfig, map[string]string{"apiBase": "x"}))
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 0, c.count())

	assert.Equal(t, 0, hub.Broadcast("", Envelope{Kind: KindSetConfig}))
}

func TestHubBroadcastSkipsFailingTabs(t *testing.T) {
	hub := NewHub()
	ok, broken := &sink{}, &sink{err: errors.New("closed")}
	hub.Register("ok", "http://a/?session=s", ok.push)
	hub.Register("broken", "http://a/?session=s", broken.push)

	assert.Equal(t, 1, hub.Broadcast("s", Envelope{Kind: KindSetConfig}))
}

func TestHubSetURLChangesBroadcastTargets(t *testing.T) {
	hub := NewHub()
	s := &sink{}
	hub.Register("tab", "http://a/", s.push)
	assert.Equal(t, 0, hub.Broadcast("s1", Envelope{Kind: KindSetConfig}))

	hub.SetURL("tab", "http://a/?session=s1")
	assert.Equal(t, 1, hub.Broadcast("s1", Envelope{Kind: KindSetConfig}))
}

func TestHubReconnectReplacesRegistration(t *testing.T) {
	hub := NewHub()
	first, second := &sink{}, &sink{}
	unregisterFirst := hub.Register("tab", "http://a/?session=s", first.push)
	hub.Register("tab", "http://a/?session=s", second.push)

	unregisterFirst()
	require.Len(t, hub.Tabs(), 1)

	hub.Broadcast("s", Envelope{Kind: KindSetConfig})
	assert.Equal(t, 0, first.count())
	assert.Equal(t, 1, second.count())
}

func TestHubDispatchPrefersIdleTabs(t *testing.T) {
	hub := NewHub()
	busy, idle := &sink{}, &sink{}
	hub.Register("a-busy", "http://a/?session=s1", busy.push)
	hub.Register("b-idle", "about:blank", idle.push)

	tabID, err := hub.Dispatch(MustEnvelope(KindNavigate, TabURL{URL: "http://target/"}))
	require.NoError(t, err)
	assert.Equal(t, "b-idle", tabID)
	assert.Equal(t, 1, idle.count())
	assert.Equal(t, 0, busy.count())
}

func TestHubDispatchFallsBackOnFailure(t *testing.T) {
	hub := NewHub()
	broken, busy := &sink{err: errors.New("closed")}, &sink{}
	hub.Register("idle", "about:blank", broken.push)
	hub.Register("busy", "http://a/?session=s1", busy.push)

	tabID, err := hub.Dispatch(Envelope{Kind: KindNavigate})
	require.NoError(t, err)
	assert.Equal(t, "busy", tabID)
}

func TestHubDispatchWithoutTabs(t *testing.T) {
	_, err := NewHub().Dispatch(Envelope{Kind: KindNavigate})
	assert.ErrorIs(t, err, ErrNoListener)
}

func TestHubTabs(t *testing.T) {
	hub := NewHub()
	hub.Register("b", "http://a/?session=s1", (&sink{}).push)
	hub.Register("a", "http://a/", (&sink{}).push)

	tabs := hub.Tabs()
	require.Len(t, tabs, 2)
	assert.Equal(t, "a", tabs[0].TabID)
	assert.Equal(t, "", tabs[0].SessionID)
	assert.Equal(t, "s1", tabs[1].SessionID)
}
