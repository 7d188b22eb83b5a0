package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, env Envelope) (Envelope, error) {
		return env.Reply(map[string]string{"echo": string(env.Kind)})
	})
}

func TestLocalBusRoundTrip(t *testing.T) {
	bus := NewLocalBus(echoHandler(), time.Second)
	resp, err := bus.Request(context.Background(), Envelope{ID: "1", Kind: KindGetConfig, SessionID: "s1"})
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, "get_config", body["echo"])
	assert.Equal(t, "1", resp.ID)
	assert.Equal(t, "s1", resp.SessionID)
}

func TestLocalBusNoListener(t *testing.T) {
	_, err := NewLocalBus(nil, time.Second).Request(context.Background(), Envelope{Kind: KindRecordEvent})
	assert.ErrorIs(t, err, ErrNoListener)

	var nilBus *LocalBus
	_, err = nilBus.Request(context.Background(), Envelope{Kind: KindRecordEvent})
	assert.ErrorIs(t, err, ErrNoListener)
}

func TestLocalBusTimeout(t *testing.T) {
	slow := HandlerFunc(func(ctx context.Context, env Envelope) (Envelope, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return env.Reply(nil)
	})
	_, err := NewLocalBus(slow, 20*time.Millisecond).Request(context.Background(), Envelope{Kind: KindFetchRun})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalBusCodedError(t *testing.T) {
	failing := HandlerFunc(func(ctx context.Context, env Envelope) (Envelope, error) {
		return Envelope{}, &CodedError{Code: CodeNoAPIBase, Err: errors.New("not configured")}
	})
	_, err := NewLocalBus(failing, time.Second).Request(context.Background(), Envelope{Kind: KindRecordEvent})
	require.Error(t, err)
	assert.True(t, HasCode(err, CodeNoAPIBase))
	assert.False(t, HasCode(err, CodeNotFound))

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "not configured", remote.Message)
}

func TestLocalBusRecoversPanics(t *testing.T) {
	panicky := HandlerFunc(func(ctx context.Context, env Envelope) (Envelope, error) {
		panic("kaboom")
	})
	_, err := NewLocalBus(panicky, time.Second).Request(context.Background(), Envelope{Kind: KindFetchRun})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

type recordingRequester struct {
	got []Envelope
}

func (r *recordingRequester) Request(ctx context.Context, env Envelope) (Envelope, error) {
	r.got = append(r.got, env)
	return env, nil
}

func TestWithSessionFillsListedKinds(t *testing.T) {
	next := &recordingRequester{}
	resolves := 0
	scoped := WithSession(next, func(ctx context.Context) (string, error) {
		resolves++
		return "s-42", nil
	}, KindFetchRun)

	_, err := scoped.Request(context.Background(), Envelope{Kind: KindFetchRun})
	require.NoError(t, err)
	_, err = scoped.Request(context.Background(), Envelope{Kind: KindFetchRun, SessionID: "explicit"})
	require.NoError(t, err)
	_, err = scoped.Request(context.Background(), Envelope{Kind: KindTabURL})
	require.NoError(t, err)

	require.Len(t, next.got, 3)
	assert.Equal(t, "s-42", next.got[0].SessionID)
	assert.Equal(t, "explicit", next.got[1].SessionID)
	assert.Equal(t, "", next.got[2].SessionID)
	assert.Equal(t, 1, resolves)
}

func TestWithSessionResolveFailure(t *testing.T) {
	next := &recordingRequester{}
	scoped := WithSession(next, func(ctx context.Context) (string, error) {
		return "", errors.New("no session")
	}, KindRecordEvent)

	_, err := scoped.Request(context.Background(), Envelope{Kind: KindRecordEvent})
	require.Error(t, err)
	assert.Empty(t, next.got)
}
