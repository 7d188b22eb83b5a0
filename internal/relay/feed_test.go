package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webtestflow/replayer/internal/models"
)

func initEnvelope(runID string, n int) Envelope {
	steps := make([]models.AutomationStep, n)
	for i := range steps {
		steps[i] = models.AutomationStep{Index: i, Title: "step", Status: models.StepPending}
	}
	return MustEnvelope(KindAutomationInit, AutomationInit{RunID: runID, AutomationID: "auto", Status: models.RunIdle, Steps: steps})
}

func progressEnvelope(runID string, index int, status models.StepStatus) Envelope {
	return MustEnvelope(KindAutomationProgress, AutomationProgress{
		RunID:     runID,
		StepIndex: index,
		Status:    status,
		Step:      models.AutomationStep{Index: index, Title: "step", Status: status},
	})
}

func TestRunViewProgressIsIdempotent(t *testing.T) {
	var view RunView
	require.NoError(t, view.Apply(initEnvelope("r1", 3)))

	p := progressEnvelope("r1", 1, models.StepSucceeded)
	require.NoError(t, view.Apply(p))
	once := view.State()
	require.NoError(t, view.Apply(p))

	assert.Equal(t, once, view.State())
	assert.Equal(t, models.StepSucceeded, once.Steps[1].Status)
	assert.Equal(t, models.StepPending, once.Steps[0].Status)
	assert.Equal(t, models.RunRunning, once.Status)
}

func TestRunViewIgnoresOtherRuns(t *testing.T) {
	var view RunView
	require.NoError(t, view.Apply(initEnvelope("r1", 2)))
	require.NoError(t, view.Apply(progressEnvelope("other", 0, models.StepFailed)))
	require.NoError(t, view.Apply(MustEnvelope(KindAutomationComplete, AutomationComplete{RunID: "other", Status: models.RunFailed})))

	state := view.State()
	assert.Equal(t, models.StepPending, state.Steps[0].Status)
	assert.Equal(t, models.RunIdle, state.Status)
}

func TestRunViewIgnoresOutOfRangeStep(t *testing.T) {
	var view RunView
	require.NoError(t, view.Apply(initEnvelope("r1", 1)))
	require.NoError(t, view.Apply(progressEnvelope("r1", 5, models.StepSucceeded)))
	require.NoError(t, view.Apply(progressEnvelope("r1", -1, models.StepSucceeded)))
	assert.Len(t, view.State().Steps, 1)
}

func TestRunViewInitReplacesState(t *testing.T) {
	var view RunView
	require.NoError(t, view.Apply(initEnvelope("r1", 2)))
	require.NoError(t, view.Apply(MustEnvelope(KindAutomationComplete, AutomationComplete{RunID: "r1", Status: models.RunFailed, Message: "boom"})))
	assert.Equal(t, "boom", view.State().Message)

	require.NoError(t, view.Apply(initEnvelope("r2", 4)))
	state := view.State()
	assert.Equal(t, "r2", state.RunID)
	assert.Len(t, state.Steps, 4)
	assert.Empty(t, state.Message)
}

func TestRunViewRejectsMalformedPayload(t *testing.T) {
	var view RunView
	assert.Error(t, view.Apply(Envelope{Kind: KindAutomationInit, Payload: []byte(`{`)}))
}

func TestFeedFanOutAndCancel(t *testing.T) {
	feed := NewFeed()
	a, cancelA := feed.Subscribe(4)
	b, cancelB := feed.Subscribe(4)
	defer cancelB()

	feed.Publish(Envelope{Kind: KindRaw})
	assert.Equal(t, KindRaw, (<-a).Kind)
	assert.Equal(t, KindRaw, (<-b).Kind)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)

	feed.Publish(Envelope{Kind: KindSummary})
	assert.Equal(t, KindSummary, (<-b).Kind)
}

func TestFeedPublishNeverBlocks(t *testing.T) {
	feed := NewFeed()
	_, cancel := feed.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			feed.Publish(Envelope{Kind: KindRaw})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestRunViewWatch(t *testing.T) {
	feed := NewFeed()
	ch, cancel := feed.Subscribe(8)
	var view RunView
	done := make(chan struct{})
	go func() {
		view.Watch(ch)
		close(done)
	}()

	feed.Publish(initEnvelope("r1", 1))
	feed.Publish(progressEnvelope("r1", 0, models.StepSucceeded))
	feed.Publish(MustEnvelope(KindAutomationComplete, AutomationComplete{RunID: "r1", Status: models.RunSucceeded}))
	cancel()
	<-done

	assert.Equal(t, models.RunSucceeded, view.State().Status)
}
