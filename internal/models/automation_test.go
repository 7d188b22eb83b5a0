package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestNormalizeEngine(t *testing.T) {
	assert.Equal(t, EngineLLM, NormalizeEngine(" LLM "))
	assert.Equal(t, EngineHybrid, NormalizeEngine("hybrid"))
	assert.Equal(t, EngineDeterministic, NormalizeEngine(""))
	assert.Equal(t, EngineDeterministic, NormalizeEngine("quantum"))
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name    string
		from    StepStatus
		to      StepStatus
		wantErr bool
	}{
		{"pending to running", StepPending, StepRunning, false},
		{"empty counts as pending", "", StepRunning, false},
		{"running to succeeded", StepRunning, StepSucceeded, false},
		{"running to skipped", StepRunning, StepSkipped, false},
		{"running to failed", StepRunning, StepFailed, false},
		{"pending straight to succeeded", StepPending, StepSucceeded, true},
		{"pending straight to skipped", StepPending, StepSkipped, true},
		{"terminal is final", StepSucceeded, StepFailed, true},
		{"no going back", StepRunning, StepPending, true},
		{"running twice", StepRunning, StepRunning, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := AutomationStep{Index: 3, Status: tt.from}
			err := step.Advance(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, step.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, step.Status)
		})
	}
}

func TestUserValue(t *testing.T) {
	assert.Equal(t, "", (&AutomationStep{}).UserValue())
	assert.Equal(t, "hello", (&AutomationStep{Hints: map[string]interface{}{"user_value": "hello"}}).UserValue())
	assert.Equal(t, "42", (&AutomationStep{Hints: map[string]interface{}{"user_value": 42}}).UserValue())
	assert.Equal(t, "", (&AutomationStep{Hints: map[string]interface{}{"user_value": nil}}).UserValue())
}

func TestSortSteps(t *testing.T) {
	run := AutomationRun{Steps: []AutomationStep{
		{Index: 0, Title: "c", Order: intPtr(3)},
		{Index: 1, Title: "a", Order: intPtr(1)},
		{Index: 2, Title: "b"},
		{Index: 5, Title: "d", Order: intPtr(3)},
	}}
	run.SortSteps()

	var titles []string
	for _, s := range run.Steps {
		titles = append(titles, s.Title)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, titles)
}

func TestAggregate(t *testing.T) {
	steps := func(statuses ...StepStatus) []AutomationStep {
		out := make([]AutomationStep, len(statuses))
		for i, s := range statuses {
			out[i] = AutomationStep{Index: i, Status: s}
		}
		return out
	}

	tests := []struct {
		name string
		run  AutomationRun
		want RunStatus
	}{
		{"idle before start", AutomationRun{Status: RunIdle, Steps: steps(StepPending, StepPending)}, RunIdle},
		{"running midway", AutomationRun{Status: RunRunning, Steps: steps(StepSucceeded, StepRunning)}, RunRunning},
		{"any failure fails", AutomationRun{Status: RunRunning, Steps: steps(StepSucceeded, StepFailed, StepPending)}, RunFailed},
		{"skips count as success", AutomationRun{Status: RunRunning, Steps: steps(StepSucceeded, StepSkipped)}, RunSucceeded},
		{"zero steps after start", AutomationRun{Status: RunRunning}, RunSucceeded},
		{"zero steps idle", AutomationRun{}, RunIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.run.Aggregate())
		})
	}
}

func TestReset(t *testing.T) {
	run := AutomationRun{Status: RunFailed, Steps: []AutomationStep{{Status: StepFailed}, {Status: StepSucceeded}}}
	run.Reset()
	assert.Equal(t, RunIdle, run.Status)
	for _, s := range run.Steps {
		assert.Equal(t, StepPending, s.Status)
	}
}

func TestAutomationRunDecode(t *testing.T) {
	raw := `{"run_id":"r1","engine":"llm","steps":[{"index":0,"title":"Open","selectorCandidates":["#a"],"hints":{"user_value":"x"}}]}`
	var run AutomationRun
	require.NoError(t, json.Unmarshal([]byte(raw), &run))
	assert.Equal(t, "r1", run.RunID)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, []string{"#a"}, run.Steps[0].SelectorCandidates)
	assert.Equal(t, "x", run.Steps[0].UserValue())
}
