package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Engine selects how a run, or a single step, is executed.
type Engine string

const (
	EngineDeterministic Engine = "deterministic"
	EngineLLM           Engine = "llm"
	EngineHybrid        Engine = "hybrid"
)

// NormalizeEngine maps unknown or empty values to the deterministic engine.
func NormalizeEngine(v string) Engine {
	switch Engine(strings.ToLower(strings.TrimSpace(v))) {
	case EngineLLM:
		return EngineLLM
	case EngineHybrid:
		return EngineHybrid
	default:
		return EngineDeterministic
	}
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepSkipped   StepStatus = "skipped"
	StepFailed    StepStatus = "failed"
)

func (s StepStatus) Terminal() bool {
	return s == StepSucceeded || s == StepSkipped || s == StepFailed
}

type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type AutomationStep struct {
	Index              int                    `json:"index"`
	Order              *int                   `json:"order,omitempty"`
	Title              string                 `json:"title"`
	Description        string                 `json:"description"`
	ExecutionMode      string                 `json:"execution_mode"`
	SelectorCandidates []string               `json:"selectorCandidates"`
	Hints              map[string]interface{} `json:"hints,omitempty"`
	Status             StepStatus             `json:"status"`
}

// Mode returns the normalized execution mode of the step.
func (s *AutomationStep) Mode() Engine {
	return NormalizeEngine(s.ExecutionMode)
}

// UserValue returns hints.user_value as a string, or "" when absent.
func (s *AutomationStep) UserValue() string {
	if s.Hints == nil {
		return ""
	}
	switch v := s.Hints["user_value"].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Advance moves the step forward. Statuses never go back, and a terminal
// status is set at most once.
func (s *AutomationStep) Advance(next StepStatus) error {
	current := s.Status
	if current == "" {
		current = StepPending
	}
	switch {
	case current == StepPending && next == StepRunning:
	case current == StepRunning && next.Terminal():
	default:
		return fmt.Errorf("%w: step %d %s -> %s", ErrInvalidTransition, s.Index, current, next)
	}
	s.Status = next
	return nil
}

type AutomationRun struct {
	RunID        string           `json:"run_id"`
	AutomationID string           `json:"automation_id"`
	Engine       string           `json:"engine"`
	Status       RunStatus        `json:"status"`
	Name         string           `json:"name"`
	Steps        []AutomationStep `json:"steps"`
}

// SortSteps orders steps by order, falling back to index on ties or when no
// explicit order is set.
func (r *AutomationRun) SortSteps() {
	sort.SliceStable(r.Steps, func(i, j int) bool {
		oi, oj := r.Steps[i].sortKey(), r.Steps[j].sortKey()
		if oi != oj {
			return oi < oj
		}
		return r.Steps[i].Index < r.Steps[j].Index
	})
}

func (s *AutomationStep) sortKey() int {
	if s.Order != nil {
		return *s.Order
	}
	return s.Index
}

// Aggregate derives the run status from its steps: failed iff any step failed,
// succeeded only when every step succeeded or was skipped.
func (r *AutomationRun) Aggregate() RunStatus {
	if len(r.Steps) == 0 {
		if r.Status == RunIdle || r.Status == "" {
			return RunIdle
		}
		return RunSucceeded
	}
	done := true
	for _, step := range r.Steps {
		switch step.Status {
		case StepFailed:
			return RunFailed
		case StepSucceeded, StepSkipped:
		default:
			done = false
		}
	}
	if done {
		return RunSucceeded
	}
	if r.Status == RunIdle || r.Status == "" {
		return RunIdle
	}
	return RunRunning
}

// Reset puts every step back to pending; used once when a fetched run is
// about to be executed in this page load.
func (r *AutomationRun) Reset() {
	r.Status = RunIdle
	for i := range r.Steps {
		r.Steps[i].Status = StepPending
	}
}
