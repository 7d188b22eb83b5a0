package relay

import (
	"log"
	"sync"

	"webtestflow/replayer/internal/models"
)

// Feed is the in-process fan-out used for local feedback (raw events,
// summaries, automation progress) to observers such as an overlay.
type Feed struct {
	mu   sync.RWMutex
	subs map[int]chan Envelope
	next int
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Envelope)}
}

// Publish never blocks; a subscriber whose buffer is full misses the envelope.
func (f *Feed) Publish(env Envelope) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, ch := range f.subs {
		select {
		case ch <- env:
		default:
			log.Printf("⚠️ Feed subscriber %d is full, dropping %s", id, env.Kind)
		}
	}
}

func (f *Feed) Subscribe(buffer int) (<-chan Envelope, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Envelope, buffer)
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}

// RunState is what an observer knows about the current run.
type RunState struct {
	RunID          string                  `json:"runId"`
	AutomationID   string                  `json:"automationId"`
	Engine         string                  `json:"engine"`
	AutomationName string                  `json:"automationName"`
	Status         models.RunStatus        `json:"status"`
	Message        string                  `json:"message,omitempty"`
	Steps          []models.AutomationStep `json:"steps"`
}

// RunView folds automation notifications into a RunState. Applying the same
// progress notification twice leaves the state unchanged.
type RunView struct {
	mu    sync.RWMutex
	state RunState
}

func (v *RunView) Apply(env Envelope) error {
	switch env.Kind {
	case KindAutomationInit:
		var init AutomationInit
		if err := env.Decode(&init); err != nil {
			return err
		}
		v.mu.Lock()
		v.state = RunState{
			RunID:          init.RunID,
			AutomationID:   init.AutomationID,
			Engine:         init.Engine,
			AutomationName: init.AutomationName,
			Status:         init.Status,
			Steps:          append([]models.AutomationStep(nil), init.Steps...),
		}
		v.mu.Unlock()

	case KindAutomationProgress:
		var p AutomationProgress
		if err := env.Decode(&p); err != nil {
			return err
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if p.RunID != v.state.RunID {
			return nil
		}
		if p.StepIndex < 0 || p.StepIndex >= len(v.state.Steps) {
			log.Printf("⚠️ Progress for unknown step %d of run %s ignored", p.StepIndex, p.RunID)
			return nil
		}
		step := p.Step
		step.Status = p.Status
		v.state.Steps[p.StepIndex] = step
		if v.state.Status == models.RunIdle || v.state.Status == "" {
			v.state.Status = models.RunRunning
		}

	case KindAutomationComplete:
		var c AutomationComplete
		if err := env.Decode(&c); err != nil {
			return err
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if c.RunID != v.state.RunID {
			return nil
		}
		v.state.Status = c.Status
		v.state.Message = c.Message
	}
	return nil
}

func (v *RunView) State() RunState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	state := v.state
	state.Steps = append([]models.AutomationStep(nil), v.state.Steps...)
	return state
}

// Watch applies every automation envelope from ch until it closes.
func (v *RunView) Watch(ch <-chan Envelope) {
	for env := range ch {
		if err := v.Apply(env); err != nil {
			log.Printf("⚠️ RunView: %v", err)
		}
	}
}
