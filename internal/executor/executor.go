// Package executor replays automation runs step by step against the page.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"webtestflow/replayer/internal/bootstrap"
	"webtestflow/replayer/internal/dom"
	"webtestflow/replayer/internal/models"
	"webtestflow/replayer/internal/relay"
	"webtestflow/replayer/internal/selector"
)

const (
	DefaultStepDelay = 600 * time.Millisecond

	// CompletionStepIndex marks the run-level progress record.
	CompletionStepIndex = -1
)

// StepResolver resolves and performs a deterministic step.
type StepResolver interface {
	Resolve(ctx context.Context, candidates []string, userValue string) (selector.Result, error)
}

type Options struct {
	StepDelay time.Duration
	SessionID string
}

type Engine struct {
	bus       relay.Requester
	resolver  StepResolver
	page      dom.Page
	feed      *relay.Feed
	stepDelay time.Duration
	sessionID string
}

type RunResult struct {
	RunID   string           `json:"run_id"`
	Status  models.RunStatus `json:"status"`
	Message string           `json:"message"`
	// FailedStep is the index of the failing step, or -1.
	FailedStep int                     `json:"failed_step"`
	Steps      []models.AutomationStep `json:"steps"`
	Logs       []StepLog               `json:"logs"`
}

type StepLog struct {
	Timestamp   time.Time `json:"timestamp"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	StepIndex   int       `json:"step_index"`
	StepTitle   string    `json:"step_title,omitempty"`
	StepStatus  string    `json:"step_status,omitempty"`
	Selector    string    `json:"selector,omitempty"`
	Duration    int64     `json:"duration,omitempty"` // milliseconds
	ErrorDetail string    `json:"error_detail,omitempty"`
}

func New(bus relay.Requester, resolver StepResolver, page dom.Page, feed *relay.Feed, opts Options) *Engine {
	if opts.StepDelay < 0 {
		opts.StepDelay = DefaultStepDelay
	}
	return &Engine{
		bus:       bus,
		resolver:  resolver,
		page:      page,
		feed:      feed,
		stepDelay: opts.StepDelay,
		sessionID: opts.SessionID,
	}
}

// Start runs the identified automation in the background.
func (e *Engine) Start(ctx context.Context, id bootstrap.RunIdentity) {
	go func() {
		result, err := e.Run(ctx, id)
		if err != nil {
			log.Printf("❌ Automation run %s failed to start: %v", id.RunID, err)
			return
		}
		log.Printf("🏁 Automation run %s finished: %s", id.RunID, result.Status)
	}()
}

// Run fetches the run definition and executes its steps in order, halting at
// the first failed step. The returned error is set only when the run could
// not be fetched.
func (e *Engine) Run(ctx context.Context, id bootstrap.RunIdentity) (RunResult, error) {
	result := RunResult{RunID: id.RunID, Status: models.RunIdle, FailedStep: -1}

	run, err := e.fetch(ctx, id)
	if err != nil {
		result.Status = models.RunFailed
		result.Message = err.Error()
		result.addLog("error", fmt.Sprintf("Failed to fetch run: %v", err), -1)
		e.publishComplete(result)
		return result, err
	}

	reporter := newProgressReporter(ctx, e.bus, run.RunID, e.sessionID, 2*len(run.Steps)+2)
	defer reporter.close()

	e.publish(relay.KindAutomationInit, run.RunID, relay.AutomationInit{
		RunID:          run.RunID,
		AutomationID:   run.AutomationID,
		Engine:         run.Engine,
		Status:         run.Status,
		AutomationName: run.Name,
		Steps:          run.Steps,
	})

	totalSteps := len(run.Steps)
	log.Printf("🏁 Starting automation %q (run %s, %d steps, engine %s)", run.Name, run.RunID, totalSteps, run.Engine)
	run.Status = models.RunRunning

	for i := range run.Steps {
		step := &run.Steps[i]
		if err := ctx.Err(); err != nil {
			return e.interrupt(reporter, run, result, i, err)
		}

		if err := step.Advance(models.StepRunning); err != nil {
			return e.finish(reporter, run, result, err.Error(), i)
		}
		e.progress(reporter, run.RunID, i, step, "started", nil)
		result.addStepLog("info", fmt.Sprintf("Step %d/%d started: %s", i+1, totalSteps, step.Title), i, step, "", 0, "")

		if err := sleep(ctx, e.stepDelay); err != nil {
			return e.interrupt(reporter, run, result, i, err)
		}

		started := time.Now()
		outcome := e.execute(ctx, run, step)
		duration := time.Since(started).Milliseconds()

		if err := step.Advance(outcome.status); err != nil {
			return e.finish(reporter, run, result, err.Error(), i)
		}
		details := map[string]interface{}{"duration_ms": duration}
		if outcome.selector != "" {
			details["selector"] = outcome.selector
		}
		e.progress(reporter, run.RunID, i, step, outcome.message, details)

		if outcome.status == models.StepFailed {
			log.Printf("❌ Step %d/%d failed (%dms): %s - %s", i+1, totalSteps, duration, step.Title, outcome.message)
			result.addStepLog("error", fmt.Sprintf("Step %d/%d failed: %s", i+1, totalSteps, step.Title), i, step, outcome.selector, duration, outcome.message)
			return e.finish(reporter, run, result, outcome.message, i)
		}
		log.Printf("✅ Step %d/%d %s (%dms): %s", i+1, totalSteps, outcome.status, duration, step.Title)
		result.addStepLog("info", fmt.Sprintf("Step %d/%d %s: %s", i+1, totalSteps, outcome.status, step.Title), i, step, outcome.selector, duration, "")
	}

	return e.finish(reporter, run, result, "", -1)
}

func (e *Engine) fetch(ctx context.Context, id bootstrap.RunIdentity) (*models.AutomationRun, error) {
	if !id.Valid() {
		return nil, errors.New("run identity has no run id")
	}
	resp, err := e.bus.Request(ctx, relay.Envelope{Kind: relay.KindFetchRun, RunID: id.RunID, SessionID: e.sessionID})
	if err != nil {
		return nil, fmt.Errorf("fetch run %s: %w", id.RunID, err)
	}
	var run models.AutomationRun
	if err := resp.Decode(&run); err != nil {
		return nil, err
	}
	if run.RunID == "" {
		run.RunID = id.RunID
	}
	if run.AutomationID == "" {
		run.AutomationID = id.AutomationID
	}
	if id.Engine != "" {
		run.Engine = string(id.Engine)
	}
	run.Engine = string(models.NormalizeEngine(run.Engine))
	run.SortSteps()
	run.Reset()
	return &run, nil
}

type stepOutcome struct {
	status   models.StepStatus
	message  string
	selector string
}

// execute runs one step. Panics become a failed step.
func (e *Engine) execute(ctx context.Context, run *models.AutomationRun, step *models.AutomationStep) (out stepOutcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("🚨 PANIC recovered in step %d of run %s: %v", step.Index, run.RunID, r)
			out = stepOutcome{status: models.StepFailed, message: fmt.Sprintf("step panic: %v", r)}
		}
	}()

	mode := step.Mode()
	if step.ExecutionMode == "" {
		mode = models.NormalizeEngine(run.Engine)
	}
	if mode == models.EngineLLM {
		return e.executeLLM(ctx, step)
	}

	res, err := e.resolver.Resolve(ctx, step.SelectorCandidates, step.UserValue())
	if err != nil {
		return stepOutcome{status: models.StepFailed, message: err.Error()}
	}
	if res.Outcome == selector.OutcomeSkipped {
		return stepOutcome{status: models.StepSkipped, message: res.Message}
	}
	return stepOutcome{status: models.StepSucceeded, selector: res.Selector, message: "ok"}
}

func (e *Engine) executeLLM(ctx context.Context, step *models.AutomationStep) stepOutcome {
	req := relay.LLMStepRequest{Step: *step, Context: e.pageContext(ctx)}
	env, err := relay.NewEnvelope(relay.KindExecuteLLMStep, req)
	if err != nil {
		return stepOutcome{status: models.StepFailed, message: err.Error()}
	}
	env.SessionID = e.sessionID
	resp, err := e.bus.Request(ctx, env)
	if err != nil {
		return stepOutcome{status: models.StepFailed, message: err.Error()}
	}
	var outcome models.StepOutcome
	if err := resp.Decode(&outcome); err != nil {
		return stepOutcome{status: models.StepFailed, message: err.Error()}
	}
	switch strings.ToLower(outcome.Outcome) {
	case "succeeded", "success":
		return stepOutcome{status: models.StepSucceeded, message: outcome.Message}
	case "skipped":
		return stepOutcome{status: models.StepSkipped, message: outcome.Message}
	}
	msg := outcome.Message
	if msg == "" {
		msg = fmt.Sprintf("llm step returned outcome %q", outcome.Outcome)
	}
	return stepOutcome{status: models.StepFailed, message: msg}
}

func (e *Engine) pageContext(ctx context.Context) models.LLMStepContext {
	var pc models.LLMStepContext
	if e.page == nil {
		return pc
	}
	pc.URL, _ = e.page.URL(ctx)
	pc.Title, _ = e.page.Title(ctx)
	return pc
}

// interrupt fails step i, which may not have started yet, and ends the run
// there. A step that has not started passes through running first.
func (e *Engine) interrupt(reporter *progressReporter, run *models.AutomationRun, result RunResult, i int, cause error) (RunResult, error) {
	step := &run.Steps[i]
	message := fmt.Sprintf("run interrupted: %v", cause)
	if step.Status == "" || step.Status == models.StepPending {
		if err := step.Advance(models.StepRunning); err != nil {
			return e.finish(reporter, run, result, err.Error(), i)
		}
		e.progress(reporter, run.RunID, i, step, "started", nil)
	}
	if err := step.Advance(models.StepFailed); err != nil {
		return e.finish(reporter, run, result, err.Error(), i)
	}
	e.progress(reporter, run.RunID, i, step, message, nil)
	log.Printf("⏹️ Run %s interrupted at step %d/%d: %v", run.RunID, i+1, len(run.Steps), cause)
	result.addStepLog("error", fmt.Sprintf("Step %d/%d interrupted: %s", i+1, len(run.Steps), step.Title), i, step, "", 0, message)
	return e.finish(reporter, run, result, message, i)
}

// finish records the final run status. failedStep is -1 on success.
func (e *Engine) finish(reporter *progressReporter, run *models.AutomationRun, result RunResult, message string, failedStep int) (RunResult, error) {
	if failedStep >= 0 {
		run.Status = models.RunFailed
		if message == "" {
			message = fmt.Sprintf("step %d failed", failedStep)
		}
	} else {
		run.Status = run.Aggregate()
		if run.Status != models.RunFailed {
			run.Status = models.RunSucceeded
		}
		message = "automation completed"
	}

	result.Status = run.Status
	result.Message = message
	result.FailedStep = failedStep
	result.Steps = append([]models.AutomationStep(nil), run.Steps...)
	result.addLog(levelFor(run.Status), fmt.Sprintf("Run %s %s: %s", run.RunID, run.Status, message), failedStep)

	reporter.report(models.ProgressReport{
		StepIndex: CompletionStepIndex,
		Status:    string(run.Status),
		Message:   message,
		Details:   map[string]interface{}{"failed_step": failedStep},
	})
	e.publishComplete(result)
	return result, nil
}

func (e *Engine) progress(reporter *progressReporter, runID string, index int, step *models.AutomationStep, message string, details map[string]interface{}) {
	e.publish(relay.KindAutomationProgress, runID, relay.AutomationProgress{
		RunID:     runID,
		StepIndex: index,
		Status:    step.Status,
		Step:      *step,
		Message:   message,
	})
	reporter.report(models.ProgressReport{
		StepIndex: index,
		Status:    string(step.Status),
		Message:   message,
		Details:   details,
	})
}

func (e *Engine) publishComplete(result RunResult) {
	e.publish(relay.KindAutomationComplete, result.RunID, relay.AutomationComplete{
		RunID:     result.RunID,
		Status:    result.Status,
		Message:   result.Message,
		StepIndex: result.FailedStep,
	})
}

func (e *Engine) publish(kind relay.Kind, runID string, payload interface{}) {
	if e.feed == nil {
		return
	}
	env, err := relay.NewEnvelope(kind, payload)
	if err != nil {
		log.Printf("⚠️ Failed to encode %s: %v", kind, err)
		return
	}
	env.RunID = runID
	env.SessionID = e.sessionID
	e.feed.Publish(env)
}

func (result *RunResult) addLog(level, message string, stepIndex int) {
	result.Logs = append(result.Logs, StepLog{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		StepIndex: stepIndex,
	})
}

func (result *RunResult) addStepLog(level, message string, stepIndex int, step *models.AutomationStep, selector string, duration int64, errorDetail string) {
	result.Logs = append(result.Logs, StepLog{
		Timestamp:   time.Now(),
		Level:       level,
		Message:     message,
		StepIndex:   stepIndex,
		StepTitle:   step.Title,
		StepStatus:  string(step.Status),
		Selector:    selector,
		Duration:    duration,
		ErrorDetail: errorDetail,
	})
}

func levelFor(status models.RunStatus) string {
	if status == models.RunFailed {
		return "error"
	}
	return "info"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
