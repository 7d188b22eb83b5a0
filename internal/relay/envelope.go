// Package relay carries typed envelopes between the page context, the in-page
// agent, the background process, and observers. Every hop uses Envelope so
// any hop can be swapped without touching the others.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"webtestflow/replayer/internal/models"
)

type Kind string

const (
	KindRaw                Kind = "raw"
	KindSummary            Kind = "summary"
	KindAutomationInit     Kind = "automation_init"
	KindAutomationProgress Kind = "automation_progress"
	KindAutomationComplete Kind = "automation_complete"

	KindBindSession    Kind = "bind_session"
	KindLookupSession  Kind = "lookup_session"
	KindGetConfig      Kind = "get_config"
	KindSetConfig      Kind = "set_config"
	KindRecordEvent    Kind = "record_event"
	KindFetchRun       Kind = "fetch_run"
	KindPostProgress   Kind = "post_progress"
	KindExecuteLLMStep Kind = "execute_llm_step"
	KindBufferSnapshot Kind = "buffer_snapshot"
	KindTabURL         Kind = "tab_url"
	KindNavigate       Kind = "navigate"
)

// Error codes carried in Envelope.Code.
const (
	CodeNoAPIBase  = "no_api_base"
	CodeNotFound   = "not_found"
	CodeBadRequest = "bad_request"
	CodeBackend    = "backend_error"
)

type Envelope struct {
	// ID correlates a request with its response. Pushed messages carry none.
	ID        string          `json:"id,omitempty"`
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"sessionId,omitempty"`
	RunID     string          `json:"runId,omitempty"`
	TabID     string          `json:"tabId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
}

func NewEnvelope(kind Kind, payload interface{}) (Envelope, error) {
	env := Envelope{Kind: kind}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return env, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	env.Payload = raw
	return env, nil
}

// MustEnvelope is NewEnvelope for payloads that always encode.
func MustEnvelope(kind Kind, payload interface{}) Envelope {
	env, err := NewEnvelope(kind, payload)
	if err != nil {
		panic(err)
	}
	return env
}

func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// Reply builds the response to e carrying payload.
func (e Envelope) Reply(payload interface{}) (Envelope, error) {
	resp, err := NewEnvelope(e.Kind, payload)
	resp.ID, resp.SessionID, resp.RunID, resp.TabID = e.ID, e.SessionID, e.RunID, e.TabID
	return resp, err
}

// RemoteError is a failure reported by the other end of a hop.
type RemoteError struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s failed (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Kind, e.Message)
}

// CodedError attaches a wire code to a handler error.
type CodedError struct {
	Code string
	Err  error
}

func (e *CodedError) Error() string { return e.Err.Error() }
func (e *CodedError) Unwrap() error { return e.Err }

// HasCode reports whether err is a remote or coded error with the given code.
func HasCode(err error, code string) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Code == code
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code == code
	}
	return false
}

// ErrorEnvelope turns a handler error into its wire form.
func ErrorEnvelope(req Envelope, err error) Envelope {
	resp := Envelope{ID: req.ID, Kind: req.Kind, SessionID: req.SessionID, RunID: req.RunID, TabID: req.TabID, Error: err.Error()}
	var coded *CodedError
	if errors.As(err, &coded) {
		resp.Code = coded.Code
	}
	return resp
}

// Unwrap converts an error-carrying response back into an error.
func Unwrap(resp Envelope) (Envelope, error) {
	if resp.Error != "" {
		return resp, &RemoteError{Kind: resp.Kind, Code: resp.Code, Message: resp.Error}
	}
	return resp, nil
}

// Payloads

type AutomationInit struct {
	RunID          string                  `json:"runId"`
	AutomationID   string                  `json:"automationId"`
	Engine         string                  `json:"engine"`
	Status         models.RunStatus        `json:"status"`
	AutomationName string                  `json:"automationName"`
	Steps          []models.AutomationStep `json:"steps"`
}

type AutomationProgress struct {
	RunID     string                `json:"runId"`
	StepIndex int                   `json:"stepIndex"`
	Status    models.StepStatus     `json:"status"`
	Step      models.AutomationStep `json:"step"`
	Message   string                `json:"message,omitempty"`
}

type AutomationComplete struct {
	RunID     string           `json:"runId"`
	Status    models.RunStatus `json:"status"`
	Message   string           `json:"message"`
	StepIndex int              `json:"stepIndex"`
}

type BindSession struct {
	SessionID string `json:"sessionId"`
}

type LookupResult struct {
	SessionID string                `json:"sessionId"`
	Config    *models.SessionConfig `json:"config,omitempty"`
}

type RecordResult struct {
	Node    json.RawMessage `json:"node,omitempty"`
	Summary json.RawMessage `json:"summary,omitempty"`
}

type ProgressPost struct {
	RunID  string                `json:"runId"`
	Report models.ProgressReport `json:"report"`
}

type LLMStepRequest struct {
	Step    models.AutomationStep `json:"step"`
	Context models.LLMStepContext `json:"context"`
}

// TabURL reports a tab's navigation target; KindNavigate asks a tab to load one.
type TabURL struct {
	URL string `json:"url"`
}
