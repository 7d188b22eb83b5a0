package models

import (
	"encoding/json"
	"time"
)

// Category is the normalized interaction category of a recorded event.
type Category string

const (
	CategoryNavigate Category = "navigate"
	CategoryClick    Category = "click"
	CategoryInput    Category = "input"
	CategorySubmit   Category = "submit"
	CategoryKey      Category = "key"
)

// IsNavigation reports whether events of this category target the document itself.
func (c Category) IsNavigation() bool {
	return c == CategoryNavigate
}

type DomSnapshot struct {
	Tag            string            `json:"tag"`
	Attributes     map[string]string `json:"attributes"`
	AccessibleName string            `json:"accessibleName"`
	InnerText      string            `json:"innerText"`
	ClassList      []string          `json:"classList"`
	CSSPath        string            `json:"cssPath"`
}

type RecordedEvent struct {
	EventID   string                 `json:"event_id"`
	Timestamp time.Time              `json:"timestamp"`
	Category  Category               `json:"category"`
	URL       string                 `json:"url"`
	Title     string                 `json:"title"`
	Dom       *DomSnapshot           `json:"dom"`
	Payload   map[string]interface{} `json:"payload"`
}

// SessionConfig is the per-session backend configuration handed to agents.
type SessionConfig struct {
	APIBase string            `json:"apiBase"`
	Links   map[string]string `json:"links,omitempty"`
}

// SessionBinding is the durable record of a session's configuration. It lives in
// the background process's store and is never deleted automatically.
type SessionBinding struct {
	SessionID string    `json:"sessionId" gorm:"primaryKey;size:64"`
	APIBase   string    `json:"apiBase" gorm:"size:500"`
	Links     string    `json:"links" gorm:"type:text"` // JSON map
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b *SessionBinding) Config() SessionConfig {
	cfg := SessionConfig{APIBase: b.APIBase}
	if b.Links != "" {
		_ = json.Unmarshal([]byte(b.Links), &cfg.Links)
	}
	return cfg
}

func NewSessionBinding(sessionID string, cfg SessionConfig) SessionBinding {
	binding := SessionBinding{SessionID: sessionID, APIBase: cfg.APIBase, UpdatedAt: time.Now()}
	if len(cfg.Links) > 0 {
		links, _ := json.Marshal(cfg.Links)
		binding.Links = string(links)
	}
	return binding
}

// TabBinding associates a browser tab with the session it is recording.
type TabBinding struct {
	TabID     string    `json:"tabId" gorm:"primaryKey;size:64"`
	SessionID string    `json:"sessionId" gorm:"size:64;index"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LLMStepContext is the minimal page context sent along with an llm step.
type LLMStepContext struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type StepOutcome struct {
	Outcome string `json:"outcome"`
	Message string `json:"message"`
}

// ProgressReport is the body of POST /runs/{run_id}/progress.
type ProgressReport struct {
	StepIndex int                    `json:"step_index"`
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}
