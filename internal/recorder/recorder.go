// Package recorder turns page interactions into RecordedEvents and forwards
// them to the background process.
package recorder

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"webtestflow/replayer/internal/dom"
	"webtestflow/replayer/internal/models"
	"webtestflow/replayer/internal/relay"
	"webtestflow/replayer/internal/snapshot"
)

const (
	DefaultDebounceWindow = 400 * time.Millisecond

	// OverlayAttr marks the tool's own control surface. Interactions inside it
	// are never recorded.
	OverlayAttr = "data-flow-overlay"

	RedactedValue = "********"
)

// Interaction is one raw interaction observed in the page.
type Interaction struct {
	// Type is the raw event type: click, input, change, submit, keydown,
	// navigate, or one of their aliases.
	Type   string
	Target dom.Element
	Key    string
	Button int
	URL    string
	Title  string
	At     time.Time
}

// Sessions is the part of the identity resolver the recorder needs.
type Sessions interface {
	Current() (string, bool)
	Resolve(ctx context.Context, explicit string) (string, error)
}

type Recorder struct {
	sessions Sessions
	bus      relay.Requester
	feed     *relay.Feed
	window   time.Duration
	now      func() time.Time

	mu     sync.Mutex
	recent map[string]lastInput

	noAPIBase atomic.Bool
}

type lastInput struct {
	rawType string
	at      time.Time
}

func New(sessions Sessions, bus relay.Requester, feed *relay.Feed, window time.Duration) *Recorder {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Recorder{
		sessions: sessions,
		bus:      bus,
		feed:     feed,
		window:   window,
		now:      time.Now,
		recent:   make(map[string]lastInput),
	}
}

// Handle records one interaction. It returns the forwarded event, or nil when
// the interaction was filtered, debounced, or no session is known yet.
func (r *Recorder) Handle(ctx context.Context, in Interaction) *models.RecordedEvent {
	category, ok := Categorize(in.Type, in.Key)
	if !ok {
		return nil
	}
	if category.IsNavigation() {
		in.Target = nil
	}
	if !dom.IsNil(in.Target) && InOverlay(in.Target) {
		return nil
	}
	if in.At.IsZero() {
		in.At = r.now()
	}
	if category == models.CategoryInput && r.debounced(in) {
		return nil
	}

	sessionID, ok := r.sessions.Current()
	if !ok {
		go func() {
			if _, err := r.sessions.Resolve(context.WithoutCancel(ctx), ""); err != nil {
				log.Printf("Session not resolved, interaction dropped: %v", err)
			}
		}()
		return nil
	}

	event := &models.RecordedEvent{
		EventID:   uuid.NewString(),
		Timestamp: in.At,
		Category:  category,
		URL:       in.URL,
		Title:     snapshot.Truncate(in.Title, snapshot.MaxNameLength),
		Dom:       snapshot.Build(in.Target),
		Payload:   Payload(category, in),
	}
	r.forward(ctx, sessionID, event)
	return event
}

// debounced reports whether an input event repeats the previous event of the
// same raw type on the same element within the window. Only forwarded events
// move the window.
func (r *Recorder) debounced(in Interaction) bool {
	if dom.IsNil(in.Target) {
		return false
	}
	key := in.Target.Key()
	rawType := strings.ToLower(in.Type)

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, seen := r.recent[key]
	if seen && prev.rawType == rawType && in.At.Sub(prev.at) < r.window {
		return true
	}
	r.recent[key] = lastInput{rawType: rawType, at: in.At}
	for k, v := range r.recent {
		if in.At.Sub(v.at) > 10*r.window {
			delete(r.recent, k)
		}
	}
	return false
}

func (r *Recorder) forward(ctx context.Context, sessionID string, event *models.RecordedEvent) {
	env, err := relay.NewEnvelope(relay.KindRecordEvent, event)
	if err != nil {
		log.Printf("❌ Failed to encode event %s: %v", event.EventID, err)
		return
	}
	env.SessionID = sessionID
	if r.feed != nil {
		raw := env
		raw.Kind = relay.KindRaw
		r.feed.Publish(raw)
	}

	resp, err := r.bus.Request(ctx, env)
	switch {
	case relay.HasCode(err, relay.CodeNoAPIBase):
		if !r.noAPIBase.Swap(true) {
			log.Printf("Session %s has no API base, events are not forwarded", sessionID)
		}
		return
	case err != nil:
		log.Printf("⚠️ Failed to forward %s event %s: %v", event.Category, event.EventID, err)
		return
	}
	r.noAPIBase.Store(false)

	var result relay.RecordResult
	if err := resp.Decode(&result); err != nil || len(result.Summary) == 0 {
		return
	}
	if r.feed != nil {
		r.feed.Publish(relay.Envelope{Kind: relay.KindSummary, SessionID: sessionID, Payload: result.Summary})
	}
}

// Categorize maps a raw event type onto a category. Key events other than
// Enter and Escape are not recorded.
func Categorize(rawType, key string) (models.Category, bool) {
	switch strings.ToLower(rawType) {
	case "click", "press":
		return models.CategoryClick, true
	case "input", "change", "type":
		return models.CategoryInput, true
	case "submit":
		return models.CategorySubmit, true
	case "navigate", "goto":
		return models.CategoryNavigate, true
	case "keydown", "key":
		switch key {
		case "Enter", "Escape":
			return models.CategoryKey, true
		}
	}
	return "", false
}

// InOverlay reports whether el or any ancestor belongs to the overlay.
func InOverlay(el dom.Element) bool {
	for cur := el; !dom.IsNil(cur); cur = cur.Parent() {
		if _, ok := cur.Attr(OverlayAttr); ok {
			return true
		}
	}
	return false
}
