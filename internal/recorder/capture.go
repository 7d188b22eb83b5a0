package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"webtestflow/replayer/internal/dom"
	"webtestflow/replayer/internal/relay"
)

// RefAttr is set by the capture script on every event target so the agent
// can find the element again.
const RefAttr = "data-flow-ref"

// RawInteraction is what the capture script posts for each event.
type RawInteraction struct {
	Type      string `json:"type"`
	Ref       string `json:"ref,omitempty"`
	Key       string `json:"key,omitempty"`
	Button    int    `json:"button,omitempty"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// Bind feeds every accepted page message into rec, resolving targets on page.
func Bind(ctx context.Context, ch *relay.PageChannel, page dom.Page, rec *Recorder) {
	ch.Listen(func(payload json.RawMessage) {
		var raw RawInteraction
		if err := json.Unmarshal(payload, &raw); err != nil {
			log.Printf("Dropping malformed interaction: %v", err)
			return
		}
		in, err := Resolve(ctx, page, raw)
		if err != nil {
			log.Printf("⚠️ Interaction target not found: %v", err)
		}
		rec.Handle(ctx, in)
	})
}

// Resolve turns a raw interaction into an Interaction with a live target. A
// target that cannot be found is left nil.
func Resolve(ctx context.Context, page dom.Page, raw RawInteraction) (Interaction, error) {
	in := Interaction{
		Type:   raw.Type,
		Key:    raw.Key,
		Button: raw.Button,
		URL:    raw.URL,
		Title:  raw.Title,
	}
	if raw.Timestamp > 0 {
		in.At = time.UnixMilli(raw.Timestamp)
	}
	if raw.Ref == "" {
		return in, nil
	}
	matches, err := page.QueryAll(ctx, fmt.Sprintf(`[%s="%s"]`, RefAttr, raw.Ref))
	if err != nil {
		return in, err
	}
	if len(matches) == 0 {
		return in, fmt.Errorf("no element with %s=%s", RefAttr, raw.Ref)
	}
	in.Target = matches[0]
	return in, nil
}
