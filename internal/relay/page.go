package relay

import (
	"encoding/json"
	"log"
	"sync"
)

// SourceTag marks messages posted by the capture script.
const SourceTag = "flow-capture"

// PageMessage is a broadcast posted from the page context to its window.
type PageMessage struct {
	Source   string          `json:"source"`
	WindowID string          `json:"windowId"`
	Payload  json.RawMessage `json:"payload"`
}

// PageChannel is the window-scoped broadcast between the page context and
// the in-page agent. Any script sharing the page may post to it.
type PageChannel struct {
	windowID string

	mu        sync.RWMutex
	listeners []func(PageMessage)
}

func NewPageChannel(windowID string) *PageChannel {
	return &PageChannel{windowID: windowID}
}

func (c *PageChannel) WindowID() string { return c.windowID }

// Post delivers msg to every listener, like window.postMessage.
func (c *PageChannel) Post(msg PageMessage) {
	c.mu.RLock()
	listeners := append([]func(PageMessage){}, c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(msg)
	}
}

// Listen registers fn for messages that come from this window and carry the
// capture source tag; everything else is dropped.
func (c *PageChannel) Listen(fn func(payload json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, func(msg PageMessage) {
		if msg.WindowID != c.windowID || msg.Source != SourceTag {
			log.Printf("relay: rejected page message from source=%q window=%q", msg.Source, msg.WindowID)
			return
		}
		fn(msg.Payload)
	})
}
