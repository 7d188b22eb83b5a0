package relay

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"webtestflow/replayer/internal/bootstrap"
)

// PushFunc delivers an envelope to one connected tab.
type PushFunc func(env Envelope) error

type tab struct {
	id   string
	url  string
	push PushFunc
}

// TabInfo describes a connected tab.
type TabInfo struct {
	TabID     string `json:"tabId"`
	URL       string `json:"url"`
	SessionID string `json:"sessionId,omitempty"`
}

// Hub tracks the tabs connected to the background process and fans
// background-originated notifications out to them.
type Hub struct {
	mu   sync.RWMutex
	tabs map[string]*tab
}

func NewHub() *Hub {
	return &Hub{tabs: make(map[string]*tab)}
}

// Register adds a tab. A tab that reconnects replaces its previous entry; the
// returned func removes this registration only.
func (h *Hub) Register(tabID, url string, push PushFunc) (unregister func()) {
	t := &tab{id: tabID, url: url, push: push}
	h.mu.Lock()
	h.tabs[tabID] = t
	h.mu.Unlock()
	log.Printf("🔌 Tab %s connected (%s)", tabID, url)

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.tabs[tabID] == t {
			delete(h.tabs, tabID)
			log.Printf("🔌 Tab %s disconnected", tabID)
		}
	}
}

// SetURL records the tab's current navigation target.
func (h *Hub) SetURL(tabID, url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.tabs[tabID]; ok {
		t.url = url
	}
}

// Broadcast sends env to every tab whose current URL carries sessionID as its
// session parameter, and returns how many tabs accepted it. Delivery failures
// are logged.
func (h *Hub) Broadcast(sessionID string, env Envelope) int {
	if sessionID == "" {
		return 0
	}
	h.mu.RLock()
	var targets []*tab
	for _, t := range h.tabs {
		if bootstrap.SessionFromURL(t.url) == sessionID {
			targets = append(targets, t)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, t := range targets {
		if err := t.push(env); err != nil {
			log.Printf("⚠️ Broadcast %s to tab %s failed: %v", env.Kind, t.id, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Dispatch sends env to one connected tab, preferring one that is not bound
// to any session, and returns its id.
func (h *Hub) Dispatch(env Envelope) (string, error) {
	h.mu.RLock()
	candidates := make([]tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		candidates = append(candidates, *t)
	}
	h.mu.RUnlock()
	if len(candidates) == 0 {
		return "", fmt.Errorf("%s: %w", env.Kind, ErrNoListener)
	}
	sort.Slice(candidates, func(i, j int) bool {
		iFree := bootstrap.SessionFromURL(candidates[i].url) == ""
		jFree := bootstrap.SessionFromURL(candidates[j].url) == ""
		if iFree != jFree {
			return iFree
		}
		return candidates[i].id < candidates[j].id
	})

	var lastErr error
	for _, t := range candidates {
		if err := t.push(env); err != nil {
			lastErr = err
			continue
		}
		return t.id, nil
	}
	return "", fmt.Errorf("%s: %w", env.Kind, lastErr)
}

func (h *Hub) Tabs() []TabInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]TabInfo, 0, len(h.tabs))
	for _, t := range h.tabs {
		out = append(out, TabInfo{TabID: t.id, URL: t.url, SessionID: bootstrap.SessionFromURL(t.url)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}
