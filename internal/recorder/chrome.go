package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"webtestflow/replayer/internal/relay"
)

const DefaultDrainInterval = 100 * time.Millisecond

// ChromeCapture injects the capture script into a chromedp tab and drains the
// interactions it collects onto the page channel.
type ChromeCapture struct {
	channel  *relay.PageChannel
	interval time.Duration
}

func NewChromeCapture(channel *relay.PageChannel, interval time.Duration) *ChromeCapture {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	return &ChromeCapture{channel: channel, interval: interval}
}

// Install injects the capture script into the current document. ctx must be a
// chromedp tab context.
func (c *ChromeCapture) Install(ctx context.Context) error {
	if err := chromedp.Run(ctx, chromedp.Evaluate(captureScript(c.channel.WindowID()), nil)); err != nil {
		return fmt.Errorf("failed to install capture script: %w", err)
	}
	return nil
}

// Run drains captured interactions until ctx is done.
func (c *ChromeCapture) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var messages []relay.PageMessage
			err := chromedp.Run(ctx,
				chromedp.Evaluate(`window.__flowCapture ? window.__flowCapture.drain() : []`, &messages),
			)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Error draining interactions: %v", err)
				continue
			}
			for _, msg := range messages {
				c.channel.Post(msg)
			}
		}
	}
}

func captureScript(windowID string) string {
	id, _ := json.Marshal(windowID)
	script := `
(function() {
	if (window.__flowCapture) return;

	var windowId = __WINDOW_ID__;
	var nextRef = 1;
	var queue = [];

	function ref(el) {
		if (!el || el.nodeType !== Node.ELEMENT_NODE) return '';
		var r = el.getAttribute('__REF_ATTR__');
		if (!r) {
			r = windowId + '-' + (nextRef++);
			el.setAttribute('__REF_ATTR__', r);
		}
		return r;
	}

	function post(type, target, extra) {
		var payload = {
			type: type,
			ref: ref(target),
			url: location.href,
			title: document.title,
			timestamp: Date.now()
		};
		for (var k in extra || {}) payload[k] = extra[k];
		queue.push({source: '__SOURCE__', windowId: windowId, payload: payload});
	}

	window.__flowCapture = {
		drain: function() {
			var out = queue;
			queue = [];
			return out;
		}
	};

	document.addEventListener('click', function(e) {
		if (e.isTrusted) post('click', e.target, {button: e.button});
	}, true);
	document.addEventListener('input', function(e) {
		if (e.isTrusted) post('input', e.target);
	}, true);
	document.addEventListener('change', function(e) {
		if (e.isTrusted) post('change', e.target);
	}, true);
	document.addEventListener('submit', function(e) {
		if (e.isTrusted) post('submit', e.target);
	}, true);
	document.addEventListener('keydown', function(e) {
		if (e.isTrusted && (e.key === 'Enter' || e.key === 'Escape')) post('keydown', e.target, {key: e.key});
	}, true);
	window.addEventListener('popstate', function() { post('navigate', null); });
	window.addEventListener('hashchange', function() { post('navigate', null); });

	post('navigate', null);
})();
`
	return strings.NewReplacer(
		"__WINDOW_ID__", string(id),
		"__REF_ATTR__", RefAttr,
		"__SOURCE__", relay.SourceTag,
	).Replace(script)
}
