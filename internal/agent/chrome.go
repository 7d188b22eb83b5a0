package agent

import (
	"context"
	"log"
	"time"

	"webtestflow/replayer/internal/recorder"
	"webtestflow/replayer/pkg/chrome"
)

// AttachChrome runs a page load for every document the browser's tab loads,
// with the capture script installed and drained at drainInterval.
func (a *Agent) AttachChrome(ctx context.Context, b *chrome.Browser, drainInterval time.Duration) {
	a.SetNavigator(b)
	page := chrome.NewPage(b.Context())

	b.OnLoad(func() {
		if ctx.Err() != nil {
			return
		}
		pageURL, err := page.URL(ctx)
		if err != nil {
			log.Printf("⚠️ Failed to read page url: %v", err)
			return
		}
		tabCtx, cancel := context.WithCancel(b.Context())
		stop := context.AfterFunc(ctx, cancel)

		load := a.Load(tabCtx, page, pageURL)
		context.AfterFunc(load.Context(), func() {
			stop()
			cancel()
		})
		capture := recorder.NewChromeCapture(load.Channel, drainInterval)
		if err := capture.Install(load.Context()); err != nil {
			log.Printf("❌ %v", err)
			return
		}
		go capture.Run(load.Context())
		log.Printf("📄 Page loaded: %s", pageURL)
	})
}
