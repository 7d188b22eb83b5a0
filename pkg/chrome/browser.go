package chrome

import (
	"context"
	"fmt"
	"log"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/device"

	"webtestflow/replayer/internal/config"
)

// Devices are the emulation presets selectable with CHROME_DEVICE.
var Devices = map[string]device.Info{
	"iPhone 12 Pro": {
		Name:      "iPhone 12 Pro",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1",
		Width:     390,
		Height:    844,
		Scale:     1.0,
		Mobile:    true,
		Touch:     true,
	},
	"iPad Pro": {
		Name:      "iPad Pro",
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 13_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/87.0.4280.77 Mobile/15E148 Safari/604.1",
		Width:     1024,
		Height:    1366,
		Scale:     1.0,
		Mobile:    true,
		Touch:     true,
	},
	"Desktop 1920x1080": {
		Name:      "Desktop 1920x1080",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36",
		Width:     1920,
		Height:    1080,
		Scale:     1.0,
	},
}

// Browser is one Chrome instance with a single tab driven by the agent.
type Browser struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func Launch(cfg config.ChromeConfig) (*Browser, error) {
	chromePath := GetChromePath(cfg.ExecPath)
	if chromePath == "" {
		return nil, fmt.Errorf("Chrome browser not found. Please install Google Chrome or Chromium")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(chromePath),
		chromedp.Flag("headless", cfg.HeadlessMode),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("no-first-run", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, ctxCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Printf))
	b := &Browser{ctx: ctx, cancel: func() {
		ctxCancel()
		allocCancel()
	}}

	if err := chromedp.Run(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start Chrome: %w", err)
	}
	if cfg.Device != "" {
		if err := b.Emulate(cfg.Device); err != nil {
			log.Printf("⚠️ Device emulation skipped: %v", err)
		}
	}
	log.Printf("✅ Chrome started (%s, headless=%v)", chromePath, cfg.HeadlessMode)
	return b, nil
}

// Context is the chromedp context of the driven tab.
func (b *Browser) Context() context.Context { return b.ctx }

func (b *Browser) Emulate(name string) error {
	dev, ok := Devices[name]
	if !ok {
		return fmt.Errorf("unknown device %q", name)
	}
	log.Printf("🎭 Applying device emulation: %s (%dx%d, mobile=%t)", dev.Name, dev.Width, dev.Height, dev.Mobile)
	return chromedp.Run(b.ctx, chromedp.Emulate(dev))
}

func (b *Browser) Navigate(url string) error {
	return chromedp.Run(b.ctx, chromedp.Navigate(url))
}

// OnLoad calls fn for every document load of the tab. fn runs on its own
// goroutine so it may issue chromedp actions.
func (b *Browser) OnLoad(fn func()) {
	chromedp.ListenTarget(b.ctx, func(ev interface{}) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			go fn()
		}
	})
}

func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}
