package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"webtestflow/replayer/internal/agent"
	"webtestflow/replayer/internal/config"
	"webtestflow/replayer/internal/relay"
	"webtestflow/replayer/pkg/chrome"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tab, err := agent.RequestTabToken(ctx, &http.Client{Timeout: cfg.Relay.Timeout}, cfg.Relay.BackgroundURL, cfg.Relay.TabID)
	if err != nil {
		log.Fatal("Failed to register tab:", err)
	}
	log.Printf("✅ Registered as tab %s", tab.TabID)

	ag := agent.New(nil, relay.NewFeed(), agent.Options{
		DebounceWindow: cfg.Replay.DebounceWindow,
		StepInterval:   cfg.Replay.StepInterval,
		StepDelay:      cfg.Replay.StepDelay,
	})

	runs := &relay.RunView{}
	updates, unsubscribe := ag.Feed().Subscribe(64)
	go runs.Watch(updates)

	endpoint, err := url.Parse(cfg.Relay.BackgroundURL)
	if err != nil {
		log.Fatal("Invalid RELAY_BACKGROUND_URL:", err)
	}
	q := endpoint.Query()
	q.Set("token", tab.Token)
	q.Set("url", cfg.Chrome.StartURL)
	endpoint.RawQuery = q.Encode()

	client, err := relay.DialWS(ctx, endpoint.String(), nil, cfg.Relay.Timeout, ag.HandlePush)
	if err != nil {
		log.Fatal("Failed to connect to background:", err)
	}
	defer client.Close()
	ag.SetBus(client)
	ag.SetNotifier(client)

	browser, err := chrome.Launch(cfg.Chrome)
	if err != nil {
		log.Fatal("Failed to launch Chrome:", err)
	}
	defer browser.Close()

	ag.AttachChrome(ctx, browser, cfg.Replay.DrainInterval)
	if err := browser.Navigate(cfg.Chrome.StartURL); err != nil {
		log.Printf("❌ Failed to open %s: %v", cfg.Chrome.StartURL, err)
	}

	<-ctx.Done()
	log.Println("Shutting down agent...")
	ag.Stop()
	unsubscribe()
	if last := runs.State(); last.RunID != "" {
		log.Printf("📋 Last run %s (%s): %s", last.RunID, last.AutomationName, last.Status)
	}
}
