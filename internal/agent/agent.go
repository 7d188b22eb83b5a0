// Package agent composes the page-side components for each document load:
// the page channel, session identity, event recorder, selector resolver,
// replay engine and run bootstrapper.
package agent

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"webtestflow/replayer/internal/bootstrap"
	"webtestflow/replayer/internal/dom"
	"webtestflow/replayer/internal/executor"
	"webtestflow/replayer/internal/identity"
	"webtestflow/replayer/internal/models"
	"webtestflow/replayer/internal/recorder"
	"webtestflow/replayer/internal/relay"
	"webtestflow/replayer/internal/selector"
)

// Navigator moves the driven tab to a new URL.
type Navigator interface {
	Navigate(url string) error
}

// Notifier sends envelopes that expect no reply.
type Notifier interface {
	Notify(env relay.Envelope) error
}

type Options struct {
	DebounceWindow time.Duration
	StepInterval   time.Duration
	StepDelay      time.Duration
}

// Agent owns the page-side state of one tab. Each document load replaces the
// previous PageLoad.
type Agent struct {
	feed *relay.Feed
	opts Options

	mu        sync.Mutex
	bus       relay.Requester
	notifier  Notifier
	navigator Navigator
	current   *PageLoad
}

// PageLoad is the set of components bound to a single document.
type PageLoad struct {
	URL          string
	Channel      *relay.PageChannel
	Identity     *identity.Resolver
	Recorder     *recorder.Recorder
	Resolver     *selector.Resolver
	Engine       *executor.Engine
	Bootstrapper *bootstrap.Bootstrapper

	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the document is replaced or the agent stops.
func (l *PageLoad) Context() context.Context { return l.ctx }

func New(bus relay.Requester, feed *relay.Feed, opts Options) *Agent {
	if feed == nil {
		feed = relay.NewFeed()
	}
	return &Agent{bus: bus, feed: feed, opts: opts}
}

// SetBus sets the requester later page loads talk to the background through.
func (a *Agent) SetBus(bus relay.Requester) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bus = bus
}

// SetNotifier routes tab URL updates to the background process.
func (a *Agent) SetNotifier(n Notifier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notifier = n
}

// SetNavigator lets the background steer the tab to automation targets.
func (a *Agent) SetNavigator(n Navigator) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.navigator = n
}

func (a *Agent) Feed() *relay.Feed { return a.feed }

// Current returns the active page load, or nil before the first load.
func (a *Agent) Current() *PageLoad {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Load wires a fresh set of components to page and starts the run carried by
// pageURL, if any.
func (a *Agent) Load(ctx context.Context, page dom.Page, pageURL string) *PageLoad {
	loadCtx, cancel := context.WithCancel(ctx)
	nav := bootstrap.ParseNavigation(pageURL)

	a.mu.Lock()
	bus := a.bus
	a.mu.Unlock()

	ids := identity.New(bus)
	scoped := relay.WithSession(bus, func(ctx context.Context) (string, error) {
		sessionID, err := ids.Resolve(ctx, nav.SessionID)
		if errors.Is(err, identity.ErrNoSession) {
			return "", nil
		}
		return sessionID, err
	}, relay.KindFetchRun, relay.KindPostProgress, relay.KindExecuteLLMStep)

	load := &PageLoad{
		URL:      pageURL,
		Channel:  relay.NewPageChannel(uuid.New().String()),
		Identity: ids,
		Recorder: recorder.New(ids, bus, a.feed, a.opts.DebounceWindow),
		Resolver: selector.NewResolver(page, a.opts.StepInterval),
		ctx:      loadCtx,
		cancel:   cancel,
	}
	load.Engine = executor.New(scoped, load.Resolver, page, a.feed, executor.Options{
		StepDelay: a.opts.StepDelay,
		SessionID: nav.SessionID,
	})
	load.Bootstrapper = bootstrap.New(pageURL, bootstrap.StarterFunc(load.Engine.Start))

	a.mu.Lock()
	previous := a.current
	a.current = load
	a.mu.Unlock()
	if previous != nil {
		previous.cancel()
	}

	recorder.Bind(loadCtx, load.Channel, page, load.Recorder)
	a.reportURL(pageURL)

	if nav.SessionID != "" {
		go func() {
			if _, err := ids.Resolve(loadCtx, nav.SessionID); err != nil {
				log.Printf("⚠️ Session %s not resolved: %v", nav.SessionID, err)
			}
		}()
	}
	load.Bootstrapper.Bootstrap(loadCtx)
	return load
}

// HandlePush applies an envelope the background pushed to this tab.
func (a *Agent) HandlePush(env relay.Envelope) {
	switch env.Kind {
	case relay.KindSetConfig:
		var cfg models.SessionConfig
		if err := env.Decode(&cfg); err != nil {
			log.Printf("Dropping malformed config push: %v", err)
			return
		}
		if load := a.Current(); load != nil {
			load.Identity.Update(env.SessionID, cfg)
		}
	case relay.KindNavigate:
		var target relay.TabURL
		if err := env.Decode(&target); err != nil || target.URL == "" {
			log.Printf("Dropping malformed navigate push: %v", err)
			return
		}
		a.mu.Lock()
		navigator := a.navigator
		a.mu.Unlock()
		if navigator == nil {
			log.Printf("⚠️ Navigation to %s requested but tab cannot navigate", target.URL)
			return
		}
		go func() {
			log.Printf("🧭 Navigating to %s", target.URL)
			if err := navigator.Navigate(target.URL); err != nil {
				log.Printf("❌ Navigation to %s failed: %v", target.URL, err)
			}
		}()
	case relay.KindAutomationInit, relay.KindAutomationProgress, relay.KindAutomationComplete:
		a.feed.Publish(env)
	default:
		log.Printf("Ignoring pushed %s", env.Kind)
	}
}

// Stop cancels the active page load.
func (a *Agent) Stop() {
	a.mu.Lock()
	load := a.current
	a.current = nil
	a.mu.Unlock()
	if load != nil {
		load.cancel()
	}
}

func (a *Agent) reportURL(pageURL string) {
	a.mu.Lock()
	notifier := a.notifier
	a.mu.Unlock()
	if notifier == nil {
		return
	}
	if err := notifier.Notify(relay.MustEnvelope(relay.KindTabURL, relay.TabURL{URL: pageURL})); err != nil {
		log.Printf("⚠️ Failed to report tab url: %v", err)
	}
}
