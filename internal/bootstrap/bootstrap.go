// Package bootstrap recovers automation-run identity from the parameters a
// navigation carries, since nothing held in the page survives a reload.
package bootstrap

import (
	"context"
	"log"
	"net/url"
	"strings"
	"sync/atomic"

	"webtestflow/replayer/internal/models"
)

const (
	ParamSession          = "session"
	ParamAutomationRun    = "automation_run"
	ParamAutomationID     = "automation_id"
	ParamAutomationEngine = "automation_engine"
)

// Navigation is what a page load carries in its URL.
type Navigation struct {
	SessionID string
	Run       RunIdentity
}

// RunIdentity identifies the automation run a page load belongs to. Engine is
// empty when the navigation did not declare one.
type RunIdentity struct {
	RunID        string
	AutomationID string
	Engine       models.Engine
}

func (r RunIdentity) Valid() bool { return r.RunID != "" }

// ParseNavigation reads the navigation parameters from rawURL. Each parameter
// is taken from the query string first and from the fragment when the query
// lacks it, because some redirects strip query strings.
func ParseNavigation(rawURL string) Navigation {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Navigation{}
	}
	query := u.Query()
	fragment := parseFragment(u.Fragment)

	get := func(name string) string {
		if v := strings.TrimSpace(query.Get(name)); v != "" {
			return v
		}
		return strings.TrimSpace(fragment.Get(name))
	}

	nav := Navigation{SessionID: get(ParamSession)}
	if runID := get(ParamAutomationRun); runID != "" {
		nav.Run = RunIdentity{
			RunID:        runID,
			AutomationID: get(ParamAutomationID),
		}
		if engine := get(ParamAutomationEngine); engine != "" {
			nav.Run.Engine = models.NormalizeEngine(engine)
		}
	}
	return nav
}

// SessionFromURL returns the session parameter carried by rawURL, or "".
func SessionFromURL(rawURL string) string {
	return ParseNavigation(rawURL).SessionID
}

// parseFragment accepts "#a=1&b=2" as well as "#/route?a=1&b=2".
func parseFragment(fragment string) url.Values {
	if fragment == "" {
		return url.Values{}
	}
	if i := strings.IndexByte(fragment, '?'); i >= 0 {
		fragment = fragment[i+1:]
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return url.Values{}
	}
	return values
}

// AppendRunParams returns target with the run parameters set in its query.
func AppendRunParams(target, sessionID string, run RunIdentity) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if sessionID != "" {
		q.Set(ParamSession, sessionID)
	}
	q.Set(ParamAutomationRun, run.RunID)
	if run.AutomationID != "" {
		q.Set(ParamAutomationID, run.AutomationID)
	}
	if run.Engine != "" {
		q.Set(ParamAutomationEngine, string(run.Engine))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Starter executes a run once its identity is known.
type Starter interface {
	Start(ctx context.Context, run RunIdentity)
}

type StarterFunc func(ctx context.Context, run RunIdentity)

func (f StarterFunc) Start(ctx context.Context, run RunIdentity) { f(ctx, run) }

// Bootstrapper starts the run carried by a page load at most once, however
// many times initialization calls it.
type Bootstrapper struct {
	nav     Navigation
	starter Starter
	started atomic.Bool
}

func New(rawURL string, starter Starter) *Bootstrapper {
	return &Bootstrapper{nav: ParseNavigation(rawURL), starter: starter}
}

func (b *Bootstrapper) Navigation() Navigation { return b.nav }

// Run reports whether the page load carries a run identity.
func (b *Bootstrapper) Run() (RunIdentity, bool) {
	return b.nav.Run, b.nav.Run.Valid()
}

// Bootstrap starts the run if one is present and not yet started. It returns
// true only for the call that actually started it.
func (b *Bootstrapper) Bootstrap(ctx context.Context) bool {
	run, ok := b.Run()
	if !ok {
		return false
	}
	if !b.started.CompareAndSwap(false, true) {
		return false
	}
	log.Printf("🚀 Bootstrapping automation run %s (automation=%s, engine=%s)", run.RunID, run.AutomationID, run.Engine)
	b.starter.Start(ctx, run)
	return true
}
