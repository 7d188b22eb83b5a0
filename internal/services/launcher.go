package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"webtestflow/replayer/internal/backend"
	"webtestflow/replayer/internal/bootstrap"
	"webtestflow/replayer/internal/models"
	"webtestflow/replayer/internal/relay"
)

// RunCreator creates a backend run for an automation.
type RunCreator interface {
	CreateRun(ctx context.Context, automationID string) (*backend.LaunchResult, error)
}

// Dispatcher hands an envelope to one connected tab.
type Dispatcher interface {
	Dispatch(env relay.Envelope) (string, error)
}

// Launch describes a run that was handed to a tab.
type Launch struct {
	RunID        string `json:"run_id"`
	AutomationID string `json:"automation_id"`
	TabID        string `json:"tab_id"`
	URL          string `json:"url"`
}

var ErrNoRunCreator = errors.New("no backend configured for automation launches")

// AutomationLauncher creates runs and navigates an idle tab to the run's
// target page, where the bootstrapper picks the run up.
type AutomationLauncher struct {
	runs RunCreator
	tabs Dispatcher
}

func NewAutomationLauncher(runs RunCreator, tabs Dispatcher) *AutomationLauncher {
	return &AutomationLauncher{runs: runs, tabs: tabs}
}

func (l *AutomationLauncher) Launch(ctx context.Context, automationID string) (*Launch, error) {
	if l.runs == nil {
		return nil, ErrNoRunCreator
	}
	created, err := l.runs.CreateRun(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("create run for automation %s: %w", automationID, err)
	}
	if created.TargetURL == "" {
		return nil, fmt.Errorf("run %s has no target url", created.RunID)
	}

	run := bootstrap.RunIdentity{
		RunID:        created.RunID,
		AutomationID: automationID,
	}
	if created.Engine != "" {
		run.Engine = models.NormalizeEngine(created.Engine)
	}
	target, err := bootstrap.AppendRunParams(created.TargetURL, created.SessionID, run)
	if err != nil {
		return nil, fmt.Errorf("build target url for run %s: %w", created.RunID, err)
	}

	env, err := relay.NewEnvelope(relay.KindNavigate, relay.TabURL{URL: target})
	if err != nil {
		return nil, err
	}
	tabID, err := l.tabs.Dispatch(env)
	if err != nil {
		return nil, fmt.Errorf("dispatch run %s: %w", created.RunID, err)
	}

	log.Printf("🚀 Launched automation %s as run %s in tab %s", automationID, created.RunID, tabID)
	return &Launch{RunID: created.RunID, AutomationID: automationID, TabID: tabID, URL: target}, nil
}
