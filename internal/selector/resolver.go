// Package selector turns ranked selector candidates into a live element and
// performs the interaction that fits the element's role.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"webtestflow/replayer/internal/dom"
)

// DefaultStepInterval is the settle delay after a successful interaction.
const DefaultStepInterval = 600 * time.Millisecond

var (
	ErrNotFound  = errors.New("no element matches selector")
	ErrAmbiguous = errors.New("selector matches more than one element")
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
)

type Result struct {
	Outcome  Outcome `json:"outcome"`
	Selector string  `json:"selector,omitempty"`
	Message  string  `json:"message,omitempty"`
}

type Resolver struct {
	page         dom.Page
	stepInterval time.Duration
}

func NewResolver(page dom.Page, stepInterval time.Duration) *Resolver {
	if stepInterval < 0 {
		stepInterval = DefaultStepInterval
	}
	return &Resolver{page: page, stepInterval: stepInterval}
}

// Resolve tries each candidate in order until one resolves to exactly one
// element and the interaction succeeds. A failing candidate, including a
// malformed one, never stops the remaining candidates from being tried.
func (r *Resolver) Resolve(ctx context.Context, candidates []string, userValue string) (Result, error) {
	if len(candidates) == 0 {
		return Result{Outcome: OutcomeSkipped, Message: "no selector candidates supplied"}, nil
	}

	var lastErr error
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		el, err := r.lookup(ctx, candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if err := r.interact(ctx, el, userValue); err != nil {
			lastErr = fmt.Errorf("interact with %q: %w", candidate, err)
			log.Printf("⚠️ Selector %q resolved but interaction failed: %v", candidate, err)
			continue
		}
		if err := sleep(ctx, r.stepInterval); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeSucceeded, Selector: candidate}, nil
	}
	return Result{}, lastErr
}

func (r *Resolver) lookup(ctx context.Context, candidate string) (el dom.Element, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("selector %q: %v", candidate, p)
		}
	}()
	matches, err := r.page.QueryAll(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", candidate, err)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, candidate)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s (%d matches)", ErrAmbiguous, candidate, len(matches))
	}
}

// interact performs the role-specific action with the element highlighted.
// The highlight is released on every exit path.
func (r *Resolver) interact(ctx context.Context, el dom.Element, value string) (err error) {
	release, hErr := el.Highlight(ctx)
	if hErr != nil {
		log.Printf("Failed to highlight element: %v", hErr)
		release = func() {}
	}
	defer release()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("interaction panic: %v", p)
		}
	}()

	switch Role(el) {
	case RoleTextInput:
		if err := el.Focus(ctx); err != nil {
			return err
		}
		if value == "" {
			return nil
		}
		if err := el.SetValue(ctx, value); err != nil {
			return err
		}
		if err := el.Dispatch(ctx, "input"); err != nil {
			return err
		}
		return el.Dispatch(ctx, "change")
	case RoleChoice:
		if value == "" {
			return nil
		}
		if err := el.SetValue(ctx, value); err != nil {
			return err
		}
		return el.Dispatch(ctx, "change")
	case RoleForm:
		return el.Submit(ctx)
	default:
		if err := el.Focus(ctx); err != nil && !errors.Is(err, dom.ErrDetached) {
			log.Printf("Focus before click failed: %v", err)
		}
		return el.Click(ctx)
	}
}

type ElementRole int

const (
	RoleClickable ElementRole = iota
	RoleTextInput
	RoleChoice
	RoleForm
)

var textInputTypes = map[string]bool{
	"text": true, "number": true, "email": true, "password": true, "search": true,
	"tel": true, "url": true, "date": true, "datetime-local": true, "time": true, "month": true, "week": true,
}

func Role(el dom.Element) ElementRole {
	switch el.TagName() {
	case "textarea":
		return RoleTextInput
	case "input":
		if textInputTypes[dom.InputType(el)] {
			return RoleTextInput
		}
		return RoleClickable
	case "select":
		return RoleChoice
	case "form":
		return RoleForm
	}
	return RoleClickable
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
