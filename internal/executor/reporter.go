package executor

import (
	"context"
	"log"
	"sync"

	"webtestflow/replayer/internal/models"
	"webtestflow/replayer/internal/relay"
)

// progressReporter posts run progress to the backend in order, off the
// replay path. A full queue drops reports with a warning.
type progressReporter struct {
	bus       relay.Requester
	runID     string
	sessionID string

	queue chan models.ProgressReport
	done  chan struct{}
	once  sync.Once
}

func newProgressReporter(ctx context.Context, bus relay.Requester, runID, sessionID string, size int) *progressReporter {
	r := &progressReporter{
		bus:       bus,
		runID:     runID,
		sessionID: sessionID,
		queue:     make(chan models.ProgressReport, size),
		done:      make(chan struct{}),
	}
	go r.loop(context.WithoutCancel(ctx))
	return r
}

func (r *progressReporter) report(report models.ProgressReport) {
	select {
	case r.queue <- report:
	default:
		log.Printf("⚠️ Progress queue full for run %s, dropping step %d %s", r.runID, report.StepIndex, report.Status)
	}
}

// close stops accepting reports; queued ones are still delivered.
func (r *progressReporter) close() {
	r.once.Do(func() { close(r.queue) })
}

func (r *progressReporter) loop(ctx context.Context) {
	defer close(r.done)
	for report := range r.queue {
		env, err := relay.NewEnvelope(relay.KindPostProgress, relay.ProgressPost{RunID: r.runID, Report: report})
		if err != nil {
			log.Printf("⚠️ Failed to encode progress for run %s: %v", r.runID, err)
			continue
		}
		env.RunID = r.runID
		env.SessionID = r.sessionID
		if _, err := r.bus.Request(ctx, env); err != nil {
			log.Printf("⚠️ Progress report for run %s step %d not delivered: %v", r.runID, report.StepIndex, err)
		}
	}
}
