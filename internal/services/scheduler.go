package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Launcher starts one run of an automation.
type Launcher interface {
	Launch(ctx context.Context, automationID string) (*Launch, error)
}

// ScheduleEntry is one scheduled automation.
type ScheduleEntry struct {
	AutomationID string    `json:"automation_id"`
	Spec         string    `json:"spec"`
	Next         time.Time `json:"next"`
	Prev         time.Time `json:"prev"`
}

type scheduled struct {
	id   cron.EntryID
	spec string
}

// Scheduler launches automations on cron schedules. Specs accept an optional
// leading seconds field and descriptors such as @every 5m.
type Scheduler struct {
	cron     *cron.Cron
	launcher Launcher
	timeout  time.Duration

	mu      sync.Mutex
	entries map[string]scheduled
}

func NewScheduler(launcher Launcher, timeout time.Duration) *Scheduler {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{
		cron:     cron.New(cron.WithParser(parser)),
		launcher: launcher,
		timeout:  timeout,
		entries:  make(map[string]scheduled),
	}
}

// Add schedules automationID, replacing any existing schedule for it.
func (s *Scheduler) Add(automationID, spec string) error {
	if automationID == "" {
		return fmt.Errorf("empty automation id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, err := s.cron.AddFunc(spec, func() { s.launch(automationID) })
	if err != nil {
		return fmt.Errorf("schedule automation %s: %w", automationID, err)
	}
	if old, ok := s.entries[automationID]; ok {
		s.cron.Remove(old.id)
	}
	s.entries[automationID] = scheduled{id: entryID, spec: spec}

	log.Printf("⏰ Added schedule for automation %s (entry %d): %s", automationID, entryID, spec)
	return nil
}

// Remove reports whether automationID had a schedule.
func (s *Scheduler) Remove(automationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.entries[automationID]
	if !ok {
		return false
	}
	s.cron.Remove(old.id)
	delete(s.entries, automationID)
	log.Printf("⏰ Removed schedule for automation %s", automationID)
	return true
}

func (s *Scheduler) Entries() []ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleEntry, 0, len(s.entries))
	for automationID, sc := range s.entries {
		e := s.cron.Entry(sc.id)
		out = append(out, ScheduleEntry{AutomationID: automationID, Spec: sc.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AutomationID < out[j].AutomationID })
	return out
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("Scheduler service started")
}

// Stop stops scheduling and waits for running launches to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("Scheduler service stopped")
}

func (s *Scheduler) launch(automationID string) {
	log.Printf("Executing scheduled automation %s", automationID)
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.launcher.Launch(ctx, automationID); err != nil {
		log.Printf("❌ Scheduled launch of automation %s failed: %v", automationID, err)
	}
}
