// Package scheduler runs named jobs on cron schedules until its context ends.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/paulschiretz/pgl-appsave/pkg/plog"
)

// Job is one scheduled unit of work.
type Job struct {
	Name string
	// Spec is a standard 5-field cron expression or a descriptor such as "@daily".
	Spec string
	Run  func(ctx context.Context) error
}

// Entry describes a registered job.
type Entry struct {
	Name string
	Spec string
	Next time.Time
}

// Scheduler wraps a cron runner. A job that is still running when its next
// tick fires is skipped for that tick.
type Scheduler struct {
	cron  *cron.Cron
	names map[cron.EntryID]Job
}

// New creates an idle Scheduler.
func New() *Scheduler {
	logger := plogAdapter{}
	return &Scheduler{
		cron:  cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		names: make(map[cron.EntryID]Job),
	}
}

// Validate reports whether spec is a schedule Add would accept.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Add registers job. ctx is handed to every run of the job. Add must be called before Run.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	if job.Run == nil {
		return fmt.Errorf("schedule %q has nothing to run", job.Name)
	}
	id, err := s.cron.AddFunc(job.Spec, func() {
		plog.Info("Running scheduled job", "schedule", job.Name)
		if err := job.Run(ctx); err != nil {
			plog.Error("Scheduled job failed", "schedule", job.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", job.Spec, job.Name, err)
	}
	s.names[id] = job
	return nil
}

// Entries returns the registered jobs ordered by name.
func (s *Scheduler) Entries() []Entry {
	var out []Entry
	for _, e := range s.cron.Entries() {
		job := s.names[e.ID]
		next := e.Next
		if next.IsZero() {
			next = e.Schedule.Next(time.Now())
		}
		out = append(out, Entry{Name: job.Name, Spec: job.Spec, Next: next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, e := range s.Entries() {
		plog.Info("Scheduled", "schedule", e.Name, "spec", e.Spec, "next", e.Next.Format(time.RFC3339))
	}
	s.cron.Start()
	<-ctx.Done()
	plog.Info("Stopping scheduler, waiting for running jobs")
	<-s.cron.Stop().Done()
	return nil
}

// plogAdapter routes cron's internal logging through plog.
type plogAdapter struct{}

func (plogAdapter) Info(msg string, keysAndValues ...any) {
	plog.Debug("cron: "+msg, keysAndValues...)
}

func (plogAdapter) Error(err error, msg string, keysAndValues ...any) {
	plog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
