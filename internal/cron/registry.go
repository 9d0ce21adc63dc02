package cron

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterval applies to jobs registered without a cadence.
const DefaultInterval = 24 * time.Hour

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with the cadence it runs at. Every also bounds a single run
// and the lifetime of its lock.
type Entry struct {
	Job   Job
	Every time.Duration
}

// Registry tracks registered cron jobs by unique name.
type Registry struct {
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a job that runs every interval. Names key the locks and metrics,
// so a second job with the same name is rejected.
func (r *Registry) Register(job Job, every time.Duration) error {
	if job == nil {
		return errors.New("cron job is nil")
	}
	name := job.Name()
	if name == "" {
		return errors.New("cron job name is required")
	}
	for _, entry := range r.entries {
		if entry.Job.Name() == name {
			return fmt.Errorf("cron job %q already registered", name)
		}
	}
	if every <= 0 {
		every = DefaultInterval
	}
	r.entries = append(r.entries, Entry{Job: job, Every: every})
	return nil
}

// Entries returns the registered jobs in the order they were added.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}
