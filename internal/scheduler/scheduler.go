// Package scheduler runs the periodic maintenance of scan sessions.
package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/kozaktomas/attendance-scanner/internal/logger"
)

const (
	tagRollover = "rollover"
	tagPurge    = "purge"
)

// Sessions is the part of scan.Manager the scheduler maintains.
type Sessions interface {
	ResetAll() int
	PurgeStopped(olderThan time.Duration) int
}

// Scheduler resets scan sets at local midnight, because attendance is recorded per
// day, and drops sessions that have been stopped for a while.
type Scheduler struct {
	cron       *gocron.Scheduler
	sessions   Sessions
	purgeAfter time.Duration
	log        *logger.Logger
}

// New registers the jobs in loc. Nothing runs until Start.
func New(sessions Sessions, loc *time.Location, purgeAfter time.Duration, log *logger.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Scheduler{
		cron:       gocron.NewScheduler(loc),
		sessions:   sessions,
		purgeAfter: purgeAfter,
		log:        log.With("service", "Scheduler"),
	}
	s.cron.SingletonModeAll()
	s.cron.WaitForScheduleAll()

	if _, err := s.cron.Every(1).Day().At("00:00").Tag(tagRollover).Do(s.rollover); err != nil {
		return nil, fmt.Errorf("schedule rollover: %w", err)
	}
	if purgeAfter > 0 {
		interval := max(purgeAfter/4, time.Minute)
		if _, err := s.cron.Every(interval).Tag(tagPurge).Do(s.purge); err != nil {
			return nil, fmt.Errorf("schedule purge: %w", err)
		}
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.StartAsync()
	s.log.Info("scheduler started", "jobs", s.cron.Len(), "next_rollover", s.NextRollover())
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// NextRollover returns when scan sets are reset next. Zero before Start.
func (s *Scheduler) NextRollover() time.Time {
	jobs, err := s.cron.FindJobsByTag(tagRollover)
	if err != nil || len(jobs) == 0 {
		return time.Time{}
	}
	return jobs[0].NextRun()
}

func (s *Scheduler) rollover() {
	n := s.sessions.ResetAll()
	s.log.Info("daily rollover", "sessions_reset", n)
}

func (s *Scheduler) purge() {
	if n := s.sessions.PurgeStopped(s.purgeAfter); n > 0 {
		s.log.Info("purged stopped sessions", "count", n)
	}
}
