package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/indexwatch/internal/logfields"
	"git.home.luguber.info/inful/indexwatch/internal/trigger"
)

// resyncer is the part of the trigger the scheduler drives.
type resyncer interface {
	TryRun(ctx context.Context, reason string) trigger.Outcome
}

// Scheduler wraps gocron scheduler for the periodic resync run.
type Scheduler struct {
	scheduler gocron.Scheduler
	trigger   resyncer
	ctx       context.Context
}

// NewScheduler creates a new scheduler instance. A nil clock uses wall time.
func NewScheduler(t resyncer, clock clockwork.Clock) (*Scheduler, error) {
	opts := []gocron.SchedulerOption{}
	if clock != nil {
		opts = append(opts, gocron.WithClock(clock))
	}
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		trigger:   t,
		ctx:       context.Background(),
	}, nil
}

// Start begins the scheduler. Runs started by it inherit ctx values.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting scheduler")
	s.ctx = ctx
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler. It does not wait for an index
// run the scheduler started; the trigger drain covers that.
func (s *Scheduler) Stop(_ context.Context) error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// ScheduleResync schedules a periodic resync run and returns the job ID.
// Overlapping ticks are skipped rather than queued.
func (s *Scheduler) ScheduleResync(interval time.Duration) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.executeResync),
		gocron.WithName("resync"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create resync job: %w", err)
	}

	return job.ID().String(), nil
}

// executeResync is called by gocron on every tick.
func (s *Scheduler) executeResync() {
	outcome := s.trigger.TryRun(s.ctx, trigger.ReasonResync)
	if outcome != trigger.OutcomeStarted {
		slog.Debug("Scheduled resync skipped", logfields.Reason(string(outcome)))
		return
	}
	slog.Info("Scheduled resync started")
}
