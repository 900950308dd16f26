// Package sweep expires abandoned conversation contexts on a schedule.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/waflow/waflow/pkg/persistence"
)

// DefaultSchedule runs the sweep every five minutes.
const DefaultSchedule = "*/5 * * * *"

// Sweeper marks contexts past their expiry as failed with reason "expired",
// so a customer who walks away mid-conversation can start fresh later.
type Sweeper struct {
	persistence persistence.Persistence
	schedule    string
	cron        *cron.Cron
	logger      *slog.Logger
}

func NewSweeper(store persistence.Persistence, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	_, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule: %w", err)
	}

	return &Sweeper{
		persistence: store,
		schedule:    schedule,
		logger:      logger.With("module", "sweeper"),
	}, nil
}

// Start schedules the sweep and returns. Stop with Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Sweeper started", "schedule", s.schedule)

	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	expired, err := s.persistence.Contexts().ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Sweep failed", "error", err)

		return
	}

	if expired > 0 {
		s.logger.InfoContext(ctx, "Expired stale contexts", "count", expired)
	}
}
