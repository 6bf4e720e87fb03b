// Package scheduler drives the two daily jobs (card generation and push)
// through robfig/cron in the bot's timezone.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const jobTimeout = 5 * time.Minute

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	logger *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger, loc *time.Location) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		logger: logger,
	}
}

// AddDaily schedules job every day at hhmm (24h "HH:MM").
func (s *Scheduler) AddDaily(name, hhmm string, job Job) error {
	spec, err := SpecFromHHMM(hhmm)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	_, err = s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		s.logger.Infow("daily job starting", "job", name)
		if err := job(ctx); err != nil {
			s.logger.Errorw("daily job failed", "job", name, "err", err)
			return
		}
		s.logger.Infow("daily job finished", "job", name)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// SpecFromHHMM converts a 24h "HH:MM" time into a daily cron spec.
func SpecFromHHMM(hhmm string) (string, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", fmt.Errorf("invalid time %q: expected HH:MM", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}
