// Package sched wraps gocron for the watch mode, running a task on
// either a cron spec or a fixed duration.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/CZERTAINLY/port-lens/internal/model"
)

type Scheduler struct {
	scheduler gocron.Scheduler
	interval  time.Duration
}

// New builds a scheduler from the watch section. Exactly one of Cron
// or Duration must be set, task runs on every tick.
func New(ctx context.Context, cfgp *model.Watch, task func()) (*Scheduler, error) {
	if cfgp == nil {
		return nil, errors.New("watch section is nil")
	}
	cfg := *cfgp

	var job gocron.JobDefinition
	var d time.Duration
	var err error
	switch {
	case cfg.Cron != "" && cfg.Duration != "":
		return nil, errors.New("both watch.cron and watch.duration are set")
	case cfg.Cron != "":
		d, err = model.ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing watch.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron, "job", job)
	case cfg.Duration != "":
		d, err = time.ParseDuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing watch.duration: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("watch.duration must be positive, got %s", d)
		}
		job = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String(), "job", job)
	default:
		return nil, errors.New("both cron and duration are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(task),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}

	return &Scheduler{scheduler: s, interval: d}, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
}

func (s *Scheduler) Shutdown(ctx context.Context) {
	if err := s.scheduler.Shutdown(); err != nil {
		slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
	}
}

// Interval is the parsed time between two ticks, informational only.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}
