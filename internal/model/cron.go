package model

import (
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseCron validates a standard 5 field cron expression (descriptors
// like @hourly or @every included) and returns the interval between two
// consecutive activations. Used to log the effective period of a watch
// job.
func ParseCron(spec string) (time.Duration, error) {
	if strings.TrimSpace(spec) == "" {
		return 0, errors.New("empty cron expression")
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return 0, err
	}
	next := schedule.Next(time.Now())
	after := schedule.Next(next)
	return after.Sub(next), nil
}
