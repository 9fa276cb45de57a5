package queue

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/robfig/cron/v3"
)

// DefaultCleanupSchedule runs Cleanup every five minutes.
const DefaultCleanupSchedule = "@every 5m"

// Cleaner is the part of Queue the janitor drives.
type Cleaner interface {
	Cleanup() int
}

// StartJanitor runs c.Cleanup on schedule (standard cron syntax or a
// descriptor such as "@every 5m") until the returned stop func is called.
// stop waits for a running cleanup to finish.
func StartJanitor(ctx context.Context, schedule string, c Cleaner, logger log.Logger) (stop func(), err error) {
	if logger == nil {
		logger = log.Nop()
	}
	sched := cron.New()
	_, err = sched.AddFunc(schedule, func() {
		if n := c.Cleanup(); n > 0 {
			logger.Info(ctx, "queue cleanup evicted requests", "evicted", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("queue janitor schedule %q: %w", schedule, err)
	}
	sched.Start()
	return func() { <-sched.Stop().Done() }, nil
}

// ValidateSchedule reports whether schedule is accepted by StartJanitor.
func ValidateSchedule(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return nil
}
