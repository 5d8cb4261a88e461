// Package scheduler runs the coordinator's periodic maintenance work -
// drop-counter flushes and attach/detach reconciliation sweeps - on
// cron-style intervals, adapted directly from scheduler/scheduler.go's
// Group/Schedule pattern.
package scheduler

import (
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/cmu-db/oucore/internal/telemetrylog"
)

// Group is one named, cron-scheduled runner.
type Group struct {
	interval *cronexpr.Expression
}

// Schedule runs runner every time interval fires, until the returned
// channel is sent to or closed.
func (group Group) Schedule(runner func(), logger *telemetrylog.Logger, logName string) chan bool {
	stop := make(chan bool)
	go func() {
		for {
			delay := group.interval.Next(time.Now()).Sub(time.Now())

			if logger != nil {
				logger.PrintVerbose("scheduled next run for %s in %+v", logName, delay)
			}

			select {
			case <-time.After(delay):
				runner()
			case <-stop:
				return
			}
		}
	}()
	return stop
}

// GetSchedulerGroups returns the coordinator's fixed set of maintenance
// groups (§7: drop counters are flushed periodically; attach
// state is reconciled against the live process tree periodically).
func GetSchedulerGroups() (map[string]Group, error) {
	tenSecondInterval, err := cronexpr.Parse("*/10 * * * * * *")
	if err != nil {
		return nil, err
	}
	oneMinuteInterval, err := cronexpr.Parse("0 * * * * * *")
	if err != nil {
		return nil, err
	}

	groups := map[string]Group{
		"drop_counter_flush":     {interval: tenSecondInterval},
		"attach_reconciliation": {interval: oneMinuteInterval},
	}
	return groups, nil
}
