// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartReceiptScheduler archives pending settlement receipts every interval.
// Shut the returned scheduler down on exit.
func (a *ReceiptArchiver) StartReceiptScheduler(interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()

			n, err := a.ArchivePending(ctx)
			if err != nil {
				log.Printf("[Scheduler] receipt archive error: %v", err)
				return
			}
			if n > 0 {
				log.Printf("[Scheduler] archived %d settlement receipt(s)", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	return sched, nil
}
