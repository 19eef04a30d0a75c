package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/logging"
)

// stepFunc claims and processes at most one job. It reports whether a job
// was found so the loop knows whether to back off.
type stepFunc func(ctx context.Context, workerID string) (bool, error)

func workerID(queue string, n int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%d-%s-%d", host, os.Getpid(), queue, n)
}

// runWorkers starts n goroutines that call step until ctx is done and waits
// for all of them. An idle or failing worker sleeps for poll before retrying.
func runWorkers(ctx context.Context, logger logging.Logger, queue string, n int, poll time.Duration, step stepFunc) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := workerID(queue, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log := logger.With("worker", id)
			log.Info(ctx, "worker started")
			defer log.Info(context.WithoutCancel(ctx), "worker stopped")

			for ctx.Err() == nil {
				found, err := step(ctx, id)
				if err != nil && ctx.Err() == nil {
					log.Error(ctx, "worker step failed", "error", err)
				}
				if found && err == nil {
					continue
				}
				select {
				case <-ctx.Done():
				case <-time.After(poll):
				}
			}
		}()
	}
	wg.Wait()
}
