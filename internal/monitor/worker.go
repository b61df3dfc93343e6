package monitor

import (
	"context"
	"sync"
)

// startWorkers starts a fixed worker pool that consumes claimed jobs from
// jobsCh until it is closed.
//
// Workers keep draining after ctx is cancelled so that every claimed job is
// either recorded or released; Execute itself stops probing on cancel.
func (s *Scheduler) startWorkers(ctx context.Context, jobsCh <-chan CheckJob, wg *sync.WaitGroup) {
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			logger := s.logger.WithField("worker", workerID)
			for job := range jobsCh {
				logger.WithField("monitor_id", job.Monitor.ID).Debug("running check")
				s.Execute(ctx, job)
			}
		}(i + 1)
	}
}
