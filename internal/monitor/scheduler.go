package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 100
	defaultClaimGrace   = 30 * time.Second
)

// SchedulerConfig holds the dependencies and tuning of a Scheduler.
type SchedulerConfig struct {
	Store    Store
	Prober   Prober
	Recorder *Recorder
	Clock    clock.Clock
	Logger   *log.Entry
	Metrics  *Metrics

	Workers      int
	JobsBuffer   int
	BatchSize    int
	PollInterval time.Duration
	// ClaimGrace is added to a monitor's timeout to form the claim lease.
	// A claim that is never recorded expires after the lease.
	ClaimGrace time.Duration
}

// Scheduler selects due monitors, claims them and hands them to a bounded
// worker pool. Several schedulers may run against one store: the claim is a
// compare-and-swap on next_check_at, so each due monitor is dispatched once.
type Scheduler struct {
	store    Store
	prober   Prober
	recorder *Recorder
	clock    clock.Clock
	logger   *log.Entry
	metrics  *Metrics

	workers      int
	jobsBuffer   int
	batchSize    int
	pollInterval time.Duration
	claimGrace   time.Duration
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		store:        cfg.Store,
		prober:       cfg.Prober,
		recorder:     cfg.Recorder,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		workers:      cfg.Workers,
		jobsBuffer:   cfg.JobsBuffer,
		batchSize:    cfg.BatchSize,
		pollInterval: cfg.PollInterval,
		claimGrace:   cfg.ClaimGrace,
	}
	if s.clock == nil {
		s.clock = clock.WallClock
	}
	if s.logger == nil {
		s.logger = log.NewEntry(log.StandardLogger())
	}
	s.logger = s.logger.WithField("component", "scheduler")
	if s.workers <= 0 {
		s.workers = 1
	}
	if s.jobsBuffer <= 0 {
		s.jobsBuffer = s.workers * 2
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.claimGrace <= 0 {
		s.claimGrace = defaultClaimGrace
	}
	return s
}

// DueMonitors returns active monitors whose next check time has passed,
// oldest first, at most limit of them.
func (s *Scheduler) DueMonitors(ctx context.Context, limit int) ([]Monitor, error) {
	ms, err := s.store.DueMonitors(ctx, s.clock.Now(), limit)
	return ms, errors.Trace(err)
}

// Claim selects up to limit due monitors and claims each one. Only the
// returned jobs may be probed; monitors claimed by another scheduler in the
// meantime are skipped.
func (s *Scheduler) Claim(ctx context.Context, limit int) ([]CheckJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	due, err := s.DueMonitors(ctx, limit)
	if err != nil {
		return nil, errors.Annotate(err, "selecting due monitors")
	}

	jobs := make([]CheckJob, 0, len(due))
	for _, m := range due {
		if m.NextCheckAt == nil {
			continue
		}
		now := s.clock.Now()
		lease := s.leaseFrom(now, m)
		ok, err := s.store.ClaimMonitor(ctx, m.ID, *m.NextCheckAt, lease)
		if err != nil {
			s.logger.WithField("monitor_id", m.ID).WithError(err).Error("claiming monitor")
			continue
		}
		if !ok {
			s.logger.WithField("monitor_id", m.ID).Debug("monitor claimed elsewhere")
			continue
		}
		jobs = append(jobs, CheckJob{Monitor: m, ClaimedAt: now, LeaseUntil: lease})
	}
	return jobs, nil
}

// Run polls for due monitors until ctx is cancelled, then waits for the
// workers to finish their current jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	jobsCh := make(chan CheckJob, s.jobsBuffer)

	var wg sync.WaitGroup
	s.startWorkers(ctx, jobsCh, &wg)
	defer func() {
		close(jobsCh)
		wg.Wait()
		s.logger.Info("scheduler stopped")
	}()

	s.logger.WithFields(log.Fields{
		"workers":       s.workers,
		"poll_interval": s.pollInterval.String(),
	}).Info("scheduler started")

	for {
		s.tick(ctx, jobsCh)
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(s.pollInterval):
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, jobsCh chan<- CheckJob) {
	free := cap(jobsCh) - len(jobsCh)
	limit := s.batchSize
	if free < limit {
		limit = free
	}
	jobs, err := s.Claim(ctx, limit)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).Error("scheduler tick failed")
		}
		return
	}
	for _, job := range jobs {
		s.enqueueJob(ctx, jobsCh, job)
	}
}

// enqueueJob never blocks; a full queue releases the claim so the monitor
// is picked up again on a later poll.
func (s *Scheduler) enqueueJob(ctx context.Context, jobsCh chan<- CheckJob, job CheckJob) {
	select {
	case jobsCh <- job:
		return
	default:
	}
	s.logger.WithField("monitor_id", job.Monitor.ID).Warn("job queue full; releasing claim")
	s.metrics.jobDropped()
	s.release(ctx, job)
}

// leaseFrom is the next_check_at value that holds a claim on m taken at now.
// Stores keep microseconds and the claim is compared against this value.
func (s *Scheduler) leaseFrom(now time.Time, m Monitor) time.Time {
	return now.Add(m.Timeout() + s.claimGrace).Truncate(time.Microsecond)
}

// Execute probes a claimed monitor and records the result. A result that
// cannot be recorded releases the claim so the monitor is retried.
//
// The lease is renewed before probing since the job may have waited in the
// queue. A job whose claim has expired and been taken by another scheduler
// is dropped.
func (s *Scheduler) Execute(ctx context.Context, job CheckJob) {
	m := job.Monitor
	logger := s.logger.WithFields(log.Fields{"monitor_id": m.ID, "target": m.Target()})

	if ctx.Err() != nil {
		logger.Debug("check abandoned on shutdown")
		s.release(context.WithoutCancel(ctx), job)
		return
	}
	job, ok := s.renew(ctx, job)
	if !ok {
		return
	}

	res, ok := s.probe(ctx, m)
	if !ok {
		logger.Debug("probe abandoned on shutdown")
		s.release(context.WithoutCancel(ctx), job)
		return
	}

	_, _, _, err := s.recorder.RecordClaimedResult(ctx, job, res)
	switch {
	case err == nil:
	case errors.Is(err, MonitorNotFound):
		logger.Debug("monitor deleted during probe; result discarded")
	case errors.Is(err, ClaimLost):
		logger.Debug("claim lost during probe; result discarded")
	default:
		logger.WithError(err).Error("recording check result")
		s.release(context.WithoutCancel(ctx), job)
	}
}

// probe runs the prober with the monitor's own deadline. A prober that does
// not return in time is abandoned and reported as a timeout. ok is false
// when ctx itself was cancelled.
func (s *Scheduler) probe(ctx context.Context, m Monitor) (CheckResult, bool) {
	timeout := m.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.clock.Now()
	done := make(chan CheckResult, 1)
	go func() {
		done <- s.prober.Probe(probeCtx, m)
	}()

	select {
	case res := <-done:
		s.metrics.probeObserved(s.clock.Now().Sub(start).Seconds())
		return res, true
	case <-probeCtx.Done():
	}

	if ctx.Err() != nil {
		return CheckResult{}, false
	}
	s.metrics.probeObserved(timeout.Seconds())
	return TimeoutResult(timeout, s.clock.Now()), true
}

// renew moves the claim's lease forward from now. ok is false when the claim
// is no longer held, in which case the job must not run.
func (s *Scheduler) renew(ctx context.Context, job CheckJob) (CheckJob, bool) {
	logger := s.logger.WithField("monitor_id", job.Monitor.ID)
	lease := s.leaseFrom(s.clock.Now(), job.Monitor)
	ok, err := s.store.ClaimMonitor(ctx, job.Monitor.ID, job.LeaseUntil, lease)
	if err != nil {
		logger.WithError(err).Warn("renewing claim; monitor will be retried after the lease")
		return job, false
	}
	if !ok {
		logger.Debug("claim expired while queued; job dropped")
		s.metrics.staleJobDropped()
		return job, false
	}
	job.LeaseUntil = lease
	return job, true
}

// release hands the claim back by making the monitor due again.
func (s *Scheduler) release(ctx context.Context, job CheckJob) {
	ok, err := s.store.ClaimMonitor(ctx, job.Monitor.ID, job.LeaseUntil, s.clock.Now())
	if err != nil {
		s.logger.WithField("monitor_id", job.Monitor.ID).WithError(err).Warn("releasing claim; monitor will be retried after the lease")
		return
	}
	if !ok {
		s.logger.WithField("monitor_id", job.Monitor.ID).Debug("claim already moved on")
	}
}

// TimeoutResult is the failed result recorded for a probe that exceeded its
// deadline.
func TimeoutResult(timeout time.Duration, at time.Time) CheckResult {
	return CheckResult{
		IsUp:         false,
		ErrorMessage: "probe timed out after " + timeout.String(),
		ErrorType:    ErrorTimeout,
		CheckedAt:    at,
	}
}
