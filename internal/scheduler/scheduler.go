// Package scheduler runs background jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/prometheus/client_golang/prometheus"

	"zonemarket/internal/logger"
)

// retryDelay is the pause after a failed next-tick computation.
const retryDelay = 30 * time.Second

// Job is a named task run on a cron schedule.
type Job struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

// Scheduler owns a set of jobs. Runs of the same job never overlap.
type Scheduler struct {
	runs *prometheus.CounterVec
	now  func() time.Time

	mu      sync.Mutex
	jobs    map[string]*entry
	order   []string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

type entry struct {
	job     Job
	running sync.Mutex
}

// New creates a scheduler. runs, when non-nil, counts runs by job and result.
func New(runs *prometheus.CounterVec) *Scheduler {
	return &Scheduler{runs: runs, now: time.Now, jobs: make(map[string]*entry)}
}

// Add registers a job. An empty cron expression disables the job.
func (s *Scheduler) Add(job Job) error {
	if job.Cron == "" {
		logger.Infof("[scheduler] %s disabled", job.Name)
		return nil
	}
	if !gronx.IsValid(job.Cron) {
		return fmt.Errorf("invalid cron expression for %s: %q", job.Name, job.Cron)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("duplicate job %s", job.Name)
	}
	s.jobs[job.Name] = &entry{job: job}
	s.order = append(s.order, job.Name)
	return nil
}

// Jobs returns the names of registered jobs in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start launches one goroutine per job. They stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, name := range s.order {
		e := s.jobs[name]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, e)
		}()
		logger.Infof("[scheduler] ⏰ %s scheduled (%s)", name, e.job.Cron)
	}
}

// Stop cancels the job loops and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// RunNow runs the named job once, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	return s.run(ctx, e)
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	for {
		next, err := gronx.NextTickAfter(e.job.Cron, s.now().UTC(), false)
		if err != nil {
			logger.Errorf("[scheduler] ❌ %s next tick: %v", e.job.Name, err)
			if !sleep(ctx, retryDelay) {
				return
			}
			continue
		}
		if !sleep(ctx, time.Until(next)) {
			return
		}
		if err := s.run(ctx, e); err != nil {
			logger.Errorf("[scheduler] ❌ %s failed: %v", e.job.Name, err)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) error {
	// 前回の実行が終わっていなければスキップする
	if !e.running.TryLock() {
		s.count(e.job.Name, "skipped")
		logger.Warnf("[scheduler] ⚠️ %s still running, skipping", e.job.Name)
		return nil
	}
	defer e.running.Unlock()

	start := time.Now()
	err := e.job.Run(ctx)
	if err != nil {
		s.count(e.job.Name, "error")
		return err
	}
	s.count(e.job.Name, "ok")
	logger.Debugf("[scheduler] ✅ %s finished in %s", e.job.Name, time.Since(start))
	return nil
}

func (s *Scheduler) count(job, result string) {
	if s.runs != nil {
		s.runs.WithLabelValues(job, result).Inc()
	}
}

// sleep waits for d or until ctx is done. It reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
