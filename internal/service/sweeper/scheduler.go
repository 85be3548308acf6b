// internal/service/sweeper/scheduler.go
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Locker keeps two instances from running the same sweep at once.
type Locker interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type job struct {
	name     string
	interval time.Duration
}

type Scheduler struct {
	sweeper *Sweeper
	locker  Locker
	logger  *zap.Logger

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	lastRuns map[string]Result
	nextRuns map[string]time.Time
}

func NewScheduler(sweeper *Sweeper, locker Locker, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		locker:   locker,
		logger:   logger,
		lastRuns: map[string]Result{},
		nextRuns: map[string]time.Time{},
	}
}

// Start launches one ticker per sweep. It returns immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	cfg := s.sweeper.cfg
	if !cfg.Enabled {
		s.logger.Info("sweeper disabled by configuration")
	}

	jobs := []job{
		{name: SweepRenewal, interval: cfg.RenewalInterval},
		{name: SweepExpiry, interval: cfg.ExpiryInterval},
	}
	for _, j := range jobs {
		s.logger.Info("starting sweep", zap.String("sweep", j.name), zap.Duration("interval", j.interval))
		s.wg.Add(1)
		go s.loop(j)
	}
}

// Stop waits for in-flight sweeps to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.logger.Info("stopping sweeper, waiting for current batch to complete")
	s.wg.Wait()
	s.logger.Info("sweeper stopped")
}

func (s *Scheduler) loop(j job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	s.setNext(j.name, time.Now().Add(j.interval))

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.sweeper.cfg.Enabled {
				s.RunNow(context.Background(), j.name)
			}
			s.setNext(j.name, time.Now().Add(j.interval))
		}
	}
}

// RunNow runs the named sweep under the cross-instance lock. The result is
// marked Skipped when another instance holds the lock.
func (s *Scheduler) RunNow(ctx context.Context, name string) Result {
	var run func(ctx context.Context, now time.Time) Result
	var interval time.Duration
	switch name {
	case SweepRenewal:
		run, interval = s.sweeper.RunRenewalSweep, s.sweeper.cfg.RenewalInterval
	case SweepExpiry:
		run, interval = s.sweeper.RunExpiryNotices, s.sweeper.cfg.ExpiryInterval
	default:
		return Result{Sweep: name, Skipped: true}
	}

	// The lock outlives a normal run but never a full interval.
	ttl := interval / 2
	if ttl > 30*time.Minute {
		ttl = 30 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	lockKey := name
	if s.locker != nil {
		ok, err := s.locker.Claim(runCtx, lockKey, ttl)
		if err != nil {
			s.logger.Warn("sweeper lock unavailable, running without it", zap.String("sweep", name), zap.Error(err))
		} else if !ok {
			s.logger.Info("sweep already running elsewhere", zap.String("sweep", name))
			return Result{Sweep: name, StartedAt: time.Now(), Skipped: true}
		} else {
			defer func() {
				if err := s.locker.Release(context.Background(), lockKey); err != nil {
					s.logger.Warn("failed to release sweeper lock", zap.String("sweep", name), zap.Error(err))
				}
			}()
		}
	}

	res := run(runCtx, time.Now())
	s.mu.Lock()
	s.lastRuns[name] = res
	s.mu.Unlock()
	return res
}

func (s *Scheduler) setNext(name string, at time.Time) {
	s.mu.Lock()
	s.nextRuns[name] = at
	s.mu.Unlock()
}

type Status struct {
	Running  bool                 `json:"running"`
	Enabled  bool                 `json:"enabled"`
	LastRuns map[string]Result    `json:"last_runs"`
	NextRuns map[string]time.Time `json:"next_runs"`
}

func (s *Scheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Status{
		Running:  s.running,
		Enabled:  s.sweeper.cfg.Enabled,
		LastRuns: make(map[string]Result, len(s.lastRuns)),
		NextRuns: make(map[string]time.Time, len(s.nextRuns)),
	}
	for k, v := range s.lastRuns {
		st.LastRuns[k] = v
	}
	for k, v := range s.nextRuns {
		st.NextRuns[k] = v
	}
	return st
}
