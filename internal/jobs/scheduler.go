package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"birdseed/internal/logging"
	"birdseed/internal/store"
)

// Scheduler runs RunOnce for one profile set on a cron schedule. Ticks that
// fire while a run is still going are skipped.
type Scheduler struct {
	cron *cron.Cron
	st   *store.Store
	c    Collector
	set  string

	// Hours (UTC) in which ticks are skipped.
	QuietHours []int
	now        func() time.Time

	mu      sync.Mutex
	running bool
	ctx     context.Context
	runs    int
}

func NewScheduler(st *store.Store, c Collector, set, spec string) (*Scheduler, error) {
	s := &Scheduler{cron: cron.New(), st: st, c: c, set: set, ctx: context.Background(), now: time.Now}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return s, nil
}

// Runs returns how many runs have started.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Scheduler) tick() {
	now := s.now().UTC()
	if Quiet(now, s.QuietHours) {
		logging.Info("schedule_skip", map[string]any{"set": s.set, "reason": "quiet hours", "next": NextWindow(now, s.QuietHours)})
		return
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logging.Warn("schedule_skip", map[string]any{"set": s.set, "reason": "previous run still active"})
		return
	}
	s.running = true
	s.runs++
	ctx := s.ctx
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := RunOnce(ctx, s.st, s.c, s.set); err != nil {
		logging.Error("schedule_once_error", map[string]any{"set": s.set, "error": err.Error()})
	}
}

// Run collects once immediately, then on every tick until ctx is cancelled.
// It waits for an active run to finish before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.tick()
	s.cron.Start()
	<-ctx.Done()
	logging.Info("schedule_stop", map[string]any{"set": s.set})
	<-s.cron.Stop().Done()
	return ctx.Err()
}
