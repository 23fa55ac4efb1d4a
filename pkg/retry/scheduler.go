package retry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc arms fn to run once after d.
type AfterFunc func(d time.Duration, fn func()) Timer

func stdAfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Scheduler runs delayed attempts that can be cancelled as a group.
// Cancelling bumps the generation, so a timer that already fired but has not
// yet run its callback turns into a no-op.
type Scheduler struct {
	cfg        Config
	afterFunc  AfterFunc
	timers     sync.Map // uint64 -> *armed
	nextID     atomic.Uint64
	generation atomic.Uint64
	pending    atomic.Int64
}

type armed struct {
	mu        sync.Mutex
	timer     Timer
	cancelled bool
}

func (a *armed) set(t Timer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelled {
		t.Stop()
		return
	}
	a.timer = t
}

func (a *armed) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = true
	if a.timer != nil {
		a.timer.Stop()
	}
}

type SchedulerOption func(*Scheduler)

// WithAfterFunc replaces time.AfterFunc, mainly for tests.
func WithAfterFunc(fn AfterFunc) SchedulerOption {
	return func(s *Scheduler) {
		s.afterFunc = fn
	}
}

func NewScheduler(cfg Config, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		afterFunc: stdAfterFunc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms fn for the given zero-based attempt and returns the delay used.
// ok is false when retries are disabled or MaxAttempts is exhausted.
func (s *Scheduler) Schedule(attempt int, fn func()) (delay time.Duration, ok bool) {
	if !s.cfg.Enabled {
		return 0, false
	}
	if s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts {
		return 0, false
	}

	delay = calculateDelay(s.cfg, attempt)
	id := s.nextID.Add(1)
	gen := s.generation.Load()

	entry := &armed{}
	s.timers.Store(id, entry)
	s.pending.Add(1)

	entry.set(s.afterFunc(delay, func() {
		if _, loaded := s.timers.LoadAndDelete(id); !loaded {
			return
		}
		s.pending.Add(-1)
		if s.generation.Load() != gen {
			return
		}
		fn()
	}))
	return delay, true
}

// CancelAll stops every armed timer and returns how many were cancelled.
func (s *Scheduler) CancelAll() int {
	s.generation.Add(1)

	cancelled := 0
	s.timers.Range(func(key, value interface{}) bool {
		if _, loaded := s.timers.LoadAndDelete(key); loaded {
			value.(*armed).stop()
			s.pending.Add(-1)
			cancelled++
		}
		return true
	})
	return cancelled
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	return int(s.pending.Load())
}

// Generation identifies the current cancellation epoch.
func (s *Scheduler) Generation() uint64 {
	return s.generation.Load()
}
