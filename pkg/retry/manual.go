package retry

import (
	"sync"
	"time"
)

// ManualTimers is an AfterFunc implementation whose timers only fire when
// told to. It lets callers assert on scheduled delays deterministically.
type ManualTimers struct {
	mu     sync.Mutex
	timers []*ManualTimer
}

type ManualTimer struct {
	Delay   time.Duration
	fn      func()
	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *ManualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

// Active reports whether the timer is still armed.
func (t *ManualTimer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

func (m *ManualTimers) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &ManualTimer{Delay: d, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Timers returns every timer armed so far, in arming order.
func (m *ManualTimers) Timers() []*ManualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ManualTimer, len(m.timers))
	copy(out, m.timers)
	return out
}

// Fire runs timer i as if its delay elapsed. Stopped timers do nothing.
func (m *ManualTimers) Fire(i int) bool {
	m.mu.Lock()
	if i < 0 || i >= len(m.timers) {
		m.mu.Unlock()
		return false
	}
	t := m.timers[i]
	m.mu.Unlock()

	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	t.mu.Unlock()

	t.fn()
	return true
}

// FireAll fires every active timer armed so far.
func (m *ManualTimers) FireAll() int {
	n := 0
	for i := range m.Timers() {
		if m.Fire(i) {
			n++
		}
	}
	return n
}
