package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Mock is a manually driven Provider. Time only moves when Advance or Set is
// called, and timers scheduled with AfterFunc fire synchronously from those
// calls once their deadline is reached.
type Mock struct {
	mu          sync.Mutex
	CurrentTime time.Time
	timers      []*mockTimer
	seq         int
}

// NewMock returns a Mock starting at the given instant.
func NewMock(start time.Time) *Mock { return &Mock{CurrentTime: start} }

// Now returns the mock's current time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CurrentTime
}

// Since returns the mock duration elapsed since t.
func (m *Mock) Since(t time.Time) time.Duration { return m.Now().Sub(t) }

// AfterFunc schedules f to run once the mock clock reaches now+d.
func (m *Mock) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &mockTimer{mock: m, deadline: m.CurrentTime.Add(d), fn: f, seq: m.seq}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that becomes due.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.CurrentTime.Add(d)
	m.mu.Unlock()
	m.Set(target)
}

// Set moves the clock to t, firing every timer whose deadline is not after t.
// Timers fire in deadline order and outside the mock's lock, so callbacks may
// schedule new timers.
func (m *Mock) Set(t time.Time) {
	for {
		m.mu.Lock()
		due := m.nextDueLocked(t)
		if due == nil {
			m.CurrentTime = t
			m.mu.Unlock()
			return
		}
		if due.deadline.After(m.CurrentTime) {
			m.CurrentTime = due.deadline
		}
		m.mu.Unlock()

		due.fn()
	}
}

// PendingTimers reports how many timers are scheduled and not yet fired.
func (m *Mock) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// NextDeadline returns the earliest pending timer deadline.
func (m *Mock) NextDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.timers) == 0 {
		return time.Time{}, false
	}
	m.sortLocked()
	return m.timers[0].deadline, true
}

func (m *Mock) nextDueLocked(t time.Time) *mockTimer {
	if len(m.timers) == 0 {
		return nil
	}
	m.sortLocked()
	first := m.timers[0]
	if first.deadline.After(t) {
		return nil
	}
	m.timers = m.timers[1:]
	first.fired = true
	return first
}

func (m *Mock) sortLocked() {
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].deadline.Equal(m.timers[j].deadline) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].deadline.Before(m.timers[j].deadline)
	})
}

func (m *Mock) remove(t *mockTimer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.fired {
		return false
	}
	for i, pending := range m.timers {
		if pending == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			t.fired = true
			return true
		}
	}
	return false
}

type mockTimer struct {
	mock     *Mock
	deadline time.Time
	fn       func()
	seq      int
	fired    bool
}

func (t *mockTimer) Stop() bool { return t.mock.remove(t) }
