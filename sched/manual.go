package sched

import (
	"sort"
	"sync"
	"time"
)

// Manual is a virtual-time Scheduler. Nothing runs until the caller
// advances the clock or delivers a frame.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
	frames []*task
}

type manualTimer struct {
	*task
	at  time.Time
	seq uint64
}

func (t *manualTimer) Stop() bool { return t.cancel() }

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{task: &task{fn: fn}, at: m.now.Add(d), seq: m.seq}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) RequestFrame(fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &task{fn: fn}
	m.frames = append(m.frames, t)
	return &manualTimer{task: t}
}

// Advance moves the clock forward by d, firing due timers in order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	end := m.now.Add(d)
	m.mu.Unlock()
	for {
		t := m.nextDue(end)
		if t == nil {
			break
		}
		t.run()
	}
	m.mu.Lock()
	m.now = end
	m.mu.Unlock()
}

func (m *Manual) nextDue(end time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := m.timers[:0]
	for _, t := range m.timers {
		if t.state.Load() == taskPending {
			live = append(live, t)
		}
	}
	m.timers = live
	if len(m.timers) == 0 {
		return nil
	}
	sort.Slice(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
	t := m.timers[0]
	if t.at.After(end) {
		return nil
	}
	m.timers = m.timers[1:]
	if t.at.After(m.now) {
		m.now = t.at
	}
	return t
}

// Frame runs the frame callbacks requested before the call and reports
// how many ran.
func (m *Manual) Frame() int {
	m.mu.Lock()
	frames := m.frames
	m.frames = nil
	m.mu.Unlock()
	n := 0
	for _, t := range frames {
		if t.claim() {
			t.fn()
			n++
		}
	}
	return n
}

// Step delivers one frame and then advances the clock by d.
func (m *Manual) Step(d time.Duration) {
	m.Frame()
	m.Advance(d)
}

// PendingTimers counts timers that have neither fired nor been stopped.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if t.state.Load() == taskPending {
			n++
		}
	}
	return n
}

// PendingFrames counts frame callbacks waiting for the next Frame.
func (m *Manual) PendingFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.frames {
		if t.state.Load() == taskPending {
			n++
		}
	}
	return n
}
