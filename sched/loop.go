package sched

import (
	"context"
	"sync"
	"time"
)

// Loop runs every timer and frame callback on the goroutine that calls Run.
type Loop struct {
	interval time.Duration

	mu     sync.Mutex
	queue  []func()
	frames []*task
	wake   chan struct{}
}

func NewLoop() *Loop {
	return &Loop{
		interval: FrameInterval,
		wake:     make(chan struct{}, 1),
	}
}

func (l *Loop) Now() time.Time { return time.Now() }

type loopTimer struct {
	*task
	wall *time.Timer
}

func (t *loopTimer) Stop() bool {
	if t.wall != nil {
		t.wall.Stop()
	}
	return t.cancel()
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{task: &task{fn: fn}}
	t.wall = time.AfterFunc(d, func() { l.Post(t.run) })
	return t
}

func (l *Loop) RequestFrame(fn func()) Timer {
	t := &task{fn: fn}
	l.mu.Lock()
	l.frames = append(l.frames, t)
	l.mu.Unlock()
	return &loopTimer{task: t}
}

// Post queues fn to run on the loop goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run dispatches callbacks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
			l.drain()
		case <-ticker.C:
			l.frame()
			l.drain()
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		queue := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(queue) == 0 {
			return
		}
		for _, fn := range queue {
			fn()
		}
	}
}

func (l *Loop) frame() {
	l.mu.Lock()
	frames := l.frames
	l.frames = nil
	l.mu.Unlock()
	for _, t := range frames {
		t.run()
	}
}
