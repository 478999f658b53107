// Package sched provides the cooperative task queue that drives level
// sampling and silence timers. Callbacks scheduled on one Scheduler never
// run concurrently with each other.
package sched

import (
	"sync/atomic"
	"time"
)

// FrameInterval is the cadence of RequestFrame callbacks.
const FrameInterval = time.Second / 60

type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// call stopped it; false means it already ran or was stopped.
	Stop() bool
}

type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	RequestFrame(fn func()) Timer
}

const (
	taskPending int32 = iota
	taskFired
	taskStopped
)

// task is the one-shot cell shared by both schedulers.
type task struct {
	state atomic.Int32
	fn    func()
}

func (t *task) claim() bool {
	return t.state.CompareAndSwap(taskPending, taskFired)
}

func (t *task) cancel() bool {
	return t.state.CompareAndSwap(taskPending, taskStopped)
}

func (t *task) run() {
	if t.claim() {
		t.fn()
	}
}
