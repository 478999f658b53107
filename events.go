package main

import (
	"context"
	"sync"

	"vchat/chat"
)

// stateRelay hands chat snapshots to the display layer. Publish is called
// from inside the capture and channel goroutines with their locks held,
// so it only stores the latest snapshot and never blocks; Run delivers
// snapshots on its own goroutine, dropping intermediate ones.
type stateRelay struct {
	mu     sync.Mutex
	latest chat.State
	dirty  chan struct{}
}

func newStateRelay() *stateRelay {
	return &stateRelay{dirty: make(chan struct{}, 1)}
}

func (r *stateRelay) Publish(s chat.State) {
	r.mu.Lock()
	r.latest = s
	r.mu.Unlock()
	select {
	case r.dirty <- struct{}{}:
	default:
	}
}

// Run calls deliver with the newest snapshot after each change until ctx
// ends.
func (r *stateRelay) Run(ctx context.Context, deliver func(chat.State)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.dirty:
			r.mu.Lock()
			s := r.latest
			r.mu.Unlock()
			deliver(s)
		}
	}
}
