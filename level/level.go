package level

import (
	"sync"

	"vchat/sched"
)

// DefaultThreshold separates speech from silence on the [0,1] level scale.
const DefaultThreshold = 0.1

type Sample struct {
	Level    float64
	Speaking bool
}

// Source is a frequency analyser readable once per frame.
type Source interface {
	BinCount() int
	ByteFrequencyData(dst []byte)
}

// Measure returns the mean bin magnitude scaled to [0,1].
func Measure(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	sum := 0
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins)) / 255
}

// Handle is a running sampling loop.
type Handle struct {
	sched     sched.Scheduler
	src       Source
	threshold float64
	onSample  func(Sample)
	bins      []byte

	mu      sync.Mutex
	stopped bool
	next    sched.Timer
}

// Start samples src once per frame and hands each sample to onSample on
// the scheduler's goroutine. The first sample arrives on the next frame.
func Start(s sched.Scheduler, src Source, threshold float64, onSample func(Sample)) *Handle {
	h := &Handle{
		sched:     s,
		src:       src,
		threshold: threshold,
		onSample:  onSample,
		bins:      make([]byte, src.BinCount()),
	}
	h.mu.Lock()
	h.next = s.RequestFrame(h.tick)
	h.mu.Unlock()
	return h
}

func (h *Handle) tick() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.next = nil
	h.mu.Unlock()

	h.src.ByteFrequencyData(h.bins)
	lvl := Measure(h.bins)
	h.onSample(Sample{Level: lvl, Speaking: lvl > h.threshold})

	h.mu.Lock()
	if !h.stopped {
		h.next = h.sched.RequestFrame(h.tick)
	}
	h.mu.Unlock()
}

// Stop cancels the pending tick. It may be called from onSample and more
// than once.
func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	if h.next != nil {
		h.next.Stop()
		h.next = nil
	}
}

func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}
