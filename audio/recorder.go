package audio

import (
	"sync"
	"time"

	"vchat/encoder"
)

// BytesPerSecond of the capture format.
const BytesPerSecond = encoder.SampleRate * encoder.Channels * encoder.BitsPerSample / 8

// Fragment is one timeslice of captured PCM.
type Fragment struct {
	Data       []byte
	CapturedAt time.Time
}

// Recorder cuts a PCM feed into fragments of one timeslice each.
// Write is a DataCallback and may be tapped onto a Stream.
type Recorder struct {
	chunk      int
	onFragment func(Fragment)

	// deliverMu keeps fragments in capture order across Write and Stop.
	deliverMu sync.Mutex

	mu      sync.Mutex
	pending []byte
	stopped bool
}

func NewRecorder(timeslice time.Duration, onFragment func(Fragment)) *Recorder {
	chunk := int(int64(BytesPerSecond) * int64(timeslice) / int64(time.Second))
	chunk -= chunk % 2
	if chunk < 2 {
		chunk = 2
	}
	return &Recorder{chunk: chunk, onFragment: onFragment}
}

func (r *Recorder) Write(data []byte, _ uint32) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.pending = append(r.pending, data...)
	var out []Fragment
	for len(r.pending) >= r.chunk {
		frag := make([]byte, r.chunk)
		copy(frag, r.pending)
		r.pending = r.pending[r.chunk:]
		out = append(out, Fragment{Data: frag, CapturedAt: time.Now()})
	}
	r.mu.Unlock()

	for _, f := range out {
		r.onFragment(f)
	}
}

// Stop emits whatever partial timeslice is pending and ignores later
// writes. It waits for a Write still delivering, so the tail is always
// the last fragment. Subsequent calls do nothing.
func (r *Recorder) Stop() {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	tail := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(tail) > 0 {
		r.onFragment(Fragment{Data: tail, CapturedAt: time.Now()})
	}
}
