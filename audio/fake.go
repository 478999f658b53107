package audio

import (
	"sync"
	"time"

	"vchat/encoder"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext hands out captures that replay a fixed PCM clip followed by
// silence. With an empty clip the capture only delivers what is pushed.
type FakeContext struct {
	pcm      []byte
	realtime bool

	// Err, when set, is returned by NewCapture.
	Err error

	mu       sync.Mutex
	captures []*FakeCapture
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	pcm, err := ReadWAV(wavPath)
	if err != nil {
		return nil, err
	}
	return NewFakePCMContext(pcm, realtime), nil
}

func NewFakePCMContext(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	c := &FakeCapture{pcm: f.pcm, realtime: f.realtime, audioDone: make(chan struct{})}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

// Last returns the most recently created capture.
func (f *FakeContext) Last() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.captures) == 0 {
		return nil
	}
	return f.captures[len(f.captures)-1]
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	running  bool
	stopped  bool
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed once the clip has been fed.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// Stopped reports whether Stop has been called.
func (f *FakeCapture) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// Push delivers data to the callback synchronously, as if captured now.
func (f *FakeCapture) Push(data []byte) {
	f.mu.Lock()
	cb := f.cb
	live := f.running
	f.mu.Unlock()
	if cb != nil && live {
		cb(data, uint32(len(data)/fakeBytesPerFrame))
	}
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	f.running = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	f.mu.Unlock()

	if len(f.pcm) == 0 {
		close(f.feedDone)
		close(f.audioDone)
		return nil
	}

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(encoder.SampleRate)
	if !f.realtime {
		interval = time.Millisecond
	}

	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		for {
			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
			if pos < len(f.pcm) {
				end := min(pos+chunkBytes, len(f.pcm))
				chunk := make([]byte, end-pos)
				copy(chunk, f.pcm[pos:end])
				f.Push(chunk)
				pos = end
				if pos == len(f.pcm) {
					close(f.audioDone)
				}
				continue
			}
			f.Push(silence)
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.stopped = true
	close(f.stopCh)
	done := f.feedDone
	f.mu.Unlock()
	<-done
}

func (f *FakeCapture) Close() {}
