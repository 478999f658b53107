package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("microphone unavailable")
)

// Microphone opens live capture streams on one device.
type Microphone struct {
	ctx    Context
	device *DeviceInfo
	config CaptureConfig
}

// NewMicrophone captures from device, or the system default when nil.
func NewMicrophone(ctx Context, device *DeviceInfo, config CaptureConfig) *Microphone {
	return &Microphone{ctx: ctx, device: device, config: config}
}

// Acquire opens and starts a capture stream with taps attached before the
// first sample arrives. Failures wrap ErrPermissionDenied or
// ErrDeviceUnavailable. If ctx ends first the stream is released as soon
// as the backend hands it over.
func (m *Microphone) Acquire(ctx context.Context, taps ...DataCallback) (*Stream, error) {
	type result struct {
		stream *Stream
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := m.ctx.NewCapture(m.device, m.config)
		if err != nil {
			ch <- result{err: classify(err)}
			return
		}
		s := newStream(dev)
		for _, cb := range taps {
			s.Tap(cb)
		}
		if err := dev.Start(); err != nil {
			dev.ClearCallback()
			dev.Close()
			ch <- result{err: classify(err)}
			return
		}
		ch <- result{stream: s}
	}()

	select {
	case r := <-ch:
		return r.stream, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.stream != nil {
				r.stream.Release()
			}
		}()
		return nil, ctx.Err()
	}
}

// classify maps backend failures onto the two terminal acquisition errors.
func classify(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"permission", "access denied", "not permitted", "not allowed"} {
		if strings.Contains(msg, kw) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

// Stream is a live capture whose data is fanned out to taps.
type Stream struct {
	dev CaptureDevice

	mu       sync.Mutex
	taps     []tap
	nextTap  int
	released bool
}

type tap struct {
	id int
	cb DataCallback
}

func newStream(dev CaptureDevice) *Stream {
	s := &Stream{dev: dev}
	dev.SetCallback(s.dispatch)
	return s
}

func (s *Stream) DeviceName() string { return s.dev.DeviceName() }

func (s *Stream) dispatch(data []byte, frameCount uint32) {
	s.mu.Lock()
	if s.released || len(s.taps) == 0 {
		s.mu.Unlock()
		return
	}
	taps := make([]DataCallback, len(s.taps))
	for i, t := range s.taps {
		taps[i] = t.cb
	}
	s.mu.Unlock()

	for _, cb := range taps {
		cb(data, frameCount)
	}
}

// Tap adds a consumer of captured audio. The returned func removes it.
func (s *Stream) Tap(cb DataCallback) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTap++
	id := s.nextTap
	s.taps = append(s.taps, tap{id: id, cb: cb})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, t := range s.taps {
			if t.id == id {
				s.taps = append(s.taps[:i], s.taps[i+1:]...)
				return
			}
		}
	}
}

// Release stops the device. Safe to call more than once. Callbacks
// already in flight may still complete after Release returns.
func (s *Stream) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()

	s.dev.Stop()
	s.dev.ClearCallback()
	s.dev.Close()
}

func (s *Stream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
