package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

func pcmOf(n int, v int16) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func TestIsBluetooth(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Sony WH-1000XM4", true},
		{"Built-in Microphone", false},
		{"USB Audio Device", false},
		{"Headset (BT)", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBluetooth(tt.name); got != tt.want {
				t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestAmplifyClips(t *testing.T) {
	data := pcmOf(2, 20000)
	binary.LittleEndian.PutUint16(data[2:], uint16(0xffff)) // -1
	amplify(data, 4)
	if got := int16(binary.LittleEndian.Uint16(data[0:])); got != 32767 {
		t.Errorf("first sample = %d, want clipped 32767", got)
	}
	if got := int16(binary.LittleEndian.Uint16(data[2:])); got != -4 {
		t.Errorf("second sample = %d, want -4", got)
	}
}

func TestRecorderTimeslices(t *testing.T) {
	var frags []Fragment
	r := NewRecorder(100*time.Millisecond, func(f Fragment) { frags = append(frags, f) })

	// 100ms of 16kHz mono PCM16 is 3200 bytes.
	r.Write(pcmOf(1000, 1), 1000)
	if len(frags) != 0 {
		t.Fatalf("emitted %d fragments before a full timeslice", len(frags))
	}
	r.Write(pcmOf(2500, 2), 2500)
	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2", len(frags))
	}
	for i, f := range frags {
		if len(f.Data) != 3200 {
			t.Errorf("fragment %d is %d bytes, want 3200", i, len(f.Data))
		}
	}
	r.Stop()
	if len(frags) != 3 {
		t.Fatalf("Stop should emit the tail, got %d fragments", len(frags))
	}
	if len(frags[2].Data) != 400 {
		t.Errorf("tail = %d bytes, want 400", len(frags[2].Data))
	}

	r.Write(pcmOf(4000, 3), 4000)
	r.Stop()
	if len(frags) != 3 {
		t.Errorf("writes after Stop produced fragments")
	}
}

func TestRecorderPreservesOrder(t *testing.T) {
	var got []byte
	r := NewRecorder(100*time.Millisecond, func(f Fragment) { got = append(got, f.Data...) })
	var want []byte
	for i := 0; i < 7; i++ {
		chunk := pcmOf(777, int16(i))
		want = append(want, chunk...)
		r.Write(chunk, 777)
	}
	r.Stop()
	if !bytes.Equal(got, want) {
		t.Error("concatenated fragments differ from input")
	}
}

func TestRecorderStopWithoutTail(t *testing.T) {
	n := 0
	r := NewRecorder(100*time.Millisecond, func(Fragment) { n++ })
	r.Write(pcmOf(1600, 0), 1600)
	r.Stop()
	if n != 1 {
		t.Errorf("got %d fragments, want 1", n)
	}
}

func TestRecorderTailFollowsSlowDelivery(t *testing.T) {
	entered := make(chan struct{})
	gate := make(chan struct{})
	var mu sync.Mutex
	var sizes []int
	r := NewRecorder(100*time.Millisecond, func(f Fragment) {
		if len(f.Data) == 3200 {
			close(entered)
			<-gate
		}
		mu.Lock()
		sizes = append(sizes, len(f.Data))
		mu.Unlock()
	})

	go r.Write(pcmOf(1700, 0), 1700)
	<-entered

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a fragment was still being delivered")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop never returned")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 2 || sizes[0] != 3200 || sizes[1] != 200 {
		t.Errorf("fragment sizes = %v, want [3200 200]", sizes)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := pcmOf(160, 42)
	wav := EncodeWAV(pcm)
	if len(wav) != WAVHeaderSize+len(pcm) {
		t.Fatalf("len = %d", len(wav))
	}
	if string(wav[:4]) != "RIFF" || string(wav[36:40]) != "data" {
		t.Fatalf("bad header %q", wav[:44])
	}
	if got := binary.LittleEndian.Uint32(wav[24:]); got != 16000 {
		t.Errorf("sample rate = %d", got)
	}
	back, err := DecodeWAV(wav)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, pcm) {
		t.Error("payload mismatch")
	}
	if _, err := DecodeWAV([]byte("nope")); err == nil {
		t.Error("expected error for non-WAV input")
	}
}

func TestNewFakeContextFromFile(t *testing.T) {
	path := t.TempDir() + "/clip.wav"
	if err := os.WriteFile(path, EncodeWAV(pcmOf(64, 7)), 0644); err != nil {
		t.Fatal(err)
	}
	ctx, err := NewFakeContext(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(ctx.pcm) != 128 {
		t.Errorf("pcm = %d bytes, want 128", len(ctx.pcm))
	}
}

func TestAcquireAndTap(t *testing.T) {
	fc := NewFakePCMContext(nil, false)
	mic := NewMicrophone(fc, nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	s, err := mic.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var a, b int
	removeA := s.Tap(func(data []byte, _ uint32) { a += len(data) })
	s.Tap(func(data []byte, _ uint32) { b += len(data) })

	fcap := fc.Last()
	fcap.Push(make([]byte, 10))
	removeA()
	fcap.Push(make([]byte, 10))
	if a != 10 || b != 20 {
		t.Errorf("a=%d b=%d, want 10 and 20", a, b)
	}

	s.Release()
	s.Release()
	if !fcap.Stopped() || !s.Released() {
		t.Error("Release should stop the device")
	}
	fcap.Push(make([]byte, 10))
	if b != 20 {
		t.Error("data delivered after Release")
	}
}

func TestAcquireErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"permission", errors.New("Permission denied by user"), ErrPermissionDenied},
		{"os permission", fmt.Errorf("open: %w", os.ErrPermission), ErrPermissionDenied},
		{"no device", errors.New("connection refused"), ErrDeviceUnavailable},
		{"already classified", ErrDeviceUnavailable, ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := NewFakePCMContext(nil, false)
			fc.Err = tt.err
			_, err := NewMicrophone(fc, nil, CaptureConfig{}).Acquire(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

type blockingContext struct {
	FakeContext
	release chan struct{}
	mu      sync.Mutex
	made    *FakeCapture
}

func (b *blockingContext) NewCapture(d *DeviceInfo, c CaptureConfig) (CaptureDevice, error) {
	<-b.release
	dev, err := b.FakeContext.NewCapture(d, c)
	b.mu.Lock()
	b.made = dev.(*FakeCapture)
	b.mu.Unlock()
	return dev, err
}

func TestAcquireCancelled(t *testing.T) {
	bc := &blockingContext{release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMicrophone(bc, nil, CaptureConfig{}).Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	close(bc.release)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		bc.mu.Lock()
		made := bc.made
		bc.mu.Unlock()
		if made != nil && made.Stopped() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("late stream was not released")
}

func TestFakeCaptureReplaysClip(t *testing.T) {
	clip := pcmOf(fakeFrameSize*3, 9)
	fc := NewFakePCMContext(clip, false)
	var mu sync.Mutex
	var got []byte
	s, err := NewMicrophone(fc, nil, CaptureConfig{}).Acquire(context.Background(), func(data []byte, _ uint32) {
		mu.Lock()
		got = append(got, data...)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-fc.Last().AudioDone():
	case <-time.After(2 * time.Second):
		t.Fatal("clip never finished")
	}
	s.Release()
	mu.Lock()
	defer mu.Unlock()
	if !bytes.Equal(got[:len(clip)], clip) {
		t.Error("replayed audio differs from clip")
	}
}
