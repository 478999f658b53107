package encoder

import (
	"encoding/binary"
	"math"
	"testing"
)

func tone(n int) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func TestSamples(t *testing.T) {
	got := Samples([]byte{0x01, 0x00, 0xff, 0xff, 0x7f})
	if len(got) != 2 || got[0] != 1 || got[1] != -1 {
		t.Errorf("Samples = %v, want [1 -1]", got)
	}
}

func TestFlacEncoder(t *testing.T) {
	pcm := tone(SampleRate)
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	out, err := EncodeAll(enc, pcm)
	if err != nil {
		t.Fatalf("EncodeAll: %v", err)
	}
	if enc.TotalFrames() != SampleRate {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), SampleRate)
	}
	if len(out) < 4 || string(out[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}
	t.Logf("raw: %d bytes, flac: %d bytes", len(pcm), len(out))
}

func TestFlacEncoderEmpty(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if enc.TotalFrames() != 0 {
		t.Errorf("TotalFrames = %d, want 0", enc.TotalFrames())
	}
	if len(enc.Bytes()) == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
}

func TestFlacPartialBlock(t *testing.T) {
	pcm := tone(BlockSize + BlockSize/4)
	out, err := Flac(pcm)
	if err != nil {
		t.Fatalf("Flac: %v", err)
	}
	if string(out[:4]) != "fLaC" {
		t.Fatal("missing FLAC magic")
	}
}
