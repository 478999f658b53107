package main

import (
	"sync"
	"testing"
	"time"

	"vchat/chat"
	"vchat/level"
	"vchat/playback"
)

// 100ms ticks: warn after 80, auto-close window of 300.
const testTick = 100 * time.Millisecond

func feedN(m *silenceMonitor, speech bool, n int) SilenceEvent {
	var last SilenceEvent
	for i := 0; i < n; i++ {
		last = m.Tick(speech)
	}
	return last
}

func TestSilenceWarnAfter8s(t *testing.T) {
	m := newSilenceMonitor(testTick, false)
	for i := 0; i < 79; i++ {
		if ev := m.Tick(false); ev != SilenceNone {
			t.Fatalf("unexpected event at tick %d: %d", i, ev)
		}
	}
	if ev := m.Tick(false); ev != SilenceWarn {
		t.Fatalf("expected SilenceWarn at tick 80, got %d", ev)
	}
}

func TestSilenceWarnAtFrameRate(t *testing.T) {
	m := newSilenceMonitor(time.Second/60, false)
	if ev := feedN(m, false, 479); ev != SilenceNone {
		t.Fatalf("early event %d", ev)
	}
	if ev := m.Tick(false); ev != SilenceWarn {
		t.Fatalf("expected SilenceWarn after 8s of frames, got %d", ev)
	}
}

func TestSilenceWarnClearsOnSpeech(t *testing.T) {
	m := newSilenceMonitor(testTick, false)
	feedN(m, false, 80)
	for i := 0; i < 80; i++ {
		if m.Tick(true) == SilenceWarnClear {
			return
		}
	}
	t.Fatal("expected SilenceWarnClear after speech")
}

func TestWarnStaysDuringNoise(t *testing.T) {
	m := newSilenceMonitor(testTick, false)
	feedN(m, false, 80)
	for i := 0; i < 80; i++ {
		// 10% speech is below the clear ratio.
		if ev := m.Tick(i%10 == 0); ev == SilenceWarnClear {
			t.Fatalf("warning cleared at tick %d", i)
		}
	}
}

func TestSilenceMonitorEvents(t *testing.T) {
	tests := []struct {
		name      string
		autoClose bool
		speech    func(i int) bool
		ticks     int
		want      SilenceEvent
		forbid    SilenceEvent
	}{
		{"repeat when auto-closing", true, func(int) bool { return false }, 180, SilenceRepeat, SilenceNone},
		{"auto-close after 30s", true, func(int) bool { return false }, 400, SilenceAutoClose, SilenceNone},
		{"no auto-close when disabled", false, func(int) bool { return false }, 400, SilenceNone, SilenceAutoClose},
		{"no repeat when disabled", false, func(int) bool { return false }, 300, SilenceNone, SilenceRepeat},
		{"speech prevents auto-close", true, func(i int) bool { return i%10 < 7 }, 500, SilenceNone, SilenceAutoClose},
		{"no warn during speech", false, func(int) bool { return true }, 200, SilenceNone, SilenceWarn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newSilenceMonitor(testTick, tt.autoClose)
			seen := map[SilenceEvent]int{}
			for i := 0; i < tt.ticks; i++ {
				ev := m.Tick(tt.speech(i))
				seen[ev]++
				if ev == SilenceAutoClose {
					break
				}
			}
			if tt.want != SilenceNone && seen[tt.want] == 0 {
				t.Errorf("never saw event %d: %v", tt.want, seen)
			}
			if tt.forbid != SilenceNone && seen[tt.forbid] > 0 {
				t.Errorf("saw forbidden event %d: %v", tt.forbid, seen)
			}
		})
	}
}

func TestAutoCloseBeforeRepeat(t *testing.T) {
	m := newSilenceMonitor(testTick, true)
	for i := 0; i < 400; i++ {
		ev := m.Tick(false)
		if ev == SilenceAutoClose {
			return
		}
		if i >= 300 && ev == SilenceRepeat {
			t.Fatalf("SilenceRepeat fired at tick %d instead of SilenceAutoClose", i)
		}
	}
	t.Fatal("expected SilenceAutoClose within 400 ticks")
}

func TestWarnOnlyOnce(t *testing.T) {
	m := newSilenceMonitor(testTick, false)
	warns := 0
	for i := 0; i < 300; i++ {
		if m.Tick(false) == SilenceWarn {
			warns++
		}
	}
	if warns != 1 {
		t.Fatalf("expected exactly 1 SilenceWarn, got %d", warns)
	}
}

type recordedCues struct {
	mu   sync.Mutex
	cues []playback.Cue
}

func (r *recordedCues) Cue(c playback.Cue) {
	r.mu.Lock()
	r.cues = append(r.cues, c)
	r.mu.Unlock()
}

func (r *recordedCues) count(c playback.Cue) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.cues {
		if x == c {
			n++
		}
	}
	return n
}

func TestVoiceWatchFlagsSilence(t *testing.T) {
	view := chat.New(nil, nil)
	cues := &recordedCues{}
	w := newVoiceWatch(view, cues, testTick, false, nil)

	w.RecordingChanged(true)
	for i := 0; i < 80; i++ {
		w.LevelChanged(level.Sample{Level: 0.01})
	}
	if !view.State().NoVoice {
		t.Fatal("expected no-voice flag after 8s of silence")
	}
	if cues.count(playback.CueError) != 1 {
		t.Errorf("error cues = %d, want 1", cues.count(playback.CueError))
	}

	for i := 0; i < 80 && view.State().NoVoice; i++ {
		w.LevelChanged(level.Sample{Level: 0.5, Speaking: true})
	}
	if view.State().NoVoice {
		t.Error("speech should clear the no-voice flag")
	}
	if got := view.State().AudioLevel; got != 0.5 {
		t.Errorf("level = %v, want forwarded 0.5", got)
	}

	w.RecordingChanged(false)
	if view.State().Recording {
		t.Error("recording flag not forwarded")
	}
	// Samples after the session are forwarded but not monitored.
	for i := 0; i < 100; i++ {
		w.LevelChanged(level.Sample{})
	}
	if view.State().NoVoice {
		t.Error("idle samples should not raise the no-voice flag")
	}
}

func TestVoiceWatchAutoClose(t *testing.T) {
	stopped := make(chan struct{}, 4)
	w := newVoiceWatch(chat.New(nil, nil), nil, testTick, true, func() { stopped <- struct{}{} })

	w.RecordingChanged(true)
	for i := 0; i < 400; i++ {
		w.LevelChanged(level.Sample{})
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("expected stop after 30s of silence")
	}
	select {
	case <-stopped:
		t.Fatal("stop requested twice")
	case <-time.After(50 * time.Millisecond):
	}
}
