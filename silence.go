package main

import (
	"sync"
	"time"

	"vchat/chat"
	"vchat/level"
	"vchat/playback"
)

const (
	silenceWarnEvery    = 8 * time.Second
	silenceAutoCloseDur = 30 * time.Second
	speechMinRatio      = 0.10
	speechClearRatio    = 0.25 // higher threshold to clear warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice detected
	SilenceWarnClear              // speech resumed after warning
	SilenceRepeat                 // repeat cue (every 8s)
	SilenceAutoClose              // 30s of silence, stop recording
)

type silenceMonitor struct {
	warnAt   int
	windowSz int

	autoClose bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
	lastBeep    int
}

// newSilenceMonitor expects one Tick per tick interval.
func newSilenceMonitor(tick time.Duration, autoClose bool) *silenceMonitor {
	warnAt := int(silenceWarnEvery / tick)
	windowSz := int(silenceAutoCloseDur / tick)
	return &silenceMonitor{
		warnAt:    warnAt,
		windowSz:  windowSz,
		autoClose: autoClose,
		window:    make([]bool, windowSz),
	}
}

func (m *silenceMonitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(hasSpeech bool) SilenceEvent {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
	}
	m.ticks++

	r := m.ratio(m.warnAt)

	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastBeep = m.ticks
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}

	if !m.autoClose {
		return SilenceNone
	}

	// Checked before repeat so a long silence closes instead of beeping.
	if m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return SilenceAutoClose
	}

	if m.warned && m.ticks-m.lastBeep >= m.warnAt {
		m.lastBeep = m.ticks
		return SilenceRepeat
	}

	return SilenceNone
}

// voiceWatch sits between the capture controller and the chat model and
// flags recordings that hear nothing. It is called with the controller
// lock held, so stop runs on its own goroutine.
type voiceWatch struct {
	view      *chat.Model
	cues      cuePlayer
	stop      func()
	tick      time.Duration
	autoClose bool

	mu  sync.Mutex
	mon *silenceMonitor
}

func newVoiceWatch(view *chat.Model, cues cuePlayer, tick time.Duration, autoClose bool, stop func()) *voiceWatch {
	return &voiceWatch{view: view, cues: cues, stop: stop, tick: tick, autoClose: autoClose}
}

func (w *voiceWatch) RecordingChanged(recording bool) {
	w.mu.Lock()
	w.mon = nil
	if recording {
		w.mon = newSilenceMonitor(w.tick, w.autoClose)
	}
	w.mu.Unlock()
	w.view.RecordingChanged(recording)
}

func (w *voiceWatch) LevelChanged(s level.Sample) {
	w.view.LevelChanged(s)

	w.mu.Lock()
	ev := SilenceNone
	if w.mon != nil {
		ev = w.mon.Tick(s.Speaking)
		if ev == SilenceAutoClose {
			w.mon = nil
		}
	}
	w.mu.Unlock()

	switch ev {
	case SilenceWarn:
		w.view.SetNoVoice(true)
		w.cue(playback.CueError)
	case SilenceWarnClear:
		w.view.SetNoVoice(false)
	case SilenceRepeat:
		w.cue(playback.CueError)
	case SilenceAutoClose:
		if w.stop != nil {
			go w.stop()
		}
	}
}

func (w *voiceWatch) TurnSubmitted() { w.view.TurnSubmitted() }

func (w *voiceWatch) cue(c playback.Cue) {
	if w.cues != nil {
		w.cues.Cue(c)
	}
}
