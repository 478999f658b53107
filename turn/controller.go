// Package turn segments microphone capture into conversational turns.
//
// A Controller owns at most one capture session. While capturing, every
// level sample either cancels the pending silence timer (speech) or arms
// one (silence). When a timer fires the buffered fragments are flushed to
// the Transport as one audio submission. In streaming mode fragments are
// forwarded as they arrive instead.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"vchat/audio"
	"vchat/level"
	"vchat/log"
	"vchat/sched"
)

var (
	ErrActive  = errors.New("capture already active")
	ErrAborted = errors.New("capture stopped before the microphone opened")
)

type Mode int

const (
	ModeTurn Mode = iota
	ModeStream
)

func (m Mode) String() string {
	if m == ModeStream {
		return "stream"
	}
	return "turn"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "turn", "batch":
		return ModeTurn, nil
	case "stream", "streaming":
		return ModeStream, nil
	}
	return ModeTurn, fmt.Errorf("unknown capture mode %q (want turn or stream)", s)
}

type State int

const (
	Idle State = iota
	Capturing
	Flushing
)

func (s State) String() string {
	switch s {
	case Capturing:
		return "capturing"
	case Flushing:
		return "flushing"
	}
	return "idle"
}

type Config struct {
	Mode           Mode
	Format         Format
	Timeslice      time.Duration
	SilenceTimeout time.Duration
	Threshold      float64
}

func DefaultConfig() Config {
	return Config{
		Mode:           ModeTurn,
		Format:         FormatWAV,
		Timeslice:      100 * time.Millisecond,
		SilenceTimeout: 2 * time.Second,
		Threshold:      level.DefaultThreshold,
	}
}

// Submission is one outbound audio payload. Complete marks the end of a
// turn; streaming fragments carry Complete=false.
type Submission struct {
	Payload    []byte
	Complete   bool
	CapturedAt time.Time
	Format     Format
}

// Transport receives the outbound events of capture sessions. Calls are
// made with the controller lock held, in streaming mode from the capture
// thread, so they must hand off rather than wait on the network. They
// must not call back into the controller.
type Transport interface {
	RecordingStarted()
	RecordingStopped()
	SubmitAudio(Submission)
}

// Observer mirrors capture state into a view.
type Observer interface {
	RecordingChanged(recording bool)
	LevelChanged(level.Sample)
	TurnSubmitted()
}

type Microphone interface {
	Acquire(ctx context.Context, taps ...audio.DataCallback) (*audio.Stream, error)
}

// Analyser is a level source fed from the capture stream.
type Analyser interface {
	level.Source
	Feed(data []byte, frameCount uint32)
}

type Option func(*Controller)

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

func WithAnalyser(newAnalyser func() Analyser) Option {
	return func(c *Controller) { c.newAnalyser = newAnalyser }
}

type nopObserver struct{}

func (nopObserver) RecordingChanged(bool)     {}
func (nopObserver) LevelChanged(level.Sample) {}
func (nopObserver) TurnSubmitted()            {}

type Controller struct {
	cfg         Config
	sched       sched.Scheduler
	mic         Microphone
	transport   Transport
	observer    Observer
	newAnalyser func() Analyser

	mu       sync.Mutex
	sess     *session
	starting bool
	abort    bool
}

type session struct {
	state    State
	stream   *audio.Stream
	recorder *audio.Recorder
	analysis *level.Handle
	buf      Buffer

	silence    sched.Timer
	silenceGen uint64

	active   bool
	stopping bool
	done     bool
	started  time.Time
	turns    int
}

func New(cfg Config, s sched.Scheduler, mic Microphone, t Transport, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.Format == "" {
		cfg.Format = def.Format
	}
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = def.Timeslice
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = def.SilenceTimeout
	}
	c := &Controller{
		cfg:         cfg,
		sched:       s,
		mic:         mic,
		transport:   t,
		observer:    nopObserver{},
		newAnalyser: func() Analyser { return level.NewAnalyser() },
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start acquires the microphone and begins a capture session. It returns
// ErrActive if a session is running or starting. Acquisition failures
// leave the controller Idle and are returned unchanged.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil || c.starting {
		c.mu.Unlock()
		return ErrActive
	}
	c.starting = true
	c.abort = false
	s := &session{state: Capturing}
	an := c.newAnalyser()
	s.recorder = audio.NewRecorder(c.cfg.Timeslice, func(f audio.Fragment) { c.onFragment(s, f) })
	c.mu.Unlock()

	stream, err := c.mic.Acquire(ctx, an.Feed, s.recorder.Write)

	c.mu.Lock()
	c.starting = false
	if err == nil && c.abort {
		c.mu.Unlock()
		stream.Release()
		return ErrAborted
	}
	if err != nil {
		c.mu.Unlock()
		log.Errorf("microphone: %v", err)
		return err
	}
	defer c.mu.Unlock()

	s.stream = stream
	s.active = true
	s.started = c.sched.Now()
	c.sess = s
	c.transport.RecordingStarted()
	c.observer.RecordingChanged(true)
	if c.cfg.Mode == ModeStream && s.buf.Len() > 0 {
		c.transport.SubmitAudio(Submission{Payload: s.buf.Drain(), CapturedAt: s.started, Format: FormatPCM})
	}
	s.analysis = level.Start(c.sched, an, c.cfg.Threshold, func(smp level.Sample) { c.onSample(s, smp) })
	log.CaptureStart(stream.DeviceName(), c.cfg.Mode.String(), string(c.cfg.Format))
	return nil
}

// Stop ends the session: sampling and the silence timer are cancelled
// before the stream is released, the recorder tail is flushed as the
// final turn, then stop-recording is emitted. Stop on an idle controller
// or a session already stopping does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.starting {
		c.abort = true
	}
	s := c.sess
	if s == nil || s.stopping {
		c.mu.Unlock()
		return
	}
	s.stopping = true
	s.analysis.Stop()
	c.cancelSilenceLocked(s)
	c.mu.Unlock()

	// Released without the lock: the capture thread may be blocked on it
	// inside onFragment.
	s.stream.Release()
	s.recorder.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.sched.Now()
	if c.cfg.Mode == ModeStream {
		c.transport.SubmitAudio(Submission{Complete: true, CapturedAt: now, Format: FormatPCM})
	} else {
		s.state = Flushing
		c.flushLocked(s, true)
	}
	s.done = true
	s.state = Idle
	c.sess = nil
	c.transport.RecordingStopped()
	c.observer.RecordingChanged(false)
	log.CaptureStop(s.turns, now.Sub(s.started))
}

// Toggle starts capture when idle and stops it otherwise.
func (c *Controller) Toggle(ctx context.Context) error {
	if c.Active() {
		c.Stop()
		return nil
	}
	return c.Start(ctx)
}

// Active reports whether a session is running or being acquired.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil || c.starting
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Idle
	}
	return c.sess.state
}

// SilencePending reports whether a silence timer is armed.
func (c *Controller) SilencePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && c.sess.silence != nil
}

// Buffered is the number of fragments waiting for the next flush.
func (c *Controller) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return 0
	}
	return c.sess.buf.Len()
}

func (c *Controller) onFragment(s *session, f audio.Fragment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.done {
		return
	}
	if !s.active || c.cfg.Mode == ModeTurn {
		s.buf.Append(f)
		return
	}
	c.transport.SubmitAudio(Submission{Payload: f.Data, CapturedAt: f.CapturedAt, Format: FormatPCM})
}

func (c *Controller) onSample(s *session, smp level.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s || s.stopping {
		return
	}
	c.observer.LevelChanged(smp)
	if smp.Speaking {
		c.cancelSilenceLocked(s)
		return
	}
	if s.silence == nil {
		s.silenceGen++
		gen := s.silenceGen
		s.silence = c.sched.AfterFunc(c.cfg.SilenceTimeout, func() { c.onSilence(s, gen) })
	}
}

func (c *Controller) onSilence(s *session, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s || s.stopping || s.silence == nil || s.silenceGen != gen || s.state != Capturing {
		return
	}
	s.silence = nil
	s.state = Flushing
	c.flushLocked(s, false)
	s.state = Capturing
}

func (c *Controller) cancelSilenceLocked(s *session) {
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
}

func (c *Controller) flushLocked(s *session, final bool) {
	if s.buf.Len() == 0 {
		return
	}
	frags := s.buf.Len()
	pcm := s.buf.Drain()
	format := c.cfg.Format
	payload, err := Encode(format, pcm)
	if err != nil {
		log.Warnf("encode %s turn, sending raw pcm: %v", format, err)
		payload, format = pcm, FormatPCM
	}
	c.transport.SubmitAudio(Submission{
		Payload:    payload,
		Complete:   true,
		CapturedAt: c.sched.Now(),
		Format:     format,
	})
	s.turns++
	c.observer.TurnSubmitted()
	log.TurnFlushed(frags, len(pcm), string(format), final)
}
