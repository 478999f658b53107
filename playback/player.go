package playback

import (
	"sync"
	"sync/atomic"

	"vchat/log"
)

// Output renders PCM and returns once it has finished playing.
type Output interface {
	Play(c Clip) error
}

const queueSize = 8

// Player decodes replies on the caller's goroutine and plays them one at
// a time on its own.
type Player struct {
	out   Output
	queue chan Clip
	done  chan struct{}
	once  sync.Once
	cues  atomic.Bool

	played   atomic.Int64
	failures atomic.Int64
}

func NewPlayer(out Output) *Player {
	p := &Player{
		out:   out,
		queue: make(chan Clip, queueSize),
		done:  make(chan struct{}),
	}
	p.cues.Store(true)
	go p.run()
	return p
}

func (p *Player) run() {
	for {
		select {
		case <-p.done:
			return
		case c := <-p.queue:
			if err := p.out.Play(c); err != nil {
				log.Warnf("playback: %v", err)
				continue
			}
			p.played.Add(1)
		}
	}
}

// Play queues base64 MP3 reply audio. Undecodable audio is logged and
// dropped.
func (p *Player) Play(audioB64 string) {
	clip, err := Decode(audioB64)
	if err != nil {
		p.failures.Add(1)
		log.Warnf("reply audio: %v", err)
		return
	}
	p.enqueue(clip)
}

// Cue queues a recording cue unless cues are disabled.
func (p *Player) Cue(c Cue) {
	if p.cues.Load() {
		p.enqueue(CueClip(c))
	}
}

func (p *Player) DisableCues() { p.cues.Store(false) }

func (p *Player) enqueue(c Clip) {
	select {
	case <-p.done:
	case p.queue <- c:
	default:
		log.Warn("playback queue full, dropping clip")
	}
}

// Failures counts replies whose audio could not be decoded.
func (p *Player) Failures() int { return int(p.failures.Load()) }

// Played counts clips the output finished.
func (p *Player) Played() int { return int(p.played.Load()) }

func (p *Player) Close() {
	p.once.Do(func() { close(p.done) })
}

// Discard is an Output that drops audio, for headless runs.
type Discard struct{}

func (Discard) Play(Clip) error { return nil }
