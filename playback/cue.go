package playback

import (
	"encoding/binary"
	"math"
)

type Cue int

const (
	CueStart Cue = iota
	CueStop
	CueError
)

const cueRate = 44100

type tone struct {
	freq, duration, volume, decay float64
	repeat                        int
}

var cueTones = map[Cue]tone{
	// Start: high pitch, short
	CueStart: {freq: 1200, duration: 0.05, volume: 0.5, decay: 60, repeat: 1},
	// Stop: medium pitch, slightly longer
	CueStop: {freq: 900, duration: 0.08, volume: 0.5, decay: 40, repeat: 1},
	// Error: low pitch double beep
	CueError: {freq: 350, duration: 0.08, volume: 0.6, decay: 30, repeat: 2},
}

// CueClip renders the cue as mono PCM.
func CueClip(c Cue) Clip {
	t := cueTones[c]
	n := int(cueRate * t.duration)
	gap := int(cueRate * 0.05)
	total := n*t.repeat + gap*(t.repeat-1)
	pcm := make([]byte, total*2)
	for r := 0; r < t.repeat; r++ {
		base := r * (n + gap)
		for i := 0; i < n; i++ {
			sec := float64(i) / cueRate
			envelope := math.Exp(-sec * t.decay)
			s := int16(math.Sin(2*math.Pi*t.freq*sec) * 32767 * t.volume * envelope)
			binary.LittleEndian.PutUint16(pcm[(base+i)*2:], uint16(s))
		}
	}
	return Clip{PCM: pcm, SampleRate: cueRate, Channels: 1}
}
