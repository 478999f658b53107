// Package playback plays the server's spoken replies and the recording cues.
package playback

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/tosone/minimp3"
)

var ErrAudioDecode = errors.New("audio decode failed")

// Clip is interleaved PCM16LE audio.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

func (c Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.PCM) / 2 / c.Channels
}

// Decode turns a base64 MP3 payload into PCM. A data URI prefix is
// accepted. Every failure wraps ErrAudioDecode.
func Decode(b64 string) (Clip, error) {
	b64 = strings.TrimSpace(b64)
	if i := strings.Index(b64, ";base64,"); i >= 0 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: base64: %v", ErrAudioDecode, err)
	}
	if len(raw) == 0 {
		return Clip{}, fmt.Errorf("%w: empty payload", ErrAudioDecode)
	}
	dec, pcm, err := minimp3.DecodeFull(raw)
	if err != nil {
		return Clip{}, fmt.Errorf("%w: mp3: %v", ErrAudioDecode, err)
	}
	if dec == nil || len(pcm) == 0 || dec.SampleRate <= 0 || dec.Channels <= 0 {
		return Clip{}, fmt.Errorf("%w: no mp3 frames", ErrAudioDecode)
	}
	return Clip{PCM: pcm, SampleRate: dec.SampleRate, Channels: dec.Channels}, nil
}

// Convert resamples c linearly and maps it onto the given channel count.
func Convert(c Clip, sampleRate, channels int) Clip {
	if c.SampleRate == sampleRate && c.Channels == channels {
		return c
	}
	in := c.Frames()
	if in == 0 || sampleRate <= 0 || channels <= 0 {
		return Clip{SampleRate: sampleRate, Channels: channels}
	}
	out := int(int64(in) * int64(sampleRate) / int64(c.SampleRate))
	pcm := make([]byte, out*channels*2)
	at := func(frame, ch int) float64 {
		if ch >= c.Channels {
			ch = c.Channels - 1
		}
		off := (frame*c.Channels + ch) * 2
		return float64(int16(binary.LittleEndian.Uint16(c.PCM[off:])))
	}
	step := float64(c.SampleRate) / float64(sampleRate)
	for i := 0; i < out; i++ {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		k := min(j+1, in-1)
		for ch := 0; ch < channels; ch++ {
			var v float64
			if channels == 1 && c.Channels > 1 {
				for src := 0; src < c.Channels; src++ {
					v += at(j, src)*(1-frac) + at(k, src)*frac
				}
				v /= float64(c.Channels)
			} else {
				v = at(j, ch)*(1-frac) + at(k, ch)*frac
			}
			binary.LittleEndian.PutUint16(pcm[(i*channels+ch)*2:], uint16(int16(v)))
		}
	}
	return Clip{PCM: pcm, SampleRate: sampleRate, Channels: channels}
}
