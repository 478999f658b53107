package playback

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
)

const (
	deviceRate     = 44100
	deviceChannels = 2
)

// Speaker plays clips on the default output device.
type Speaker struct {
	ctx *oto.Context
}

func NewSpeaker() (*Speaker, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   deviceRate,
		ChannelCount: deviceChannels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("audio output: %w", err)
	}
	<-ready
	return &Speaker{ctx: ctx}, nil
}

func (s *Speaker) Play(c Clip) error {
	c = Convert(c, deviceRate, deviceChannels)
	if len(c.PCM) == 0 {
		return nil
	}
	p := s.ctx.NewPlayer(bytes.NewReader(c.PCM))
	p.Play()
	for p.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	return p.Close()
}
