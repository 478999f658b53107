package main

import (
	"vchat/channel"
	"vchat/log"
	"vchat/playback"
	"vchat/turn"
)

// cuePlayer plays the short recording cues.
type cuePlayer interface {
	Cue(playback.Cue)
}

// channelTransport forwards capture sessions to the chat server.
type channelTransport struct {
	out  interface{ Emit(string, any) error }
	cues cuePlayer
}

func (t *channelTransport) RecordingStarted() {
	t.emit(channel.EventStartRecording, nil)
	if t.cues != nil {
		t.cues.Cue(playback.CueStart)
	}
}

func (t *channelTransport) RecordingStopped() {
	t.emit(channel.EventStopRecording, nil)
	if t.cues != nil {
		t.cues.Cue(playback.CueStop)
	}
}

func (t *channelTransport) SubmitAudio(s turn.Submission) {
	t.emit(channel.EventAudioStream, channel.AudioChunk{
		AudioChunk: s.Payload,
		IsFinal:    s.Complete,
		Timestamp:  s.CapturedAt,
		Format:     string(s.Format),
	})
}

func (t *channelTransport) emit(name string, data any) {
	if err := t.out.Emit(name, data); err != nil {
		log.Warnf("emit %s: %v", name, err)
	}
}
