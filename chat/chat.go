// Package chat holds the conversation view model fed by the event channel
// and the capture controller.
package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vchat/channel"
	"vchat/level"
	"vchat/log"
)

type Sender string

const (
	User Sender = "user"
	AI   Sender = "ai"
)

type Message struct {
	ID        string
	Text      string
	Sender    Sender
	Timestamp time.Time
	IsVoice   bool
}

// State is an immutable snapshot of the view model.
type State struct {
	Messages        []Message
	Connected       bool
	Connecting      bool
	AITyping        bool
	Recording       bool
	Speaking        bool
	ProcessingAudio bool
	AudioLevel      float64
	// NoVoice is set while recording has heard nothing for a while.
	NoVoice bool
	// LastError is the most recent server or connection error.
	LastError string
}

// Emitter sends outbound channel events.
type Emitter interface {
	Emit(name string, data any) error
}

// Player accepts base64-encoded reply audio.
type Player interface {
	Play(audioB64 string)
}

type Model struct {
	out    Emitter
	player Player
	now    func() time.Time

	mu    sync.Mutex
	state State
	subs  []func(State)
}

// New returns a model in the connecting state. out and player may be nil.
func New(out Emitter, player Player) *Model {
	return &Model{
		out:    out,
		player: player,
		now:    time.Now,
		state:  State{Connecting: true},
	}
}

// Subscribe registers fn to receive a snapshot after every change. fn runs
// on the goroutine that made the change and must not block.
func (m *Model) Subscribe(fn func(State)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Model) snapshotLocked() State {
	s := m.state
	s.Messages = append([]Message(nil), m.state.Messages...)
	return s
}

// update applies fn under the lock and notifies subscribers when it
// reports a change.
func (m *Model) update(fn func(s *State) bool) {
	m.mu.Lock()
	if !fn(&m.state) {
		m.mu.Unlock()
		return
	}
	snap := m.snapshotLocked()
	subs := append(([]func(State))(nil), m.subs...)
	m.mu.Unlock()
	for _, sub := range subs {
		sub(snap)
	}
}

// SendText appends a user message and emits it. Blank text is ignored.
func (m *Model) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" || m.out == nil {
		return nil
	}
	now := m.now()
	m.update(func(s *State) bool {
		s.Messages = append(s.Messages, Message{ID: uuid.NewString(), Text: text, Sender: User, Timestamp: now})
		return true
	})
	log.ChatLine(string(User), text)
	return m.out.Emit(channel.EventTextMessage, channel.TextMessage{Text: text, Timestamp: now})
}

// Apply folds one inbound channel event into the model.
func (m *Model) Apply(in channel.Inbound) {
	switch ev := in.(type) {
	case channel.Connected:
		m.update(func(s *State) bool {
			s.Connected, s.Connecting, s.LastError = true, false, ""
			return true
		})
	case channel.Disconnected:
		m.update(func(s *State) bool {
			s.Connected, s.Connecting = false, true
			return true
		})
	case channel.ConnectError:
		m.update(func(s *State) bool {
			s.Connected, s.Connecting = false, false
			s.LastError = ev.Err.Error()
			return true
		})
	case channel.MessageEcho:
		m.appendMessage(fromWire(ev.Message, User, m.now()), false)
	case channel.AITyping:
		m.update(func(s *State) bool {
			changed := s.AITyping != ev.Typing
			s.AITyping = ev.Typing
			return changed
		})
	case channel.AIResponse:
		m.appendMessage(fromWire(ev.Message, AI, m.now()), true)
		if ev.Audio != "" && m.player != nil {
			m.player.Play(ev.Audio)
		}
	case channel.Snapshot:
		msgs := make([]Message, 0, len(ev.Messages))
		now := m.now()
		for _, w := range ev.Messages {
			msgs = append(msgs, fromWire(w, User, now))
		}
		m.update(func(s *State) bool {
			s.Messages = msgs
			return true
		})
	case channel.SpeechResult:
		if !ev.IsFinal || strings.TrimSpace(ev.Text) == "" {
			return
		}
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = m.now()
		}
		m.appendMessage(Message{ID: uuid.NewString(), Text: ev.Text, Sender: User, Timestamp: ts, IsVoice: true}, false)
	case channel.ServerError:
		log.Warnf("server error: %s", ev.Details)
		m.update(func(s *State) bool {
			s.LastError = string(ev.Details)
			return true
		})
	}
}

func (m *Model) appendMessage(msg Message, reply bool) {
	m.update(func(s *State) bool {
		s.Messages = append(s.Messages, msg)
		if reply {
			s.ProcessingAudio = false
			s.AITyping = false
		}
		return true
	})
	log.ChatLine(string(msg.Sender), msg.Text)
}

// fromWire stamps messages the server sent without a usable time with now.
func fromWire(w channel.Message, fallback Sender, now time.Time) Message {
	msg := Message{
		ID:        w.ID,
		Text:      w.Text,
		Sender:    Sender(w.Sender),
		Timestamp: w.Timestamp,
		IsVoice:   w.IsVoice,
	}
	if msg.Sender != User && msg.Sender != AI {
		msg.Sender = fallback
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	return msg
}

// RecordingChanged implements turn.Observer.
func (m *Model) RecordingChanged(recording bool) {
	m.update(func(s *State) bool {
		s.Recording = recording
		if !recording {
			s.Speaking, s.AudioLevel, s.NoVoice = false, 0, false
		}
		return true
	})
}

// LevelChanged implements turn.Observer.
func (m *Model) LevelChanged(smp level.Sample) {
	m.update(func(s *State) bool {
		changed := s.Speaking != smp.Speaking || s.AudioLevel != smp.Level
		s.Speaking, s.AudioLevel = smp.Speaking, smp.Level
		return changed
	})
}

// TurnSubmitted implements turn.Observer.
func (m *Model) TurnSubmitted() {
	m.update(func(s *State) bool {
		changed := !s.ProcessingAudio
		s.ProcessingAudio = true
		return changed
	})
}

// SetNoVoice flags prolonged silence while recording.
func (m *Model) SetNoVoice(on bool) {
	m.update(func(s *State) bool {
		changed := s.NoVoice != on
		s.NoVoice = on
		return changed
	})
}

// LastReply returns the text of the most recent AI message.
func (m *Model) LastReply() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.state.Messages) - 1; i >= 0; i-- {
		if m.state.Messages[i].Sender == AI {
			return m.state.Messages[i].Text, true
		}
	}
	return "", false
}
