package chat

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"vchat/channel"
	"vchat/level"
	"vchat/playback"
)

type recEmitter struct {
	mu     sync.Mutex
	names  []string
	datas  []any
	failed error
}

func (r *recEmitter) Emit(name string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.datas = append(r.datas, data)
	return r.failed
}

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newModel(player Player) (*Model, *recEmitter) {
	out := &recEmitter{}
	m := New(out, player)
	m.now = func() time.Time { return t0 }
	return m, out
}

func TestInitialState(t *testing.T) {
	m, _ := newModel(nil)
	s := m.State()
	if !s.Connecting || s.Connected || len(s.Messages) != 0 {
		t.Errorf("initial state = %+v", s)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	m, _ := newModel(nil)
	m.Apply(channel.ConnectError{Err: errors.New("refused")})
	if s := m.State(); s.Connecting || s.Connected || s.LastError != "refused" {
		t.Errorf("after connect error = %+v", s)
	}
	m.Apply(channel.Connected{})
	if s := m.State(); !s.Connected || s.Connecting || s.LastError != "" {
		t.Errorf("after connect = %+v", s)
	}
	m.Apply(channel.Disconnected{Reason: "eof"})
	if s := m.State(); s.Connected || !s.Connecting {
		t.Errorf("after disconnect = %+v", s)
	}
}

func TestSendText(t *testing.T) {
	m, out := newModel(nil)
	if err := m.SendText("   "); err != nil {
		t.Fatal(err)
	}
	if len(out.names) != 0 || len(m.State().Messages) != 0 {
		t.Fatal("blank text should be ignored")
	}

	if err := m.SendText(" hello "); err != nil {
		t.Fatal(err)
	}
	msgs := m.State().Messages
	if len(msgs) != 1 || msgs[0].Text != "hello" || msgs[0].Sender != User || msgs[0].ID == "" {
		t.Fatalf("messages = %+v", msgs)
	}
	if len(out.names) != 1 || out.names[0] != channel.EventTextMessage {
		t.Fatalf("emitted %v", out.names)
	}
	if tm := out.datas[0].(channel.TextMessage); tm.Text != "hello" || !tm.Timestamp.Equal(t0) {
		t.Errorf("payload = %+v", tm)
	}

	out.failed = channel.ErrClosed
	if err := m.SendText("again"); !errors.Is(err, channel.ErrClosed) {
		t.Errorf("SendText = %v", err)
	}
}

func TestNoEmitterIgnoresText(t *testing.T) {
	m := New(nil, nil)
	if err := m.SendText("hello"); err != nil {
		t.Fatal(err)
	}
	if len(m.State().Messages) != 0 {
		t.Error("text without a channel should be ignored")
	}
}

func TestInboundMessages(t *testing.T) {
	m, _ := newModel(nil)
	m.Apply(channel.MessageEcho{Message: channel.Message{ID: "u1", Text: "hi", Sender: "user", Timestamp: t0}})
	m.Apply(channel.AITyping{Typing: true})
	if !m.State().AITyping {
		t.Fatal("typing flag not set")
	}
	m.TurnSubmitted()
	m.Apply(channel.AIResponse{Message: channel.Message{ID: "a1", Text: "hello there", Sender: "ai", Timestamp: t0}})

	s := m.State()
	if len(s.Messages) != 2 || s.Messages[1].Sender != AI || s.Messages[1].ID != "a1" {
		t.Fatalf("messages = %+v", s.Messages)
	}
	if s.ProcessingAudio || s.AITyping {
		t.Errorf("reply should clear processing and typing: %+v", s)
	}
	if text, ok := m.LastReply(); !ok || text != "hello there" {
		t.Errorf("LastReply = %q, %v", text, ok)
	}
}

func TestSnapshotReplacesMessages(t *testing.T) {
	m, _ := newModel(nil)
	m.SendText("old")
	m.Apply(channel.Snapshot{Messages: []channel.Message{
		{ID: "1", Text: "a", Sender: "user"},
		{ID: "2", Text: "b", Sender: "ai"},
		{Text: "c", Sender: "robot"},
	}})
	msgs := m.State().Messages
	if len(msgs) != 3 || msgs[0].Text != "a" || msgs[1].Sender != AI {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[2].Sender != User || msgs[2].ID == "" {
		t.Errorf("unknown sender should fall back with a fresh id: %+v", msgs[2])
	}
	for _, msg := range msgs {
		if !msg.Timestamp.Equal(t0) {
			t.Errorf("message %q without a server time stamped %v, want %v", msg.Text, msg.Timestamp, t0)
		}
	}
}

func TestSpeechResult(t *testing.T) {
	m, _ := newModel(nil)
	m.Apply(channel.SpeechResult{Text: "partial", IsFinal: false})
	m.Apply(channel.SpeechResult{Text: "  ", IsFinal: true})
	if len(m.State().Messages) != 0 {
		t.Fatal("interim and blank results should not be appended")
	}
	m.Apply(channel.SpeechResult{Text: "final words", IsFinal: true, Confidence: 0.8})
	msgs := m.State().Messages
	if len(msgs) != 1 || !msgs[0].IsVoice || msgs[0].Sender != User || !msgs[0].Timestamp.Equal(t0) {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestServerError(t *testing.T) {
	m, _ := newModel(nil)
	m.Apply(channel.ServerError{Details: json.RawMessage(`{"message":"overloaded"}`)})
	if s := m.State(); s.LastError == "" || len(s.Messages) != 0 {
		t.Errorf("state = %+v", s)
	}
}

type recPlayer struct{ audio []string }

func (p *recPlayer) Play(a string) { p.audio = append(p.audio, a) }

func TestReplyAudioHandedToPlayer(t *testing.T) {
	p := &recPlayer{}
	m, _ := newModel(p)
	m.Apply(channel.AIResponse{Message: channel.Message{Text: "no audio", Sender: "ai"}})
	m.Apply(channel.AIResponse{Message: channel.Message{Text: "spoken", Sender: "ai"}, Audio: "QUJD"})
	if len(p.audio) != 1 || p.audio[0] != "QUJD" {
		t.Errorf("player got %v", p.audio)
	}
}

func TestUndecodableReplyAudio(t *testing.T) {
	player := playback.NewPlayer(playback.Discard{})
	defer player.Close()
	m, _ := newModel(player)
	m.RecordingChanged(true)
	m.TurnSubmitted()

	m.Apply(channel.AIResponse{Message: channel.Message{ID: "a1", Text: "reply", Sender: "ai"}, Audio: "!!not-base64!!"})

	if player.Failures() != 1 {
		t.Errorf("Failures = %d, want 1", player.Failures())
	}
	s := m.State()
	if len(s.Messages) != 1 || s.Messages[0].Text != "reply" {
		t.Errorf("reply text not appended: %+v", s.Messages)
	}
	if !s.Recording || s.ProcessingAudio {
		t.Errorf("capture state disturbed: %+v", s)
	}
}

func TestObserverHooks(t *testing.T) {
	m, _ := newModel(nil)
	var snaps []State
	m.Subscribe(func(s State) { snaps = append(snaps, s) })

	m.RecordingChanged(true)
	m.LevelChanged(level.Sample{Level: 0.4, Speaking: true})
	m.LevelChanged(level.Sample{Level: 0.4, Speaking: true})
	m.SetNoVoice(true)
	m.RecordingChanged(false)

	if len(snaps) != 4 {
		t.Fatalf("got %d notifications, want 4 (repeated level is not a change)", len(snaps))
	}
	if !snaps[1].Speaking || snaps[1].AudioLevel != 0.4 {
		t.Errorf("level snapshot = %+v", snaps[1])
	}
	last := snaps[3]
	if last.Recording || last.Speaking || last.AudioLevel != 0 || last.NoVoice {
		t.Errorf("stop should reset the meter: %+v", last)
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	m, _ := newModel(nil)
	m.SendText("one")
	s := m.State()
	s.Messages[0].Text = "mutated"
	if m.State().Messages[0].Text != "one" {
		t.Error("State exposed internal slice")
	}
}
