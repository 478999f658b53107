package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"vchat/audio"
	"vchat/config"
	"vchat/encoder"
)

type wireEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// chatServer answers text messages and completed turns with an ai-response
// and records the names of every event it receives.
type chatServer struct {
	*httptest.Server
	mu     sync.Mutex
	events []string
	audio  []json.RawMessage
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	cs := &chatServer{}
	up := websocket.Upgrader{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env wireEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			cs.mu.Lock()
			cs.events = append(cs.events, env.Event)
			cs.mu.Unlock()

			var reply string
			switch env.Event {
			case "text-message":
				var p struct{ Text string }
				json.Unmarshal(env.Data, &p)
				reply = "echo: " + p.Text
			case "audio-stream":
				var p struct {
					AudioChunk []byte `json:"audioChunk"`
					IsFinal    bool   `json:"isFinal"`
					Format     string `json:"format"`
				}
				json.Unmarshal(env.Data, &p)
				cs.mu.Lock()
				cs.audio = append(cs.audio, env.Data)
				cs.mu.Unlock()
				if p.IsFinal && len(p.AudioChunk) > 0 {
					reply = "heard " + p.Format
				}
			}
			if reply == "" {
				continue
			}
			data, _ := json.Marshal(map[string]any{
				"message": map[string]any{"id": "r1", "text": reply, "sender": "ai", "timestamp": time.Now()},
			})
			if err := conn.WriteJSON(wireEnvelope{Event: "ai-response", Data: data}); err != nil {
				return
			}
		}
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *chatServer) received() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]string(nil), cs.events...)
}

// writeToneWAV writes a loud 440Hz tone followed by silence.
func writeToneWAV(t *testing.T, tone, silence time.Duration) string {
	t.Helper()
	toneN := int(tone.Seconds() * encoder.SampleRate)
	total := toneN + int(silence.Seconds()*encoder.SampleRate)
	pcm := make([]byte, total*2)
	for i := 0; i < toneN; i++ {
		v := int16(12000 * math.Sin(2*math.Pi*440*float64(i)/encoder.SampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	path := filepath.Join(t.TempDir(), "speech.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(pcm), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func scriptLines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func TestHeadlessConversation(t *testing.T) {
	cs := newChatServer(t)
	cfg := config.Default()
	cfg.ServerURL = cs.URL
	cfg.Codec = "json"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := runHeadless(ctx, cfg, writeToneWAV(t, 500*time.Millisecond, 100*time.Millisecond), strings.NewReader(scriptLines(
		"WAIT_CONNECTED",
		"SAY hello",
		"WAIT_REPLY",
		"START",
		"WAIT_AUDIO_DONE",
		"STOP",
		"WAIT_IDLE",
		"WAIT_REPLY",
		"QUIT",
	)), &out)
	if err != nil {
		t.Fatalf("runHeadless: %v\noutput:\n%s", err, out.String())
	}

	transcript := out.String()
	for _, want := range []string{"user: hello", "ai: echo: hello", "ai: heard wav"} {
		if !strings.Contains(transcript, want) {
			t.Errorf("transcript missing %q:\n%s", want, transcript)
		}
	}

	events := strings.Join(cs.received(), ",")
	if !strings.Contains(events, "text-message") {
		t.Errorf("server never saw text-message: %s", events)
	}
	start := strings.Index(events, "start-recording")
	audioAt := strings.Index(events, "audio-stream")
	stop := strings.Index(events, "stop-recording")
	if start < 0 || audioAt < start || stop < audioAt {
		t.Errorf("want start-recording, audio-stream, stop-recording in order; got %s", events)
	}
	if n := strings.Count(events, "start-recording"); n != 1 {
		t.Errorf("start-recording sent %d times", n)
	}
}

func TestHeadlessStreaming(t *testing.T) {
	cs := newChatServer(t)
	cfg := config.Default()
	cfg.ServerURL = cs.URL
	cfg.Codec = "json"
	cfg.Mode = "stream"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := runHeadless(ctx, cfg, writeToneWAV(t, 300*time.Millisecond, 0), strings.NewReader(scriptLines(
		"WAIT_CONNECTED",
		"START",
		"WAIT_AUDIO_DONE",
		"SLEEP 150",
		"STOP",
		"WAIT_IDLE",
		"SLEEP 200",
		"QUIT",
	)), &out)
	if err != nil {
		t.Fatalf("runHeadless: %v", err)
	}

	cs.mu.Lock()
	chunks := append([]json.RawMessage(nil), cs.audio...)
	cs.mu.Unlock()
	if len(chunks) < 2 {
		t.Fatalf("got %d audio-stream events, want fragments plus a final marker", len(chunks))
	}
	var last struct {
		AudioChunk []byte `json:"audioChunk"`
		IsFinal    bool   `json:"isFinal"`
	}
	json.Unmarshal(chunks[len(chunks)-1], &last)
	if !last.IsFinal || len(last.AudioChunk) != 0 {
		t.Errorf("last chunk final=%v len=%d, want empty final marker", last.IsFinal, len(last.AudioChunk))
	}
	for i, c := range chunks[:len(chunks)-1] {
		var p struct {
			IsFinal bool   `json:"isFinal"`
			Format  string `json:"format"`
		}
		json.Unmarshal(c, &p)
		if p.IsFinal || p.Format != "pcm" {
			t.Errorf("chunk %d: final=%v format=%q", i, p.IsFinal, p.Format)
		}
	}
}

func TestHeadlessUnknownCommand(t *testing.T) {
	cs := newChatServer(t)
	cfg := config.Default()
	cfg.ServerURL = cs.URL
	cfg.Codec = "json"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := runHeadless(ctx, cfg, writeToneWAV(t, 100*time.Millisecond, 0), strings.NewReader("DANCE\n"), &out)
	if err == nil || !strings.Contains(err.Error(), "DANCE") {
		t.Fatalf("err = %v, want unknown command error", err)
	}
}
