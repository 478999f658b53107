// Package channel is the real-time event channel to the chat server.
package channel

import (
	"encoding/json"
	"time"
)

// Server to client events.
const (
	EventMessageReceived    = "message-received"
	EventAITyping           = "ai-typing"
	EventAIResponse         = "ai-response"
	EventConversationUpdate = "conversation-update"
	EventSpeechResult       = "speech-result"
	EventError              = "error"
)

// Client to server events.
const (
	EventStartRecording = "start-recording"
	EventStopRecording  = "stop-recording"
	EventAudioStream    = "audio-stream"
	EventTextMessage    = "text-message"
)

type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	IsVoice   bool      `json:"isVoice,omitempty"`
}

// UnmarshalJSON accepts any timestamp the server may send; see lenientTime.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p struct {
		plain
		Timestamp lenientTime `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Message(p.plain)
	m.Timestamp = time.Time(p.Timestamp)
	return nil
}

// lenientTime decodes an RFC 3339 string or epoch milliseconds. Anything
// else, including "" and null, leaves the zero time.
type lenientTime time.Time

func (t *lenientTime) UnmarshalJSON(data []byte) error {
	*t = lenientTime{}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*t = lenientTime(time.UnixMilli(int64(v)))
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			*t = lenientTime(ts)
		}
	}
	return nil
}

// AudioChunk is the audio-stream payload. AudioChunk travels as base64 in
// JSON envelopes and as a binary attachment over Socket.IO.
type AudioChunk struct {
	AudioChunk []byte    `json:"audioChunk"`
	IsFinal    bool      `json:"isFinal"`
	Timestamp  time.Time `json:"timestamp"`
	Format     string    `json:"format,omitempty"`
}

func (a AudioChunk) attachment() (any, []byte) {
	return struct {
		AudioChunk placeholder `json:"audioChunk"`
		IsFinal    bool        `json:"isFinal"`
		Timestamp  time.Time   `json:"timestamp"`
		Format     string      `json:"format,omitempty"`
	}{placeholder{Placeholder: true}, a.IsFinal, a.Timestamp, a.Format}, a.AudioChunk
}

type TextMessage struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Inbound is one decoded server event or connection lifecycle change.
type Inbound interface {
	inbound()
}

type Connected struct{}

type Disconnected struct {
	Reason string
}

type ConnectError struct {
	Err error
}

// MessageEcho is the server's acknowledgement of a user message.
type MessageEcho struct {
	Message Message
}

type AITyping struct {
	Typing bool
}

// AIResponse carries the reply text and optional base64 MP3 speech.
type AIResponse struct {
	Message Message
	Audio   string
}

// Snapshot replaces the whole conversation.
type Snapshot struct {
	Messages []Message
}

type SpeechResult struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	IsFinal    bool      `json:"isFinal"`
	Timestamp  time.Time `json:"timestamp"`
}

func (r *SpeechResult) UnmarshalJSON(data []byte) error {
	type plain SpeechResult
	var p struct {
		plain
		Timestamp lenientTime `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = SpeechResult(p.plain)
	r.Timestamp = time.Time(p.Timestamp)
	return nil
}

type ServerError struct {
	Details json.RawMessage
}

func (Connected) inbound()    {}
func (Disconnected) inbound() {}
func (ConnectError) inbound() {}
func (MessageEcho) inbound()  {}
func (AITyping) inbound()     {}
func (AIResponse) inbound()   {}
func (Snapshot) inbound()     {}
func (SpeechResult) inbound() {}
func (ServerError) inbound()  {}

// Event is a named payload as it appears on the wire.
type Event struct {
	Name string
	Data json.RawMessage
}

// Parse turns a wire event into its typed form. Unknown names report
// ok=false; malformed payloads report an error.
func Parse(ev Event) (in Inbound, ok bool, err error) {
	switch ev.Name {
	case EventMessageReceived:
		var p struct {
			Message Message `json:"message"`
		}
		if err := unmarshal(ev, &p); err != nil {
			return nil, true, err
		}
		return MessageEcho{Message: p.Message}, true, nil
	case EventAITyping:
		var p struct {
			IsTyping bool `json:"isTyping"`
		}
		if err := unmarshal(ev, &p); err != nil {
			return nil, true, err
		}
		return AITyping{Typing: p.IsTyping}, true, nil
	case EventAIResponse:
		var p struct {
			Message     Message `json:"message"`
			AudioBuffer string  `json:"audioBuffer"`
		}
		if err := unmarshal(ev, &p); err != nil {
			return nil, true, err
		}
		return AIResponse{Message: p.Message, Audio: p.AudioBuffer}, true, nil
	case EventConversationUpdate:
		var p struct {
			Messages []Message `json:"messages"`
		}
		if err := unmarshal(ev, &p); err != nil {
			return nil, true, err
		}
		return Snapshot{Messages: p.Messages}, true, nil
	case EventSpeechResult:
		var p SpeechResult
		if err := unmarshal(ev, &p); err != nil {
			return nil, true, err
		}
		return p, true, nil
	case EventError:
		return ServerError{Details: ev.Data}, true, nil
	}
	return nil, false, nil
}

func unmarshal(ev Event, v any) error {
	if len(ev.Data) == 0 {
		return nil
	}
	return json.Unmarshal(ev.Data, v)
}
