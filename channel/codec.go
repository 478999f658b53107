package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Frame is one WebSocket message.
type Frame struct {
	Binary bool
	Data   []byte
}

func textFrame(s string) Frame { return Frame{Data: []byte(s)} }

// FrameConn is the view of a connection a codec needs for its handshake.
type FrameConn interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
}

// Codec maps named events onto WebSocket frames. A codec instance serves
// a single connection.
type Codec interface {
	// Endpoint maps the configured server address to the WebSocket URL.
	Endpoint(server string) (string, error)
	// Handshake runs once after dialing, before the channel is reported
	// connected.
	Handshake(FrameConn) error
	Encode(name string, data any) ([]Frame, error)
	// Decode consumes one inbound frame and returns the events it
	// completed plus any control frames to send back.
	Decode(Frame) (events []Event, replies []Frame, err error)
}

// NewCodec returns a constructor for the named wire encoding.
func NewCodec(name string) (func() Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return func() Codec { return jsonCodec{} }, nil
	case "socketio", "socket.io":
		return func() Codec { return &socketIOCodec{} }, nil
	}
	return nil, fmt.Errorf("unknown channel codec %q (want json or socketio)", name)
}

// attacher is implemented by payloads that carry one binary blob.
type attacher interface {
	attachment() (wire any, blob []byte)
}

type placeholder struct {
	Placeholder bool `json:"_placeholder"`
	Num         int  `json:"num"`
}

var errBinaryFrame = errors.New("unexpected binary frame")

func wsURL(server string) (*url.URL, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server url %q has no host", server)
	}
	return u, nil
}

// jsonCodec frames every event as {"event": name, "data": payload}.
type jsonCodec struct{}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (jsonCodec) Endpoint(server string) (string, error) {
	u, err := wsURL(server)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (jsonCodec) Handshake(FrameConn) error { return nil }

func (jsonCodec) Encode(name string, data any) ([]Frame, error) {
	env := envelope{Event: name}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		env.Data = raw
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return []Frame{{Data: b}}, nil
}

func (jsonCodec) Decode(f Frame) ([]Event, []Frame, error) {
	if f.Binary {
		return nil, nil, errBinaryFrame
	}
	var env envelope
	if err := json.Unmarshal(f.Data, &env); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, nil, errors.New("envelope without event name")
	}
	return []Event{{Name: env.Event, Data: env.Data}}, nil, nil
}
