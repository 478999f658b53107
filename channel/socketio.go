package channel

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO v5 packet types.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
	sioBinaryEvent  = '5'
	sioBinaryAck    = '6'
)

var errServerDisconnect = errors.New("server closed the socket")

// socketIOCodec speaks Socket.IO over a raw WebSocket transport on the
// default namespace.
type socketIOCodec struct {
	sid     string
	pending *binaryPacket
}

type binaryPacket struct {
	raw         string
	want        int
	attachments [][]byte
}

func (c *socketIOCodec) Endpoint(server string) (string, error) {
	u, err := wsURL(server)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *socketIOCodec) Handshake(rw FrameConn) error {
	f, err := rw.ReadFrame()
	if err != nil {
		return fmt.Errorf("engine.io open: %w", err)
	}
	if f.Binary || len(f.Data) == 0 || f.Data[0] != eioOpen {
		return fmt.Errorf("engine.io open: unexpected packet %q", f.Data)
	}
	var open struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(f.Data[1:], &open); err != nil {
		return fmt.Errorf("engine.io open: %w", err)
	}
	c.sid = open.SID

	if err := rw.WriteFrame(textFrame(string([]byte{eioMessage, sioConnect}))); err != nil {
		return err
	}
	for {
		f, err := rw.ReadFrame()
		if err != nil {
			return fmt.Errorf("socket.io connect: %w", err)
		}
		s := string(f.Data)
		switch {
		case f.Binary:
			return errBinaryFrame
		case s == string(eioPing):
			if err := rw.WriteFrame(textFrame(string(eioPong))); err != nil {
				return err
			}
		case strings.HasPrefix(s, string([]byte{eioMessage, sioConnect})):
			return nil
		case strings.HasPrefix(s, string([]byte{eioMessage, sioConnectError})):
			return fmt.Errorf("socket.io connect refused: %s", s[2:])
		}
	}
}

func (c *socketIOCodec) Encode(name string, data any) ([]Frame, error) {
	args := []any{name}
	var blob []byte
	binary := false
	if a, ok := data.(attacher); ok {
		var wire any
		wire, blob = a.attachment()
		args = append(args, wire)
		binary = true
	} else if data != nil {
		args = append(args, data)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	if !binary {
		return []Frame{textFrame(string([]byte{eioMessage, sioEvent}) + string(raw))}, nil
	}
	return []Frame{
		textFrame(string([]byte{eioMessage, sioBinaryEvent}) + "1-" + string(raw)),
		{Binary: true, Data: blob},
	}, nil
}

func (c *socketIOCodec) Decode(f Frame) ([]Event, []Frame, error) {
	if f.Binary {
		return c.attach(f.Data)
	}
	s := string(f.Data)
	if s == "" {
		return nil, nil, errors.New("empty engine.io packet")
	}
	switch s[0] {
	case eioPing:
		return nil, []Frame{textFrame(string(eioPong) + s[1:])}, nil
	case eioPong, eioNoop:
		return nil, nil, nil
	case eioClose:
		return nil, nil, errServerDisconnect
	case eioMessage:
		return c.packet(s[1:])
	}
	return nil, nil, fmt.Errorf("unknown engine.io packet %q", s[:1])
}

func (c *socketIOCodec) packet(p string) ([]Event, []Frame, error) {
	if p == "" {
		return nil, nil, errors.New("empty socket.io packet")
	}
	typ, rest := p[0], p[1:]

	attachments := 0
	if typ == sioBinaryEvent || typ == sioBinaryAck {
		i := strings.IndexByte(rest, '-')
		if i < 0 {
			return nil, nil, fmt.Errorf("binary packet without attachment count: %q", p)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return nil, nil, fmt.Errorf("binary packet attachment count: %w", err)
		}
		attachments, rest = n, rest[i+1:]
	}
	if strings.HasPrefix(rest, "/") {
		nsp, body, _ := strings.Cut(rest, ",")
		if nsp != "/" {
			return nil, nil, nil
		}
		rest = body
	}
	rest = strings.TrimLeft(rest, "0123456789") // ack id

	switch typ {
	case sioEvent:
		ev, err := decodeArgs(rest)
		if err != nil {
			return nil, nil, err
		}
		return []Event{ev}, nil, nil
	case sioBinaryEvent:
		if attachments == 0 {
			ev, err := decodeArgs(rest)
			if err != nil {
				return nil, nil, err
			}
			return []Event{ev}, nil, nil
		}
		c.pending = &binaryPacket{raw: rest, want: attachments}
		return nil, nil, nil
	case sioDisconnect:
		return nil, nil, errServerDisconnect
	case sioConnectError:
		return nil, nil, fmt.Errorf("socket.io connect error: %s", rest)
	case sioConnect, sioAck, sioBinaryAck:
		return nil, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown socket.io packet %q", p[:1])
}

func (c *socketIOCodec) attach(blob []byte) ([]Event, []Frame, error) {
	if c.pending == nil {
		return nil, nil, errBinaryFrame
	}
	c.pending.attachments = append(c.pending.attachments, blob)
	if len(c.pending.attachments) < c.pending.want {
		return nil, nil, nil
	}
	pkt := c.pending
	c.pending = nil

	var args any
	if err := json.Unmarshal([]byte(pkt.raw), &args); err != nil {
		return nil, nil, fmt.Errorf("binary event: %w", err)
	}
	raw, err := json.Marshal(fillPlaceholders(args, pkt.attachments))
	if err != nil {
		return nil, nil, err
	}
	ev, err := decodeArgs(string(raw))
	if err != nil {
		return nil, nil, err
	}
	return []Event{ev}, nil, nil
}

// fillPlaceholders swaps attachment placeholders for base64 strings so
// they unmarshal into []byte fields.
func fillPlaceholders(v any, blobs [][]byte) any {
	switch t := v.(type) {
	case map[string]any:
		if ph, _ := t["_placeholder"].(bool); ph {
			if num, ok := t["num"].(float64); ok && int(num) >= 0 && int(num) < len(blobs) {
				return base64.StdEncoding.EncodeToString(blobs[int(num)])
			}
		}
		for k, e := range t {
			t[k] = fillPlaceholders(e, blobs)
		}
	case []any:
		for i, e := range t {
			t[i] = fillPlaceholders(e, blobs)
		}
	}
	return v
}

func decodeArgs(raw string) (Event, error) {
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return Event{}, fmt.Errorf("event arguments: %w", err)
	}
	if len(args) == 0 {
		return Event{}, errors.New("event without name")
	}
	var ev Event
	if err := json.Unmarshal(args[0], &ev.Name); err != nil {
		return Event{}, fmt.Errorf("event name: %w", err)
	}
	if len(args) > 1 {
		ev.Data = args[1]
	}
	return ev, nil
}
