package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"vchat/log"
)

var (
	ErrNotConnected = errors.New("channel not connected")
	ErrClosed       = errors.New("channel closed")
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultSendBuffer     = 256

	handshakeTimeout  = 10 * time.Second
	writeTimeout      = 10 * time.Second
	closeFlushTimeout = 2 * time.Second
)

type Config struct {
	URL   string
	Codec string
	// ReconnectDelay is the fixed wait before every reconnect attempt.
	ReconnectDelay time.Duration
	// SendBuffer bounds the outbound queue; the oldest events are dropped
	// first. Negative disables queueing while disconnected.
	SendBuffer int
	Header     http.Header
}

// Client keeps one WebSocket connection to the server alive, reconnecting
// after a fixed delay whenever it drops or a dial fails.
type Client struct {
	cfg      Config
	endpoint string
	newCodec func() Codec
	handler  func(Inbound)
	dialer   *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	writer    *writer
	connected bool
	started   bool
	closed    bool
	pending   []outbound
	retry     *time.Timer
	attempt   int

	sent     atomic.Int64
	received atomic.Int64
}

type outbound struct {
	name string
	data any
}

// writer drains the outbound queue onto one connection.
type writer struct {
	conn  *websocket.Conn
	codec Codec
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newWriter(conn *websocket.Conn, codec Codec) *writer {
	return &writer{
		conn:  conn,
		codec: codec,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (w *writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// halt asks the writer to flush what is queued and exit.
func (w *writer) halt() { w.once.Do(func() { close(w.stop) }) }

// New validates cfg. handler receives every inbound event on the reader
// goroutine, in arrival order. It must not call Close.
func New(cfg Config, handler func(Inbound)) (*Client, error) {
	newCodec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	endpoint, err := newCodec().Endpoint(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if handler == nil {
		handler = func(Inbound) {}
	}
	return &Client{
		cfg:      cfg,
		endpoint: endpoint,
		newCodec: newCodec,
		handler:  handler,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}, nil
}

func (c *Client) Endpoint() string { return c.endpoint }

// Start begins connecting in the background. The client closes itself
// when ctx ends.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		<-c.ctx.Done()
		c.Close()
	}()
	go c.connect()
}

// Close drops the connection and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.retry != nil && c.retry.Stop() {
		c.wg.Done()
	}
	c.retry = nil
	conn, w := c.conn, c.writer
	cancel := c.cancel
	c.mu.Unlock()

	if w != nil {
		w.halt()
		select {
		case <-w.done:
		case <-time.After(closeFlushTimeout):
			log.Warnf("close: gave up flushing queued events")
			conn.Close()
			<-w.done
		}
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.wg.Wait()
	log.SessionEnd(int(c.sent.Load()), int(c.received.Load()))
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats reports how many events were written and delivered.
func (c *Client) Stats() (sent, received int) {
	return int(c.sent.Load()), int(c.received.Load())
}

// Emit queues one event and returns without waiting for the network. A
// writer goroutine sends the queue in order while connected; while
// disconnected events wait for the next successful connect.
func (c *Client) Emit(name string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.connected && c.cfg.SendBuffer < 0 {
		return ErrNotConnected
	}
	c.pending = append(c.pending, outbound{name: name, data: data})
	c.trimLocked()
	if c.writer != nil {
		c.writer.signal()
	}
	return nil
}

func (c *Client) queueLimit() int {
	if c.cfg.SendBuffer < 0 {
		return DefaultSendBuffer
	}
	return c.cfg.SendBuffer
}

// trimLocked drops the oldest queued events beyond the limit.
func (c *Client) trimLocked() {
	if n := len(c.pending) - c.queueLimit(); n > 0 {
		c.pending = c.pending[n:]
		log.Warnf("send buffer full, dropped %d oldest events", n)
	}
}

// requeue puts events that did not go out back at the head of the queue.
func (c *Client) requeue(unsent []outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(append([]outbound(nil), unsent...), c.pending...)
	c.trimLocked()
}

func (c *Client) runWriter(w *writer) {
	defer c.wg.Done()
	defer close(w.done)
	for {
		select {
		case <-w.wake:
		case <-w.stop:
			if err := c.flush(w); err != nil {
				log.Warnf("flush queued events: %v", err)
			}
			return
		}
		if err := c.flush(w); err != nil {
			log.Warnf("%v", err)
			// The reader sees the closed connection and reconnects.
			w.conn.Close()
			return
		}
	}
}

// flush writes queued events until the queue is empty. On a write error
// the unsent events are requeued.
func (c *Client) flush(w *writer) error {
	for {
		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		if len(batch) == 0 {
			return nil
		}

		c.writeMu.Lock()
		for i, o := range batch {
			frames, err := w.codec.Encode(o.name, o.data)
			if err != nil {
				log.Warnf("drop %s: %v", o.name, err)
				continue
			}
			if err := writeFrames(w.conn, frames); err != nil {
				c.writeMu.Unlock()
				c.requeue(batch[i:])
				return fmt.Errorf("send %s: %w", o.name, err)
			}
			c.sent.Add(1)
		}
		c.writeMu.Unlock()
	}
}

func writeFrames(conn *websocket.Conn, frames []Frame) error {
	for _, f := range frames {
		if err := writeFrame(conn, f); err != nil {
			return err
		}
	}
	return nil
}

func writeFrame(conn *websocket.Conn, f Frame) error {
	mt := websocket.TextMessage
	if f.Binary {
		mt = websocket.BinaryMessage
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(mt, f.Data)
}

// wsConn adapts a connection for codec handshakes.
type wsConn struct{ conn *websocket.Conn }

func (w wsConn) ReadFrame() (Frame, error) {
	mt, data, err := w.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return Frame{Binary: mt == websocket.BinaryMessage, Data: data}, nil
}

func (w wsConn) WriteFrame(f Frame) error { return writeFrame(w.conn, f) }

func (c *Client) dial() (*websocket.Conn, Codec, error) {
	ctx, cancel := context.WithTimeout(c.ctx, handshakeTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, c.cfg.Header)
	if err != nil {
		return nil, nil, err
	}
	// Unblock the handshake if the client closes meanwhile.
	unwatch := context.AfterFunc(c.ctx, func() { conn.Close() })
	defer unwatch()

	codec := c.newCodec()
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	if err := codec.Handshake(wsConn{conn}); err != nil {
		conn.Close()
		return nil, nil, err
	}
	conn.SetReadDeadline(time.Time{})
	return conn, codec, nil
}

// connect runs one connection attempt and, if it succeeds, the reader
// until the connection drops. The caller must have added to wg.
func (c *Client) connect() {
	defer c.wg.Done()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	conn, codec, err := c.dial()
	if err != nil {
		if c.isClosed() {
			return
		}
		log.Connection("connect_error", c.endpoint, attempt)
		log.Warnf("connect %s: %v", c.endpoint, err)
		c.handler(ConnectError{Err: err})
		c.scheduleRetry()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	w := newWriter(conn, codec)
	c.conn, c.writer, c.connected = conn, w, true
	c.attempt = 0
	c.wg.Add(1)
	c.mu.Unlock()
	// Events queued while disconnected go out first.
	w.signal()
	go c.runWriter(w)

	log.Connection("connected", c.endpoint, attempt)
	c.handler(Connected{})

	err = c.read(conn, codec)

	c.mu.Lock()
	c.connected = false
	c.conn, c.writer = nil, nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		// Close flushes the writer and sends the close frame.
		return
	}
	conn.Close()
	w.halt()
	<-w.done
	if c.cfg.SendBuffer < 0 {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}
	log.Connection("disconnected", c.endpoint, 0)
	c.handler(Disconnected{Reason: err.Error()})
	c.scheduleRetry()
}

func (c *Client) read(conn *websocket.Conn, codec Codec) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		events, replies, err := codec.Decode(Frame{Binary: mt == websocket.BinaryMessage, Data: data})
		if len(replies) > 0 {
			c.writeMu.Lock()
			for _, r := range replies {
				if werr := writeFrame(conn, r); werr != nil {
					log.Warnf("write control frame: %v", werr)
				}
			}
			c.writeMu.Unlock()
		}
		if errors.Is(err, errServerDisconnect) {
			return err
		}
		if err != nil {
			log.Warnf("drop malformed frame: %v", err)
			continue
		}
		for _, ev := range events {
			in, known, err := Parse(ev)
			switch {
			case err != nil:
				log.Warnf("drop malformed %s event: %v", ev.Name, err)
			case !known:
				log.Warnf("drop unknown event %q", ev.Name)
			default:
				c.received.Add(1)
				c.handler(in)
			}
		}
	}
}

func (c *Client) scheduleRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.connected || c.retry != nil {
		return
	}
	c.wg.Add(1)
	c.retry = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		c.retry = nil
		c.mu.Unlock()
		c.connect()
	})
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
