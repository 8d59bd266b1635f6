package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/chat-client/pkg/log"
)

const (
	DefaultHeartbeat      = 4 * time.Second
	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 1 << 20
	sendBufferSize        = 64
)

type StompOptions struct {
	// URL of the broker's raw WebSocket endpoint. http and https schemes
	// are mapped to ws and wss.
	URL string

	// Token, when set, is sent as a bearer Authorization header on both the
	// WebSocket handshake and the CONNECT frame.
	Token func() string

	// Heart-beat intervals offered to the broker. Zero disables a direction.
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration

	WriteWait      time.Duration
	MaxMessageSize int64
	Dialer         *websocket.Dialer
}

type stompTransport struct {
	opts StompOptions
}

// NewStompTransport speaks STOMP 1.2 over a WebSocket.
func NewStompTransport(opts StompOptions) Transport {
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &stompTransport{opts: opts}
}

func (t *stompTransport) Name() string { return "stomp" }

func (t *stompTransport) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(t.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	header := http.Header{}
	var token string
	if t.opts.Token != nil {
		token = t.opts.Token()
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, _, err := t.opts.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.Redacted(), err)
	}

	out, in, err := t.handshake(ctx, ws, u.Hostname(), token)
	if err != nil {
		ws.Close()
		return nil, err
	}

	c := &stompConn{
		lifecycle: newLifecycle(),
		id:        uuid.NewString(),
		ws:        ws,
		send:      make(chan []byte, sendBufferSize),
		handlers:  make(map[string]Handler),
		outgoing:  out,
		incoming:  in,
		opts:      t.opts,
	}
	ws.SetReadLimit(t.opts.MaxMessageSize)

	go c.readPump()
	go c.writePump()

	l := log.L()
	l.Debug().
		Str(log.FieldConnectionID, c.id).
		Dur("heartbeat_out", out).
		Dur("heartbeat_in", in).
		Msg("stomp session established")
	return c, nil
}

// handshake sends CONNECT and waits for CONNECTED. It returns the negotiated
// outgoing and incoming heart-beat intervals.
func (t *stompTransport) handshake(ctx context.Context, ws *websocket.Conn, host, token string) (time.Duration, time.Duration, error) {
	cx := t.opts.HeartbeatOutgoing.Milliseconds()
	cy := t.opts.HeartbeatIncoming.Milliseconds()

	connect := newFrame(cmdConnect,
		"accept-version", "1.2",
		"host", host,
		"heart-beat", fmt.Sprintf("%d,%d", cx, cy),
	)
	if token != "" {
		connect.headers = append(connect.headers, [2]string{"Authorization", "Bearer " + token})
	}

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetWriteDeadline(deadline)
		ws.SetReadDeadline(deadline)
		defer ws.SetReadDeadline(time.Time{})
	}
	if err := ws.WriteMessage(websocket.TextMessage, connect.marshal()); err != nil {
		return 0, 0, fmt.Errorf("failed to send CONNECT: %w", err)
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read CONNECTED: %w", err)
		}
		frames, err := parseFrames(data)
		if err != nil {
			return 0, 0, err
		}
		for _, f := range frames {
			switch f.command {
			case cmdConnected:
				var sx, sy int
				if hb, ok := f.header("heart-beat"); ok {
					if sx, sy, err = parseHeartBeat(hb); err != nil {
						return 0, 0, err
					}
				}
				return negotiate(cx, int64(sy)), negotiate(cy, int64(sx)), nil
			case cmdError:
				return 0, 0, brokerError(f)
			}
		}
	}
}

// negotiate applies the STOMP rule: a direction is active only when both
// sides offer it, at the larger of the two intervals.
func negotiate(mine, theirs int64) time.Duration {
	if mine == 0 || theirs == 0 {
		return 0
	}
	return time.Duration(max(mine, theirs)) * time.Millisecond
}

func brokerError(f frame) error {
	msg, _ := f.header("message")
	if len(f.body) > 0 {
		return fmt.Errorf("stomp broker error: %s: %s", msg, f.body)
	}
	return fmt.Errorf("stomp broker error: %s", msg)
}

type stompConn struct {
	*lifecycle

	id   string
	ws   *websocket.Conn
	send chan []byte
	opts StompOptions

	outgoing time.Duration
	incoming time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
}

func (c *stompConn) Close() error {
	c.fail(errConnClosed)
	return nil
}

func (c *stompConn) Subscribe(topic string, h Handler) (Subscription, error) {
	id := uuid.NewString()

	c.mu.Lock()
	c.handlers[id] = h
	c.mu.Unlock()

	f := newFrame(cmdSubscribe, "id", id, "destination", topic, "ack", "auto")
	if err := c.enqueue(f); err != nil {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
		return nil, err
	}
	return &stompSubscription{conn: c, id: id}, nil
}

func (c *stompConn) enqueue(f frame) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- f.marshal():
		return nil
	case <-c.done:
		return errConnClosed
	}
}

func (c *stompConn) readPump() {
	defer func() {
		c.ws.Close()
	}()

	if c.incoming > 0 {
		c.ws.SetReadDeadline(time.Now().Add(2 * c.incoming))
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l := log.L()
				l.Debug().Err(err).Str(log.FieldConnectionID, c.id).Msg("stomp read failed")
			}
			c.fail(err)
			return
		}
		// Any inbound traffic, heart-beats included, proves liveness.
		if c.incoming > 0 {
			c.ws.SetReadDeadline(time.Now().Add(2 * c.incoming))
		}

		frames, err := parseFrames(data)
		if err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldConnectionID, c.id).Msg("dropping malformed stomp frame")
			continue
		}
		for _, f := range frames {
			switch f.command {
			case cmdMessage:
				c.dispatch(f)
			case cmdError:
				c.fail(brokerError(f))
				return
			}
		}
	}
}

func (c *stompConn) dispatch(f frame) {
	sub, ok := f.header("subscription")
	if !ok {
		return
	}
	c.mu.Lock()
	h := c.handlers[sub]
	c.mu.Unlock()
	if h != nil {
		h(f.body)
	}
}

func (c *stompConn) writePump() {
	var beat <-chan time.Time
	if c.outgoing > 0 {
		ticker := time.NewTicker(c.outgoing)
		defer ticker.Stop()
		beat = ticker.C
	}
	defer c.ws.Close()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(err)
				return
			}

		case <-beat:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte("\n")); err != nil {
				c.fail(err)
				return
			}

		case <-c.done:
			if c.closedByOwner() {
				c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
				c.ws.WriteMessage(websocket.TextMessage, newFrame(cmdDisconnect).marshal())
				c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return
		}
	}
}

type stompSubscription struct {
	conn *stompConn
	id   string
	once sync.Once
}

func (s *stompSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.conn.mu.Lock()
		delete(s.conn.handlers, s.id)
		s.conn.mu.Unlock()

		err = s.conn.enqueue(newFrame(cmdUnsubscribe, "id", s.id))
		if errors.Is(err, errConnClosed) {
			err = nil
		}
	})
	return err
}
