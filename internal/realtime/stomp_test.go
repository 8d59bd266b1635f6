package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
)

func TestFrame_RoundTrip(t *testing.T) {
	f := newFrame(cmdMessage,
		"subscription", "sub-1",
		"destination", "/topic/conversation/42",
		"note", "a:b\nc\\d",
	)
	f.body = []byte(`{"type":"MESSAGE_CREATED"}`)

	frames, err := parseFrames(f.marshal())
	require.NoError(t, err)
	require.Len(t, frames, 1)

	got := frames[0]
	assert.Equal(t, cmdMessage, got.command)
	v, _ := got.header("note")
	assert.Equal(t, "a:b\nc\\d", v)
	cl, ok := got.header("content-length")
	require.True(t, ok)
	assert.Equal(t, "26", cl)
	assert.Equal(t, f.body, got.body)
}

func TestParseFrames(t *testing.T) {
	t.Run("heart-beat", func(t *testing.T) {
		frames, err := parseFrames([]byte("\n"))
		require.NoError(t, err)
		assert.Empty(t, frames)
	})

	t.Run("several frames with CRLF", func(t *testing.T) {
		data := "CONNECTED\r\nversion:1.2\r\nheart-beat:0,0\r\n\r\n\x00\n" +
			"MESSAGE\nsubscription:s1\n\nhello\x00"
		frames, err := parseFrames([]byte(data))
		require.NoError(t, err)
		require.Len(t, frames, 2)
		assert.Equal(t, cmdConnected, frames[0].command)
		v, _ := frames[0].header("version")
		assert.Equal(t, "1.2", v)
		assert.Equal(t, "hello", string(frames[1].body))
	})

	t.Run("first repeated header wins", func(t *testing.T) {
		frames, err := parseFrames([]byte("MESSAGE\nfoo:1\nfoo:2\n\n\x00"))
		require.NoError(t, err)
		v, _ := frames[0].header("foo")
		assert.Equal(t, "1", v)
	})

	t.Run("content-length body may hold NUL", func(t *testing.T) {
		frames, err := parseFrames([]byte("MESSAGE\ncontent-length:3\n\na\x00b\x00"))
		require.NoError(t, err)
		assert.Equal(t, []byte("a\x00b"), frames[0].body)
	})

	t.Run("unterminated", func(t *testing.T) {
		_, err := parseFrames([]byte("MESSAGE\n\nbody"))
		assert.Error(t, err)
	})

	t.Run("bad escape", func(t *testing.T) {
		_, err := parseFrames([]byte("MESSAGE\nfoo:\\t\n\n\x00"))
		assert.Error(t, err)
	})
}

func TestNegotiate(t *testing.T) {
	assert.Equal(t, 4*time.Second, negotiate(4000, 4000))
	assert.Equal(t, 10*time.Second, negotiate(4000, 10000))
	assert.Equal(t, time.Duration(0), negotiate(0, 4000))
	assert.Equal(t, time.Duration(0), negotiate(4000, 0))
}

// broker is a minimal STOMP server: it answers CONNECT, records
// SUBSCRIBE and UNSUBSCRIBE, and publishes on demand.
type broker struct {
	t *testing.T

	mu      sync.Mutex
	ws      *websocket.Conn
	subs    map[string]string // destination -> subscription id
	frames  []frame
	connect frame
	reject  string
}

func newBroker(t *testing.T) (*broker, *httptest.Server) {
	b := &broker{t: t, subs: make(map[string]string)}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.serve(ws)
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *broker) serve(ws *websocket.Conn) {
	defer ws.Close()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frames, err := parseFrames(data)
		if err != nil {
			return
		}
		for _, f := range frames {
			b.mu.Lock()
			b.frames = append(b.frames, f)
			reject := b.reject
			b.mu.Unlock()

			switch f.command {
			case cmdConnect:
				b.mu.Lock()
				b.connect = f
				b.ws = ws
				b.mu.Unlock()
				if reject != "" {
					ws.WriteMessage(websocket.TextMessage, newFrame(cmdError, "message", reject).marshal())
					return
				}
				ws.WriteMessage(websocket.TextMessage,
					newFrame(cmdConnected, "version", "1.2", "heart-beat", "0,0").marshal())
			case cmdSubscribe:
				id, _ := f.header("id")
				dest, _ := f.header("destination")
				b.mu.Lock()
				b.subs[dest] = id
				b.mu.Unlock()
			case cmdUnsubscribe:
				id, _ := f.header("id")
				b.mu.Lock()
				for dest, sid := range b.subs {
					if sid == id {
						delete(b.subs, dest)
					}
				}
				b.mu.Unlock()
			case cmdDisconnect:
				return
			}
		}
	}
}

func (b *broker) subscribed(dest string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[dest]
	return ok
}

func (b *broker) publish(dest, body string) {
	b.mu.Lock()
	id := b.subs[dest]
	ws := b.ws
	b.mu.Unlock()

	f := newFrame(cmdMessage, "subscription", id, "destination", dest, "message-id", "1")
	f.body = []byte(body)
	require.NoError(b.t, ws.WriteMessage(websocket.TextMessage, f.marshal()))
}

func (b *broker) dropConnection() {
	b.mu.Lock()
	ws := b.ws
	b.mu.Unlock()
	ws.Close()
}

func (b *broker) sawCommand(cmd string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.frames {
		if f.command == cmd {
			return true
		}
	}
	return false
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStomp_SubscribeDeliverUnsubscribe(t *testing.T) {
	b, srv := newBroker(t)

	tr := NewStompTransport(StompOptions{
		URL:               srv.URL,
		Token:             func() string { return "tok" },
		HeartbeatOutgoing: DefaultHeartbeat,
		HeartbeatIncoming: DefaultHeartbeat,
	})
	m := NewManager(tr, Options{ReconnectDelay: 20 * time.Millisecond})
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))

	b.mu.Lock()
	auth, _ := b.connect.header("Authorization")
	hb, _ := b.connect.header("heart-beat")
	b.mu.Unlock()
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "4000,4000", hb)

	got := make(chan domain.Message, 1)
	require.NoError(t, m.SubscribeConversation(42, func(msg domain.Message) { got <- msg }))
	require.Eventually(t, func() bool { return b.subscribed("/topic/conversation/42") }, time.Second, 5*time.Millisecond)

	b.publish("/topic/conversation/42", messageCreated)
	select {
	case msg := <-got:
		assert.Equal(t, "m1", msg.ID)
		assert.Equal(t, int64(42), msg.ConversationID)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	m.UnsubscribeConversation(42)
	require.Eventually(t, func() bool { return !b.subscribed("/topic/conversation/42") }, time.Second, 5*time.Millisecond)
}

func TestStomp_ReconnectAfterDrop(t *testing.T) {
	b, srv := newBroker(t)

	m := NewManager(NewStompTransport(StompOptions{URL: wsURL(srv)}), Options{ReconnectDelay: 20 * time.Millisecond})
	defer m.Close()

	reconnected := make(chan struct{}, 1)
	m.OnConnected(func(again bool) {
		if again {
			reconnected <- struct{}{}
		}
	})

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.SubscribeConversation(42, func(domain.Message) {}))
	require.Eventually(t, func() bool { return b.subscribed("/topic/conversation/42") }, time.Second, 5*time.Millisecond)

	b.dropConnection()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("did not reconnect")
	}
	assert.Equal(t, StateConnected, m.State())
	assert.False(t, m.Subscribed("/topic/conversation/42"))
}

func TestStomp_BrokerRejectsConnect(t *testing.T) {
	b, srv := newBroker(t)
	b.mu.Lock()
	b.reject = "bad credentials"
	b.mu.Unlock()

	tr := NewStompTransport(StompOptions{URL: wsURL(srv)})
	_, err := tr.Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestStomp_CloseSendsDisconnect(t *testing.T) {
	b, srv := newBroker(t)

	conn, err := NewStompTransport(StompOptions{URL: wsURL(srv)}).Dial(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	<-conn.Done()
	assert.ErrorIs(t, conn.Err(), errConnClosed)
	require.Eventually(t, func() bool { return b.sawCommand(cmdDisconnect) }, time.Second, 5*time.Millisecond)
}
