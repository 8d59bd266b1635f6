package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
)

type fakeTransport struct {
	dials atomic.Int32
	gate  chan struct{}

	mu    sync.Mutex
	err   error
	conns []*fakeConn
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	t.dials.Add(1)
	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	c := &fakeConn{lifecycle: newLifecycle(), handlers: make(map[string]Handler)}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

type fakeConn struct {
	*lifecycle

	mu           sync.Mutex
	handlers     map[string]Handler
	subscribes   int
	unsubscribes int
}

func (c *fakeConn) Subscribe(topic string, h Handler) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = h
	c.subscribes++
	return &fakeSub{conn: c, topic: topic}, nil
}

func (c *fakeConn) Close() error {
	c.fail(errConnClosed)
	return nil
}

func (c *fakeConn) publish(topic string, payload string) {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h != nil {
		h([]byte(payload))
	}
}

func (c *fakeConn) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes, c.unsubscribes
}

type fakeSub struct {
	conn  *fakeConn
	topic string
}

func (s *fakeSub) Unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	delete(s.conn.handlers, s.topic)
	s.conn.unsubscribes++
	return nil
}

const messageCreated = `{"type":"MESSAGE_CREATED","messageResponse":{"id":"m1","conversationId":42,"content":"hi","type":"TEXT","senderId":9,"createdAt":"2026-01-20T10:00:00Z"}}`

func newTestManager(t *testing.T, tr *fakeTransport) *Manager {
	t.Helper()
	m := NewManager(tr, Options{ReconnectDelay: 10 * time.Millisecond, DialTimeout: time.Second})
	t.Cleanup(func() { m.Close() })
	return m
}

func TestConnect_ConcurrentCallersShareOneAttempt(t *testing.T) {
	tr := &fakeTransport{gate: make(chan struct{})}
	m := newTestManager(t, tr)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Connect(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return m.State() == StateConnecting }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(tr.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), tr.dials.Load())
	assert.Equal(t, StateConnected, m.State())

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, int32(1), tr.dials.Load())
}

func TestConnect_FailureIsRetriable(t *testing.T) {
	tr := &fakeTransport{}
	tr.setErr(errors.New("connection refused"))
	m := newTestManager(t, tr)

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, StateDisconnected, m.State())

	tr.setErr(nil)
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.GreaterOrEqual(t, tr.dials.Load(), int32(2))
}

func TestConnect_FailedFirstAttemptRetriesInBackground(t *testing.T) {
	tr := &fakeTransport{}
	tr.setErr(errors.New("connection refused"))
	m := newTestManager(t, tr)

	notified := make(chan bool, 4)
	remove := m.OnConnected(func(reconnected bool) { notified <- reconnected })
	defer remove()

	require.Error(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool { return tr.dials.Load() >= 3 }, time.Second, time.Millisecond)
	assert.NotEqual(t, StateConnected, m.State())

	tr.setErr(nil)
	select {
	case reconnected := <-notified:
		assert.False(t, reconnected, "first successful connection")
	case <-time.After(time.Second):
		t.Fatal("manager never connected on its own")
	}
	assert.Equal(t, StateConnected, m.State())

	// The loop stops once connected.
	dials := tr.dials.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, dials, tr.dials.Load())
}

func TestSubscribe_RequiresConnection(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})

	err := m.SubscribeConversation(42, func(domain.Message) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSubscribeConversation_SecondCallIsNoOp(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	require.NoError(t, m.Connect(context.Background()))

	var first, second []domain.Message
	require.NoError(t, m.SubscribeConversation(42, func(msg domain.Message) { first = append(first, msg) }))
	require.NoError(t, m.SubscribeConversation(42, func(msg domain.Message) { second = append(second, msg) }))

	conn := tr.conn(0)
	subs, _ := conn.counts()
	assert.Equal(t, 1, subs)

	conn.publish("/topic/conversation/42", messageCreated)
	conn.publish("/topic/conversation/42", `{"type":"MESSAGE_RECALLED","messageId":"m0"}`)
	conn.publish("/topic/conversation/42", `not json`)

	require.Len(t, first, 1)
	assert.Equal(t, "m1", first[0].ID)
	assert.Equal(t, int64(9), first[0].SenderID)
	assert.Empty(t, second)
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	require.NoError(t, m.Connect(context.Background()))

	assert.NotPanics(t, func() { m.UnsubscribeConversation(99) })

	require.NoError(t, m.SubscribeConversation(42, func(domain.Message) {}))
	assert.True(t, m.Subscribed("/topic/conversation/42"))

	m.UnsubscribeConversation(42)
	m.UnsubscribeConversation(42)

	assert.False(t, m.Subscribed("/topic/conversation/42"))
	_, unsubs := tr.conn(0).counts()
	assert.Equal(t, 1, unsubs)

	// Subscribing again after an unsubscribe creates a fresh listener.
	require.NoError(t, m.SubscribeConversation(42, func(domain.Message) {}))
	subs, _ := tr.conn(0).counts()
	assert.Equal(t, 2, subs)
}

func TestSubscribeUserConversations(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	require.NoError(t, m.Connect(context.Background()))

	var got []domain.RoomUpdatedEvent
	require.NoError(t, m.SubscribeUserConversations(7, func(evt domain.RoomUpdatedEvent) { got = append(got, evt) }))

	conn := tr.conn(0)
	conn.publish("/topic/user/7/conversations", `{"type":"ROOM_CREATED","conversationId":5}`)
	conn.publish("/topic/user/7/conversations",
		`{"type":"ROOM_UPDATED","conversationId":5,"lastMessage":{"lastMessageContent":"hey","lastMessageType":"TEXT","lastSenderId":9,"lastSenderName":"alice","lastMessageAt":"2026-01-20T10:05:00Z","read":false}}`)

	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].ConversationID)
	assert.Equal(t, "hey", got[0].LastMessage.Content)
	assert.Equal(t, int64(9), got[0].LastMessage.SenderID)
}

func TestReconnect_DropsSubscriptionsAndNotifies(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)

	notified := make(chan bool, 4)
	remove := m.OnConnected(func(reconnected bool) { notified <- reconnected })
	defer remove()

	require.NoError(t, m.Connect(context.Background()))
	assert.False(t, <-notified)

	require.NoError(t, m.SubscribeConversation(42, func(domain.Message) {}))
	tr.conn(0).fail(errors.New("network down"))

	select {
	case reconnected := <-notified:
		assert.True(t, reconnected)
	case <-time.After(time.Second):
		t.Fatal("no reconnect notification")
	}

	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, int32(2), tr.dials.Load())
	assert.False(t, m.Subscribed("/topic/conversation/42"))

	require.NoError(t, m.SubscribeConversation(42, func(domain.Message) {}))
	subs, _ := tr.conn(1).counts()
	assert.Equal(t, 1, subs)
}

func TestReconnect_RetriesUntilDialSucceeds(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	require.NoError(t, m.Connect(context.Background()))

	tr.setErr(errors.New("still down"))
	tr.conn(0).fail(errors.New("network down"))

	require.Eventually(t, func() bool { return tr.dials.Load() >= 3 }, time.Second, time.Millisecond)
	assert.NotEqual(t, StateConnected, m.State())

	tr.setErr(nil)
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, time.Millisecond)
}

func TestClose(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Connect(context.Background()), ErrClosed)
	assert.ErrorIs(t, m.SubscribeConversation(42, func(domain.Message) {}), ErrClosed)
	assert.ErrorIs(t, tr.conn(0).Err(), errConnClosed)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestOnConnected_Remove(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)

	var calls atomic.Int32
	remove := m.OnConnected(func(bool) { calls.Add(1) })
	remove()

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, int32(0), calls.Load())
}
