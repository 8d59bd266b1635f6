package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-client/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-client/pkg/log"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultDialTimeout    = 10 * time.Second
)

type Options struct {
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	Metrics        *metrics.Metrics
}

// Manager owns the one physical connection shared by every subscriber in
// the process. Subscriptions are keyed by topic; subscribe and unsubscribe
// are idempotent. Subscriptions do not survive a lost connection.
type Manager struct {
	transport Transport
	opts      Options

	connect singleflight.Group

	mu            sync.Mutex
	state         State
	conn          Conn
	subs          map[string]Subscription
	listeners     map[uint64]func(bool)
	nextListener  uint64
	everConnected bool
	retrying      bool
	closed        bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

var _ Channel = (*Manager)(nil)

func NewManager(transport Transport, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	return &Manager{
		transport: transport,
		opts:      opts,
		subs:      make(map[string]Subscription),
		listeners: make(map[uint64]func(bool)),
		closeCh:   make(chan struct{}),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case m.state == StateConnected:
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	ch := m.connect.DoChan("connect", func() (interface{}, error) {
		return nil, m.dial()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// dial runs at most once at a time through the singleflight group. The
// attempt is bounded by DialTimeout rather than by any caller's context so
// that one impatient caller cannot fail the attempt for the others.
func (m *Manager) dial() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.setState(StateConnecting)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	defer cancel()

	logger := log.L().With().Str(log.FieldDriver, m.transport.Name()).Logger()
	conn, err := m.transport.Dial(ctx)
	m.opts.Metrics.ConnectAttempt(m.transport.Name(), err)

	m.mu.Lock()
	if err != nil {
		m.setState(StateDisconnected)
		m.startRetry()
		m.mu.Unlock()
		logger.Warn().Err(err).Dur("retry_in", m.opts.ReconnectDelay).Msg("realtime connect failed")
		return fmt.Errorf("failed to connect realtime %s: %w", m.transport.Name(), err)
	}
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrClosed
	}

	reconnected := m.everConnected
	m.everConnected = true
	m.conn = conn
	m.setState(StateConnected)
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watch(conn)

	logger.Info().Bool("reconnected", reconnected).Msg("realtime connected")
	for _, fn := range listeners {
		fn(reconnected)
	}
	return nil
}

// watch waits for conn to drop, forgets its subscriptions and hands over
// to the retry loop.
func (m *Manager) watch(conn Conn) {
	defer m.wg.Done()

	select {
	case <-conn.Done():
	case <-m.closeCh:
		return
	}

	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.subs = make(map[string]Subscription)
	m.opts.Metrics.Subscriptions(0)
	m.setState(StateDisconnected)
	m.startRetry()
	m.mu.Unlock()

	logger := log.L().With().Str(log.FieldDriver, m.transport.Name()).Logger()
	logger.Warn().Err(conn.Err()).Dur("retry_in", m.opts.ReconnectDelay).Msg("realtime connection lost")
}

// startRetry launches the retry loop unless one is already running. It must
// be called with mu held.
func (m *Manager) startRetry() {
	if m.closed || m.retrying {
		return
	}
	m.retrying = true
	m.wg.Add(1)
	go m.retry()
}

// retry dials with a fixed delay until the manager is connected or closed.
// A failed first attempt is retried the same way as a lost connection.
func (m *Manager) retry() {
	defer m.wg.Done()

	timer := time.NewTimer(m.opts.ReconnectDelay)
	defer timer.Stop()
	for {
		select {
		case <-m.closeCh:
			return
		case <-timer.C:
		}

		m.connect.Do("connect", func() (interface{}, error) {
			return nil, m.dial()
		})

		m.mu.Lock()
		if m.closed || m.state == StateConnected {
			m.retrying = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		timer.Reset(m.opts.ReconnectDelay)
	}
}

func (m *Manager) Subscribe(topic string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.subs[topic]; ok {
		return nil
	}
	if m.state != StateConnected || m.conn == nil {
		return ErrNotConnected
	}

	sub, err := m.conn.Subscribe(topic, h)
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", topic, err)
	}
	m.subs[topic] = sub
	m.opts.Metrics.Subscriptions(len(m.subs))

	l := log.L()
	l.Debug().Str(log.FieldTopic, topic).Msg("subscribed")
	return nil
}

func (m *Manager) Unsubscribe(topic string) {
	m.mu.Lock()
	sub, ok := m.subs[topic]
	if ok {
		delete(m.subs, topic)
		m.opts.Metrics.Subscriptions(len(m.subs))
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		l := log.L()
		l.Debug().Err(err).Str(log.FieldTopic, topic).Msg("unsubscribe failed")
	}
}

// Subscribed reports whether topic currently has an active listener.
func (m *Manager) Subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[topic]
	return ok
}

func (m *Manager) SubscribeConversation(conversationID int64, onMessage func(domain.Message)) error {
	topic := domain.ConversationTopic(conversationID)
	return m.Subscribe(topic, func(payload []byte) {
		msg, ok, err := domain.DecodeMessageCreated(payload)
		if err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldTopic, topic).Msg("dropping undecodable push")
			return
		}
		if !ok {
			return
		}
		if msg.ConversationID == 0 {
			msg.ConversationID = conversationID
		}
		onMessage(msg)
	})
}

func (m *Manager) UnsubscribeConversation(conversationID int64) {
	m.Unsubscribe(domain.ConversationTopic(conversationID))
}

func (m *Manager) SubscribeUserConversations(userID int64, onUpdate func(domain.RoomUpdatedEvent)) error {
	topic := domain.UserConversationsTopic(userID)
	return m.Subscribe(topic, func(payload []byte) {
		evt, ok, err := domain.DecodeRoomUpdated(payload)
		if err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldTopic, topic).Msg("dropping undecodable push")
			return
		}
		if ok {
			onUpdate(evt)
		}
	})
}

func (m *Manager) UnsubscribeUserConversations(userID int64) {
	m.Unsubscribe(domain.UserConversationsTopic(userID))
}

func (m *Manager) OnConnected(fn func(reconnected bool)) func() {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Close drops the connection and stops reconnecting. It is safe to call
// more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.closeCh)
	conn := m.conn
	m.conn = nil
	m.subs = make(map[string]Subscription)
	m.setState(StateDisconnected)
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.wg.Wait()
	return err
}

// setState must be called with mu held.
func (m *Manager) setState(s State) {
	m.state = s
	m.opts.Metrics.ConnectionState(int(s))
}
