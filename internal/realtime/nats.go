package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/weiawesome/wes-io-live/chat-client/pkg/log"
)

type NATSOptions struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
	// Token, when set, authenticates the connection.
	Token func() string `mapstructure:"-"`
}

type natsTransport struct {
	opts NATSOptions
}

// NewNATSTransport maps topics to NATS subjects, so /topic/conversation/42
// is delivered from topic.conversation.42. Reconnection is left to the
// Manager; the client library's own reconnect loop is disabled.
func NewNATSTransport(opts NATSOptions) Transport {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	return &natsTransport{opts: opts}
}

func (t *natsTransport) Name() string { return "nats" }

func (t *natsTransport) Dial(ctx context.Context) (Conn, error) {
	c := &natsConn{lifecycle: newLifecycle()}

	timeout := nats.DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	opts := []nats.Option{
		nats.NoReconnect(),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.fail(lostCause("nats disconnected", err))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.fail(lostCause("nats connection closed", nc.LastError()))
		}),
	}
	if t.opts.Name != "" {
		opts = append(opts, nats.Name(t.opts.Name))
	}
	if t.opts.Token != nil {
		if tok := t.opts.Token(); tok != "" {
			opts = append(opts, nats.Token(tok))
		}
	}

	nc, err := nats.Connect(t.opts.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	c.nc = nc
	return c, nil
}

func lostCause(msg string, err error) error {
	if err == nil {
		return errors.New(msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

type natsConn struct {
	*lifecycle
	nc *nats.Conn
}

func (c *natsConn) Subscribe(topic string, h Handler) (Subscription, error) {
	subject := subjectFor(topic)
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		h(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to nats subject %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (c *natsConn) Close() error {
	c.fail(errConnClosed)
	c.nc.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	if err != nil {
		l := log.L()
		l.Debug().Err(err).Str("subject", s.sub.Subject).Msg("nats unsubscribe failed")
	}
	return err
}
