package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/chat-client/pkg/log"
)

type RedisOptions struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// HealthInterval is how often the connection is pinged; a failed ping
	// counts as a lost connection.
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

type redisTransport struct {
	opts RedisOptions
}

// NewRedisTransport subscribes to topics as redis pub/sub channels of the
// same name.
func NewRedisTransport(opts RedisOptions) Transport {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHeartbeat
	}
	return &redisTransport{opts: opts}
}

func (t *redisTransport) Name() string { return "redis" }

func (t *redisTransport) Dial(ctx context.Context) (Conn, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         t.opts.Address,
		Password:     t.opts.Password,
		DB:           t.opts.DB,
		PoolSize:     t.opts.PoolSize,
		ReadTimeout:  t.opts.ReadTimeout,
		WriteTimeout: t.opts.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := &redisConn{
		lifecycle: newLifecycle(),
		client:    client,
		subs:      make(map[*redis.PubSub]struct{}),
		interval:  t.opts.HealthInterval,
	}
	go c.monitor()
	return c, nil
}

type redisConn struct {
	*lifecycle

	client   *redis.Client
	interval time.Duration

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

// monitor pings the server until the connection is closed or a ping fails.
func (c *redisConn) monitor() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.interval)
			err := c.client.Ping(ctx).Err()
			cancel()
			if err != nil {
				c.shutdown(fmt.Errorf("redis health check failed: %w", err))
				return
			}
		}
	}
}

func (c *redisConn) Subscribe(topic string, h Handler) (Subscription, error) {
	select {
	case <-c.done:
		return nil, errConnClosed
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	ps := c.client.Subscribe(ctx, topic)
	// Wait for the subscription confirmation so that no message published
	// after Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to redis channel %s: %w", topic, err)
	}

	c.mu.Lock()
	c.subs[ps] = struct{}{}
	c.mu.Unlock()

	go c.processMessages(ps, h)
	return &redisSubscription{conn: c, ps: ps}, nil
}

func (c *redisConn) processMessages(ps *redis.PubSub, h Handler) {
	ch := ps.Channel()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h([]byte(msg.Payload))
		}
	}
}

func (c *redisConn) Close() error {
	return c.shutdown(errConnClosed)
}

func (c *redisConn) shutdown(cause error) error {
	c.fail(cause)

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[*redis.PubSub]struct{})
	c.mu.Unlock()

	for ps := range subs {
		ps.Close()
	}
	if err := c.client.Close(); err != nil && cause == errConnClosed {
		l := log.L()
		l.Debug().Err(err).Msg("redis close failed")
	}
	return nil
}

type redisSubscription struct {
	conn *redisConn
	ps   *redis.PubSub
	once sync.Once
}

func (s *redisSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.conn.mu.Lock()
		delete(s.conn.subs, s.ps)
		s.conn.mu.Unlock()
		err = s.ps.Close()
	})
	return err
}
