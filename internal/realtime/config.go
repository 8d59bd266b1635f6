package realtime

import (
	"fmt"
	"time"
)

// Config selects and configures the broker transport.
type Config struct {
	Driver            string        `mapstructure:"driver"` // "stomp", "redis", "nats"
	URL               string        `mapstructure:"url"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	HeartbeatOutgoing time.Duration `mapstructure:"heartbeat_outgoing"`
	HeartbeatIncoming time.Duration `mapstructure:"heartbeat_incoming"`

	Redis RedisOptions `mapstructure:"redis"`
	NATS  NATSOptions  `mapstructure:"nats"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Driver:            "stomp",
		URL:               "ws://localhost:8080/ws/websocket",
		DialTimeout:       DefaultDialTimeout,
		ReconnectDelay:    DefaultReconnectDelay,
		HeartbeatOutgoing: DefaultHeartbeat,
		HeartbeatIncoming: DefaultHeartbeat,
		Redis: RedisOptions{
			Address:      "localhost:6379",
			PoolSize:     10,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		NATS: NATSOptions{
			URL:  "nats://localhost:4222",
			Name: "chat-client",
		},
	}
}

// NewTransport creates the transport named by cfg.Driver. token supplies the
// bearer credential for drivers that authenticate.
func NewTransport(cfg Config, token func() string) (Transport, error) {
	switch cfg.Driver {
	case "", "stomp":
		if cfg.URL == "" {
			return nil, fmt.Errorf("realtime url is required for the stomp driver")
		}
		return NewStompTransport(StompOptions{
			URL:               cfg.URL,
			Token:             token,
			HeartbeatOutgoing: cfg.HeartbeatOutgoing,
			HeartbeatIncoming: cfg.HeartbeatIncoming,
		}), nil
	case "redis":
		opts := cfg.Redis
		if opts.HealthInterval <= 0 {
			opts.HealthInterval = cfg.HeartbeatIncoming
		}
		return NewRedisTransport(opts), nil
	case "nats":
		opts := cfg.NATS
		opts.Token = token
		return NewNATSTransport(opts), nil
	default:
		return nil, fmt.Errorf("unknown realtime driver %q", cfg.Driver)
	}
}
