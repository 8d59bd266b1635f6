package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/weiawesome/wes-io-live/chat-client/internal/realtime"
	"github.com/weiawesome/wes-io-live/chat-client/internal/scroll"
	pkgconfig "github.com/weiawesome/wes-io-live/chat-client/pkg/config"
	pkglog "github.com/weiawesome/wes-io-live/chat-client/pkg/log"
)

type Config struct {
	API      APIConfig       `mapstructure:"api"`
	Realtime realtime.Config `mapstructure:"realtime"`
	Chat     ChatConfig      `mapstructure:"chat"`
	Scroll   scroll.Config   `mapstructure:"scroll"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Log      pkglog.Config   `mapstructure:"log"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ChatConfig struct {
	PageSize           int           `mapstructure:"page_size"`
	AppendAcknowledged bool          `mapstructure:"append_acknowledged"`
	MarkReadInterval   time.Duration `mapstructure:"mark_read_interval"`
}

type AuthConfig struct {
	Token  string `mapstructure:"token"`
	UserID int64  `mapstructure:"user_id"`
}

type MetricsConfig struct {
	// Address serves /metrics when set, e.g. "127.0.0.1:9464".
	Address string `mapstructure:"address"`
}

// Load reads configPath (a YAML file or a directory holding
// chat-client.yaml) and the environment.
func Load(configPath string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, "chat-client")
	if err != nil {
		return nil, err
	}
	setDefaults(v)

	// Override from environment
	v.BindEnv("api.base_url", "CHAT_API_BASE_URL")
	v.BindEnv("realtime.driver", "CHAT_REALTIME_DRIVER")
	v.BindEnv("realtime.url", "CHAT_REALTIME_URL")
	v.BindEnv("realtime.redis.address", "REDIS_ADDRESS")
	v.BindEnv("realtime.redis.password", "REDIS_PASSWORD")
	v.BindEnv("realtime.nats.url", "NATS_URL")
	v.BindEnv("auth.token", "CHAT_AUTH_TOKEN")
	v.BindEnv("auth.user_id", "CHAT_USER_ID")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.file", "CHAT_LOG_FILE")
	v.BindEnv("metrics.address", "CHAT_METRICS_ADDRESS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	rt := realtime.DefaultConfig()

	v.SetDefault("api.base_url", "http://localhost:8080/api")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("realtime.driver", rt.Driver)
	v.SetDefault("realtime.url", rt.URL)
	v.SetDefault("realtime.dial_timeout", rt.DialTimeout.String())
	v.SetDefault("realtime.reconnect_delay", rt.ReconnectDelay.String())
	v.SetDefault("realtime.heartbeat_outgoing", rt.HeartbeatOutgoing.String())
	v.SetDefault("realtime.heartbeat_incoming", rt.HeartbeatIncoming.String())
	v.SetDefault("realtime.redis.address", rt.Redis.Address)
	v.SetDefault("realtime.redis.password", "")
	v.SetDefault("realtime.redis.db", 0)
	v.SetDefault("realtime.redis.pool_size", rt.Redis.PoolSize)
	v.SetDefault("realtime.redis.read_timeout", rt.Redis.ReadTimeout.String())
	v.SetDefault("realtime.redis.write_timeout", rt.Redis.WriteTimeout.String())
	v.SetDefault("realtime.nats.url", rt.NATS.URL)
	v.SetDefault("realtime.nats.name", rt.NATS.Name)
	v.SetDefault("chat.page_size", 20)
	v.SetDefault("chat.append_acknowledged", false)
	v.SetDefault("chat.mark_read_interval", "2s")
	// The terminal viewport measures in lines, not pixels.
	v.SetDefault("scroll.near_bottom_threshold", 3)
	v.SetDefault("scroll.near_top_threshold", 1)
	v.SetDefault("scroll.scrollable_epsilon", 0)
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.user_id", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "chat-client")
	v.SetDefault("log.file", "chat-client.log")
	v.SetDefault("metrics.address", "")
}

// Validate rejects configurations the client cannot start with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute url, got %q", c.API.BaseURL)
	}
	switch c.Realtime.Driver {
	case "stomp", "redis", "nats":
	default:
		return fmt.Errorf("realtime.driver must be one of stomp, redis, nats, got %q", c.Realtime.Driver)
	}
	if c.Chat.PageSize <= 0 {
		return fmt.Errorf("chat.page_size must be positive, got %d", c.Chat.PageSize)
	}
	if c.Scroll.NearBottomThreshold < 0 || c.Scroll.NearTopThreshold < 0 || c.Scroll.ScrollableEpsilon < 0 {
		return fmt.Errorf("scroll thresholds must not be negative")
	}
	if c.Auth.Token == "" && c.Auth.UserID == 0 {
		return fmt.Errorf("either auth.token or auth.user_id is required")
	}
	return nil
}
