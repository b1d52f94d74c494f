package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	TwitchAccessToken  string `env:"TWITCH_ACCESS_TOKEN"`
	TwitchRefreshToken string `env:"TWITCH_REFRESH_TOKEN"`

	IRCURL            string        `env:"IRC_URL" default:"wss://irc-ws.chat.twitch.tv:443"`
	GuestNickPrefix   string        `env:"GUEST_NICK_PREFIX" default:"justinfan"`
	KeepaliveInterval time.Duration `env:"IRC_KEEPALIVE_INTERVAL" default:"60s"`

	RecentMessagesURL string        `env:"RECENT_MESSAGES_URL" default:"https://recent-messages.robotty.de/api/v2/recent-messages"`
	RedisURL          string        `env:"REDIS_URL"`
	BackfillCacheTTL  time.Duration `env:"BACKFILL_CACHE_TTL" default:"30s"`

	MessageCap           int     `env:"MESSAGE_CAP" default:"500"`
	MaxConsumers         int     `env:"MAX_CONSUMERS" default:"1000"`
	MaxConsumersPerIP    int     `env:"MAX_CONSUMERS_PER_IP" default:"20"`
	ConsumerConnectRate  float64 `env:"CONSUMER_CONNECT_RATE" default:"5"`
	ConsumerConnectBurst int     `env:"CONSUMER_CONNECT_BURST" default:"10"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.TwitchAccessToken != "" && cfg.TwitchClientID == "" {
		return errors.New("TWITCH_CLIENT_ID is required when TWITCH_ACCESS_TOKEN is set")
	}
	if cfg.TwitchRefreshToken != "" && (cfg.TwitchClientID == "" || cfg.TwitchClientSecret == "") {
		return errors.New("TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET are required when TWITCH_REFRESH_TOKEN is set")
	}

	if err := validateURL("IRC_URL", cfg.IRCURL, "ws", "wss"); err != nil {
		return err
	}
	if cfg.IsProduction() && !strings.HasPrefix(cfg.IRCURL, "wss://") {
		return errors.New("IRC_URL must use wss:// in production")
	}
	if cfg.RecentMessagesURL != "" {
		if err := validateURL("RECENT_MESSAGES_URL", cfg.RecentMessagesURL, "http", "https"); err != nil {
			return err
		}
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if cfg.MessageCap < 1 || cfg.MessageCap > 10000 {
		return fmt.Errorf("MESSAGE_CAP must be between 1 and 10000, got %d", cfg.MessageCap)
	}
	if cfg.MaxConsumers < 1 {
		return fmt.Errorf("MAX_CONSUMERS must be positive, got %d", cfg.MaxConsumers)
	}
	if cfg.MaxConsumersPerIP < 0 {
		return errors.New("MAX_CONSUMERS_PER_IP must not be negative")
	}
	if cfg.ConsumerConnectRate < 0 || cfg.ConsumerConnectBurst < 0 {
		return errors.New("CONSUMER_CONNECT_RATE and CONSUMER_CONNECT_BURST must not be negative")
	}
	if cfg.KeepaliveInterval < time.Second {
		return fmt.Errorf("IRC_KEEPALIVE_INTERVAL must be at least 1s, got %s", cfg.KeepaliveInterval)
	}
	if cfg.BackfillCacheTTL < 0 {
		return errors.New("BACKFILL_CACHE_TTL must not be negative")
	}

	return nil
}

func validateURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v, got %q", name, schemes, u.Scheme)
}
