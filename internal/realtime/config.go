package realtime

import (
	"fmt"
	"time"

	"transcript-core/internal/common/config"
)

type Config struct {
	URL                  string
	BaseDelay            time.Duration
	MaxReconnectAttempts int
	IdentityPollInterval time.Duration
	WriteTimeout         time.Duration
	HandshakeTimeout     time.Duration
	NotificationCapacity int
	ActivityCapacity     int
	// AlertTimeout bounds one permission check plus alert delivery.
	AlertTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:            time.Second,
		MaxReconnectAttempts: 5,
		IdentityPollInterval: time.Second,
		WriteTimeout:         10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		NotificationCapacity: 100,
		ActivityCapacity:     50,
		AlertTimeout:         15 * time.Second,
	}
}

func FromAppConfig(cfg config.RealtimeConfig) Config {
	c := DefaultConfig()
	c.URL = cfg.URL
	if cfg.BaseDelay > 0 {
		c.BaseDelay = config.GetDuration(cfg.BaseDelay)
	}
	if cfg.MaxReconnectAttempts > 0 {
		c.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	}
	if cfg.IdentityPollInterval > 0 {
		c.IdentityPollInterval = config.GetDuration(cfg.IdentityPollInterval)
	}
	if cfg.WriteTimeout > 0 {
		c.WriteTimeout = config.GetDuration(cfg.WriteTimeout)
	}
	if cfg.HandshakeTimeout > 0 {
		c.HandshakeTimeout = config.GetDuration(cfg.HandshakeTimeout)
	}
	if cfg.NotificationCapacity > 0 {
		c.NotificationCapacity = cfg.NotificationCapacity
	}
	if cfg.ActivityCapacity > 0 {
		c.ActivityCapacity = cfg.ActivityCapacity
	}
	return c
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must not be negative")
	}
	if c.IdentityPollInterval <= 0 {
		return fmt.Errorf("identity poll interval must be positive")
	}
	if c.NotificationCapacity <= 0 || c.ActivityCapacity <= 0 {
		return fmt.Errorf("buffer capacities must be positive")
	}
	return nil
}
