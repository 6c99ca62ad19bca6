package session

import (
	"fmt"
	"time"

	"transcript-core/internal/common/config"
)

type Config struct {
	// RefreshSkew treats a session as expired this long before expiresAt.
	RefreshSkew       time.Duration
	MinPasswordLength int
	// StoreTimeout bounds persistence calls made from provider pushes, which
	// carry no caller context.
	StoreTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RefreshSkew:       0,
		MinPasswordLength: 8,
		StoreTimeout:      5 * time.Second,
	}
}

func FromAppConfig(cfg config.SessionConfig) Config {
	c := DefaultConfig()
	c.RefreshSkew = config.GetDuration(cfg.RefreshSkew)
	if cfg.MinPasswordLength > 0 {
		c.MinPasswordLength = cfg.MinPasswordLength
	}
	return c
}

func (c Config) Validate() error {
	if c.RefreshSkew < 0 {
		return fmt.Errorf("refresh skew must not be negative")
	}
	if c.MinPasswordLength < 6 {
		return fmt.Errorf("min password length must be at least 6")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	return nil
}
