package config

import "fmt"

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Session  SessionConfig  `mapstructure:"session"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// StoreConfig selects the persistent key-value backend: redis, postgres or memory.
type StoreConfig struct {
	Backend   string         `mapstructure:"backend"`
	KeyPrefix string         `mapstructure:"key_prefix"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Postgres  PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	Table          string `mapstructure:"table"`
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type AuthConfig struct {
	Keycloak KeycloakConfig `mapstructure:"keycloak"`
}

type KeycloakConfig struct {
	URL                      string   `mapstructure:"url"`
	Realm                    string   `mapstructure:"realm"`
	ClientID                 string   `mapstructure:"client_id"`
	ClientSecret             string   `mapstructure:"client_secret"`
	RedirectURL              string   `mapstructure:"redirect_url"`
	Scopes                   []string `mapstructure:"scopes"`
	RequireEmailVerification bool     `mapstructure:"require_email_verification"`
	Timeout                  int      `mapstructure:"timeout"` // milliseconds
}

type SessionConfig struct {
	RefreshSkew         int  `mapstructure:"refresh_skew"` // milliseconds
	AutoRefresh         bool `mapstructure:"auto_refresh"`
	AutoRefreshInterval int  `mapstructure:"auto_refresh_interval"` // milliseconds
	MinPasswordLength   int  `mapstructure:"min_password_length"`
}

type RealtimeConfig struct {
	URL                  string `mapstructure:"url"`
	BaseDelay            int    `mapstructure:"base_delay"` // milliseconds
	MaxReconnectAttempts int    `mapstructure:"max_reconnect_attempts"`
	IdentityPollInterval int    `mapstructure:"identity_poll_interval"` // milliseconds
	WriteTimeout         int    `mapstructure:"write_timeout"`          // milliseconds
	HandshakeTimeout     int    `mapstructure:"handshake_timeout"`      // milliseconds
	NotificationCapacity int    `mapstructure:"notification_capacity"`
	ActivityCapacity     int    `mapstructure:"activity_capacity"`
	SchemaRegistryPath   string `mapstructure:"schema_registry_path"`
}

type AlertsConfig struct {
	SNS struct {
		Enabled             bool   `mapstructure:"enabled"`
		Region              string `mapstructure:"region"`
		PlatformEndpointARN string `mapstructure:"platform_endpoint_arn"`
	} `mapstructure:"sns"`
	PermissionKey string `mapstructure:"permission_key"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}
