// cmd/session-agent/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"transcript-core/internal/common/aws"
	"transcript-core/internal/common/config"
	"transcript-core/internal/common/database"
	"transcript-core/internal/common/logger"
	"transcript-core/internal/common/observability"
	"transcript-core/internal/common/validation"
	"transcript-core/internal/identity"
	"transcript-core/internal/models"
	"transcript-core/internal/realtime"
	"transcript-core/internal/session"
	"transcript-core/internal/store"
	"transcript-core/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog, err := logger.Build(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting session agent...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name, cfg.App.Version, log)
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Persistent store ---
	kv, closeStore := openStore(ctx, cfg, zapLog)
	defer closeStore()

	// --- Identity provider ---
	provider := identity.NewKeycloakProvider(cfg.Auth.Keycloak, log, nil)
	if cfg.Session.AutoRefresh {
		interval := config.GetDuration(cfg.Session.AutoRefreshInterval)
		provider.StartAutoRefresh(ctx, interval, 2*interval)
		zapLog.Info("Background token rotation enabled", zap.Duration("interval", interval))
	}

	validator, err := validation.NewValidator(cfg.Session.MinPasswordLength)
	if err != nil {
		zapLog.Fatal("validator init failed", zap.Error(err))
	}

	// --- Session manager ---
	sessions, err := session.NewManager(session.Options{
		Provider:      provider,
		Store:         kv,
		Logger:        log,
		Config:        session.FromAppConfig(cfg.Session),
		Validator:     validator,
		Observability: obs,
	})
	if err != nil {
		zapLog.Fatal("session manager init failed", zap.Error(err))
	}
	defer sessions.Close()

	sessions.OnSessionChange(func(s *models.Session) {
		if s == nil {
			zapLog.Info("Session cleared")
			return
		}
		zapLog.Info("Session updated",
			zap.String("user_id", s.User.ID),
			zap.Int64("expires_at", s.ExpiresAt),
			zap.String("token", logger.Redact(s.AccessToken)),
		)
	})

	state := sessions.Initialize(ctx)
	zapLog.Info("Session restored", zap.String("state", string(state)))

	// --- Event channel ---
	frames, err := registry.LoadOrDefault(cfg.Realtime.SchemaRegistryPath)
	if err != nil {
		zapLog.Fatal("frame registry load failed", zap.Error(err))
	}
	if problems := registry.Check(frames); len(problems) > 0 {
		zapLog.Fatal("frame registry invalid", zap.Strings("problems", problems))
	}
	schemas, err := registry.Compile(frames)
	if err != nil {
		zapLog.Fatal("frame registry compile failed", zap.Error(err))
	}

	channel, err := realtime.NewChannel(realtime.Options{
		Config:        realtime.FromAppConfig(cfg.Realtime),
		Sessions:      sessions,
		Alerter:       newAlerter(ctx, cfg, kv, log, zapLog),
		Schemas:       schemas,
		Validator:     validator,
		Logger:        log,
		Observability: obs,
	})
	if err != nil {
		zapLog.Fatal("event channel init failed", zap.Error(err))
	}

	channel.OnConnectionChange(func(connected bool) {
		zapLog.Info("Event channel connection changed", zap.Bool("connected", connected))
	})
	channel.OnNotificationsChange(func(ns []models.Notification) {
		zapLog.Debug("Notifications updated", zap.Int("count", len(ns)), zap.Int("unread", channel.UnreadCount()))
	})
	channel.OnActivityChange(func(events []models.ActivityEvent) {
		zapLog.Debug("Activity feed updated", zap.Int("count", len(events)))
	})

	go channel.Start(ctx)

	// --- Health & Metrics Server ---
	var srv *http.Server
	if cfg.Metrics.Enabled {
		srv = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           opsHandler(sessions, channel),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.Address))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zapLog.Error("Health/Metrics server failed", zap.Error(err))
			}
		}()
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping session agent...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	channel.Disconnect()
	cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zapLog.Error("Error stopping health server", zap.Error(err))
		}
	}

	zapLog.Info("Session agent stopped gracefully")
}

func openStore(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) (store.Store, func()) {
	switch cfg.Store.Backend {
	case "redis":
		var rdb *database.RedisClient
		err := retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(cfg.Store.Redis)
			if err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		zapLog.Info("Redis connected successfully")
		return store.NewRedisStore(rdb.Client, cfg.Store.KeyPrefix), func() { _ = rdb.Close() }

	case "postgres":
		var pg *database.PostgresClient
		err := retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Store.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		zapLog.Info("PostgreSQL connected successfully")
		return store.NewPostgresStore(pg.DB, cfg.Store.Postgres.Table), func() { _ = pg.Close() }

	default:
		zapLog.Warn("Using in-memory store; sessions will not survive restarts")
		return store.NewMemoryStore(), func() {}
	}
}

func newAlerter(ctx context.Context, cfg *config.Config, kv store.Store, log logger.Logger, zapLog *zap.Logger) realtime.Alerter {
	if !cfg.Alerts.SNS.Enabled {
		return nil
	}
	client, err := aws.NewSNSClient(ctx, cfg.Alerts.SNS.Region)
	if err != nil {
		zapLog.Error("SNS client init failed, alerts disabled", zap.Error(err))
		return nil
	}
	alerter, err := realtime.NewSNSAlerter(client, cfg.Alerts.SNS.PlatformEndpointARN, kv, cfg.Alerts.PermissionKey, log)
	if err != nil {
		zapLog.Error("SNS alerter init failed, alerts disabled", zap.Error(err))
		return nil
	}
	return alerter
}

type statusSource interface {
	State() session.State
}

type connectionSource interface {
	IsConnected() bool
	ReconnectAttempts() int
}

func opsHandler(sessions statusSource, channel connectionSource) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		state := sessions.State()
		status, code := "ready", http.StatusOK
		if state == session.StateUninitialized || state == session.StateRestoring {
			status, code = "starting", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]interface{}{
			"status":             status,
			"session":            string(state),
			"connected":          channel.IsConnected(),
			"reconnect_attempts": channel.ReconnectAttempts(),
			"time":               time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
