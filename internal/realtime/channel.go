// Package realtime keeps one authenticated duplex connection to the event
// server and turns its pushes into bounded notification and activity buffers.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"transcript-core/internal/common/errors"
	"transcript-core/internal/common/logger"
	"transcript-core/internal/common/metrics"
	"transcript-core/internal/common/observability"
	"transcript-core/internal/common/validation"
	"transcript-core/internal/models"
	"transcript-core/internal/observer"
	"transcript-core/pkg/registry"

	"github.com/google/uuid"
)

// SessionSource is the view of the session manager the channel needs.
type SessionSource interface {
	CurrentSession() *models.Session
	OnSessionChange(fn func(*models.Session)) func()
}

type Options struct {
	Config        Config
	Sessions      SessionSource
	Dialer        Dialer
	Alerter       Alerter
	Schemas       *registry.Compiled
	Validator     *validation.Validator
	Logger        logger.Logger
	Clock         Clock
	Observability *observability.Observability
	NewID         func() string
}

type Channel struct {
	cfg       Config
	sessions  SessionSource
	dialer    Dialer
	alerter   Alerter
	schemas   *registry.Compiled
	validator *validation.Validator
	logger    logger.Logger
	clock     Clock
	obs       *observability.Observability
	newID     func() string

	notificationListeners *observer.Registry[[]models.Notification]
	activityListeners     *observer.Registry[[]models.ActivityEvent]
	connectionListeners   *observer.Registry[bool]

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	started       bool
	stopped       bool
	dialing       bool
	generation    uint64
	conn          Conn
	connected     bool
	attempts      int
	token         string
	timer         Timer
	unsubscribe   func()
	notifications *bounded[models.Notification]
	activities    *bounded[models.ActivityEvent]

	alerts sync.WaitGroup
}

func NewChannel(opts Options) (*Channel, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("realtime: session source is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWebsocketDialer(opts.Config)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Validator == nil {
		v, err := validation.NewValidator(0)
		if err != nil {
			return nil, fmt.Errorf("realtime: %w", err)
		}
		opts.Validator = v
	}
	if opts.Schemas == nil {
		compiled, err := registry.Compile(registry.Default())
		if err != nil {
			return nil, fmt.Errorf("realtime: %w", err)
		}
		opts.Schemas = compiled
	}

	return &Channel{
		cfg:                   opts.Config,
		sessions:              opts.Sessions,
		dialer:                opts.Dialer,
		alerter:               opts.Alerter,
		schemas:               opts.Schemas,
		validator:             opts.Validator,
		logger:                opts.Logger.WithFields(map[string]interface{}{"component": "realtime"}),
		clock:                 opts.Clock,
		obs:                   opts.Observability,
		newID:                 opts.NewID,
		notificationListeners: observer.New[[]models.Notification](),
		activityListeners:     observer.New[[]models.ActivityEvent](),
		connectionListeners:   observer.New[bool](),
		ctx:                   context.Background(),
		notifications:         newBounded[models.Notification](opts.Config.NotificationCapacity),
		activities:            newBounded[models.ActivityEvent](opts.Config.ActivityCapacity),
	}, nil
}

// Start subscribes to session changes and makes the first connection attempt
// (or schedules the identity poll) before returning.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	unsubscribe := c.sessions.OnSessionChange(c.handleSessionChange)
	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.connect()
}

// Disconnect closes the socket and cancels pending timers. The channel never
// reconnects afterwards.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	conn := c.conn
	wasConnected := c.connected
	c.conn = nil
	c.connected = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	cancel := c.cancel
	if wasConnected {
		c.connectionListeners.Enqueue(false)
	}
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.alerts.Wait()

	c.logger.Info("Real-time channel disconnected", nil)
	if wasConnected {
		metrics.ChannelConnected.Set(0)
	}
	c.connectionListeners.Flush()
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Channel) connect() {
	session := c.sessions.CurrentSession()

	c.mu.Lock()
	if c.stopped || c.dialing || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if session == nil || session.AccessToken == "" {
		c.schedulePollLocked()
		c.mu.Unlock()
		return
	}
	c.dialing = true
	gen := c.generation
	attempt := c.attempts
	ctx := c.ctx
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, c.cfg.URL)
	if err == nil {
		// The socket is not shared yet, so the auth frame is the first thing
		// written to it.
		if authErr := c.authenticate(conn, session); authErr != nil {
			_ = conn.Close()
			err = fmt.Errorf("authenticate: %w", authErr)
		}
	}

	c.mu.Lock()
	c.dialing = false
	if c.stopped || c.generation != gen {
		// The identity poll that fired during the dial returned early; this
		// attempt owns the poll now.
		if !c.stopped {
			c.schedulePollLocked()
		}
		c.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("Real-time connection failed", map[string]interface{}{
			"url":     c.cfg.URL,
			"attempt": attempt,
			"error":   err.Error(),
		})
		c.onDisconnected(nil)
		return
	}
	c.conn = conn
	c.connected = true
	c.attempts = 0
	c.token = session.AccessToken
	c.connectionListeners.Enqueue(true)
	c.mu.Unlock()

	metrics.ChannelConnected.Set(1)
	c.logger.Info("Real-time channel connected", map[string]interface{}{
		"url":     c.cfg.URL,
		"user_id": session.User.ID,
	})
	c.connectionListeners.Flush()

	// A token rotated during the dial was not seen by handleSessionChange.
	if latest := c.sessions.CurrentSession(); latest != nil {
		c.handleSessionChange(latest)
	}
	go c.readLoop(conn)
}

// schedulePollLocked replaces any pending timer with the identity poll.
func (c *Channel) schedulePollLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clock.AfterFunc(c.cfg.IdentityPollInterval, c.connect)
}

func (c *Channel) authenticate(conn Conn, session *models.Session) error {
	return conn.WriteJSON(authFrame{
		Type:   registry.FrameAuth,
		Token:  session.AccessToken,
		UserID: session.User.ID,
	})
}

func (c *Channel) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("Socket read ended", map[string]interface{}{"error": err.Error()})
			c.onDisconnected(conn)
			return
		}
		c.handleMessage(data)
	}
}

// onDisconnected handles a failed dial (conn nil) or the close of conn, and
// schedules the next attempt while the attempt budget lasts.
func (c *Channel) onDisconnected(conn Conn) {
	c.mu.Lock()
	if conn != nil && c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	if c.stopped {
		c.mu.Unlock()
		return
	}

	scheduled := false
	attempt := c.attempts
	var delay time.Duration
	if c.attempts < c.cfg.MaxReconnectAttempts {
		c.attempts++
		attempt = c.attempts
		delay = ReconnectDelay(c.cfg.BaseDelay, attempt)
		c.timer = c.clock.AfterFunc(delay, c.connect)
		scheduled = true
	}
	c.connectionListeners.Enqueue(false)
	c.mu.Unlock()

	metrics.ChannelConnected.Set(0)
	if scheduled {
		metrics.ChannelReconnects.WithLabelValues(strconv.Itoa(attempt)).Inc()
		c.logger.Info("Scheduling reconnect", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
		})
	} else {
		c.logger.Error("Giving up on real-time connection", map[string]interface{}{
			"attempts": attempt,
		})
	}
	c.connectionListeners.Flush()
}

// handleSessionChange closes the socket on sign-out and goes back to polling
// for an identity. A new access token is re-sent on the open socket.
func (c *Channel) handleSessionChange(session *models.Session) {
	if session == nil {
		c.mu.Lock()
		if !c.started || c.stopped {
			c.mu.Unlock()
			return
		}
		conn := c.conn
		wasConnected := c.connected
		c.conn = nil
		c.connected = false
		c.token = ""
		c.attempts = 0
		c.generation++
		c.schedulePollLocked()
		if wasConnected {
			c.connectionListeners.Enqueue(false)
		}
		c.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
		c.logger.Info("Session ended, closing real-time channel", nil)
		if wasConnected {
			metrics.ChannelConnected.Set(0)
		}
		c.connectionListeners.Flush()
		return
	}

	c.mu.Lock()
	conn := c.conn
	resend := conn != nil && session.AccessToken != "" && session.AccessToken != c.token
	if resend {
		c.token = session.AccessToken
	}
	c.mu.Unlock()

	if resend {
		if err := c.authenticate(conn, session); err != nil {
			c.logger.Warn("Failed to re-authenticate socket", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (c *Channel) handleMessage(data []byte) {
	frame, err := DecodeFrame(data, c.schemas, c.newID(), c.clock.Now())
	if err != nil {
		metrics.ChannelFrames.WithLabelValues("unknown", "malformed").Inc()
		c.logger.Warn("Dropping malformed frame", map[string]interface{}{"error": errors.Normalize(err, errors.ErrCodeFrameMalformed).Details})
		return
	}

	derived := Classify(frame)
	if derived.Empty() {
		metrics.ChannelFrames.WithLabelValues("other", "ignored").Inc()
		c.logger.Debug("Ignoring frame", map[string]interface{}{"type": frame.Type})
		return
	}
	metrics.ChannelFrames.WithLabelValues(frame.Type, "handled").Inc()

	if derived.Notification != nil {
		c.addNotification(*derived.Notification)
	}
	if derived.Activity != nil {
		c.addActivity(*derived.Activity)
	}
}

func (c *Channel) addNotification(n models.Notification) {
	c.mutateNotifications(func(b *bounded[models.Notification]) {
		b.prepend(n)
	})
	if n.Priority.Alertable() {
		c.dispatchAlert(n)
	}
}

func (c *Channel) addActivity(a models.ActivityEvent) {
	c.mu.Lock()
	c.activities.prepend(a)
	snapshot := c.activities.snapshot()
	c.activityListeners.Enqueue(snapshot)
	ctx := c.ctx
	c.mu.Unlock()

	metrics.ChannelBufferSize.WithLabelValues("activity").Set(float64(len(snapshot)))
	c.obs.RecordFanOut(ctx, "activity", c.activityListeners.Len())
	c.activityListeners.Flush()
}

// mutateNotifications applies fn under the lock and hands listeners the
// resulting buffer. Snapshots are queued under the lock so listeners see them
// in mutation order.
func (c *Channel) mutateNotifications(fn func(b *bounded[models.Notification])) {
	c.mu.Lock()
	fn(c.notifications)
	snapshot := c.notifications.snapshot()
	c.notificationListeners.Enqueue(snapshot)
	ctx := c.ctx
	c.mu.Unlock()

	metrics.ChannelBufferSize.WithLabelValues("notifications").Set(float64(len(snapshot)))
	c.obs.RecordFanOut(ctx, "notifications", c.notificationListeners.Len())
	c.notificationListeners.Flush()
}

func (c *Channel) Notifications() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifications.snapshot()
}

func (c *Channel) ActivityFeed() []models.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activities.snapshot()
}

func (c *Channel) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, n := range c.notifications.items {
		if !n.Read {
			count++
		}
	}
	return count
}

func (c *Channel) MarkAsRead(id string) {
	c.mutateNotifications(func(b *bounded[models.Notification]) {
		for i := range b.items {
			if b.items[i].ID == id {
				b.items[i].Read = true
			}
		}
	})
}

func (c *Channel) MarkAllAsRead() {
	c.mutateNotifications(func(b *bounded[models.Notification]) {
		for i := range b.items {
			b.items[i].Read = true
		}
	})
}

func (c *Channel) DeleteNotification(id string) {
	c.mutateNotifications(func(b *bounded[models.Notification]) {
		b.removeWhere(func(n models.Notification) bool { return n.ID == id })
	})
}

func (c *Channel) ClearAll() {
	c.mutateNotifications(func(b *bounded[models.Notification]) {
		b.clear()
	})
}

func (c *Channel) OnNotificationsChange(fn func([]models.Notification)) func() {
	return c.notificationListeners.Add(fn)
}

func (c *Channel) OnActivityChange(fn func([]models.ActivityEvent)) func() {
	return c.activityListeners.Add(fn)
}

func (c *Channel) OnConnectionChange(fn func(bool)) func() {
	return c.connectionListeners.Add(fn)
}

// SendUserActivity stamps the activity with the signed-in user and the
// current time and sends it. Nothing is added locally; the feed entry arrives
// with the server's broadcast.
func (c *Channel) SendUserActivity(ctx context.Context, activity UserActivity) (err error) {
	start := time.Now()
	defer func() {
		c.obs.RecordOperation(ctx, "send_user_activity", metrics.Result(err), time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		return errors.NewNetworkError("send_user_activity", err)
	}

	input, err := toMap(activity)
	if err != nil {
		return errors.NewValidationError(err.Error())
	}
	if result := c.validator.Validate(validation.SchemaUserActivity, input); !result.Valid {
		return errors.NewValidationError(result.Summary())
	}

	session := c.sessions.CurrentSession()
	if session == nil {
		return errors.NewAuthError("You must be signed in to share activity", nil)
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if conn == nil || !connected {
		return errors.NewNotConnectedError("send_user_activity")
	}

	frame := outboundFrame{
		Type: registry.FrameUserActivity,
		Data: outboundActivity{
			UserActivity: activity,
			UserID:       session.User.ID,
			UserName:     displayName(session.User),
			UserAvatar:   session.User.AvatarURL,
			Timestamp:    c.clock.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := conn.WriteJSON(frame); err != nil {
		return errors.Normalize(err, errors.ErrCodeNetwork)
	}
	return nil
}

func (c *Channel) dispatchAlert(n models.Notification) {
	if c.alerter == nil {
		return
	}
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.alerts.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.alerts.Done()
		ctx, cancel := context.WithTimeout(ctx, c.cfg.AlertTimeout)
		defer cancel()
		metrics.AlertsDispatched.WithLabelValues(c.deliverAlert(ctx, n)).Inc()
	}()
}

// deliverAlert asks for permission while it is undetermined and never once it
// has been denied.
func (c *Channel) deliverAlert(ctx context.Context, n models.Notification) string {
	status, err := c.alerter.PermissionStatus(ctx)
	if err != nil {
		c.logger.Warn("Alert permission lookup failed", map[string]interface{}{"error": err.Error()})
		return "failure"
	}

	switch status {
	case PermissionDenied:
		return "suppressed"
	case PermissionUndetermined:
		status, err = c.alerter.RequestPermission(ctx)
		if err != nil {
			c.logger.Warn("Alert permission request failed", map[string]interface{}{"error": err.Error()})
			return "failure"
		}
		if status != PermissionGranted {
			return "suppressed"
		}
	}

	if err := c.alerter.Show(ctx, alertFor(n)); err != nil {
		c.logger.Warn("Alert delivery failed", map[string]interface{}{
			"notification_id": n.ID,
			"error":           err.Error(),
		})
		return "failure"
	}
	return "success"
}

func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	err = json.Unmarshal(raw, &out)
	return out, err
}

func displayName(u models.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
