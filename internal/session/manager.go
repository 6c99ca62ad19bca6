// Package session owns the signed-in user's credential state: it persists and
// restores the session, refreshes expired tokens and fans changes out to
// subscribers.
package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"transcript-core/internal/common/errors"
	"transcript-core/internal/common/logger"
	"transcript-core/internal/common/metrics"
	"transcript-core/internal/common/observability"
	"transcript-core/internal/common/validation"
	"transcript-core/internal/identity"
	"transcript-core/internal/models"
	"transcript-core/internal/observer"
	"transcript-core/internal/store"

	"github.com/google/uuid"
)

type State string

const (
	StateUninitialized   State = "uninitialized"
	StateRestoring       State = "restoring"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"
	StateUnauthenticated State = "unauthenticated"
)

type Options struct {
	Provider      identity.Provider
	Store         store.Store
	Logger        logger.Logger
	Config        Config
	Validator     *validation.Validator
	Observability *observability.Observability
	Clock         func() time.Time
}

type Manager struct {
	provider  identity.Provider
	store     store.Store
	logger    logger.Logger
	errors    *errors.ErrorHandler
	cfg       Config
	validator *validation.Validator
	obs       *observability.Observability
	now       func() time.Time
	listeners *observer.Registry[*models.Session]

	// refreshMu serializes expiry checks so concurrent callers do not spend
	// the same rotating refresh token twice.
	refreshMu sync.Mutex

	// writeMu orders session installs together with their persistence, so a
	// store write can never land after a later install's write.
	writeMu sync.Mutex

	mu           sync.Mutex
	state        State
	session      *models.Session
	remember     bool
	unsubscribeP func()
	// epoch advances on every sign-out. Results of provider calls that started
	// in an earlier epoch are discarded.
	epoch uint64
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("session: provider is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Validator == nil {
		v, err := validation.NewValidator(opts.Config.MinPasswordLength)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		opts.Validator = v
	}

	log := opts.Logger.WithFields(map[string]interface{}{"component": "session"})
	return &Manager{
		provider:  opts.Provider,
		store:     opts.Store,
		logger:    log,
		errors:    errors.NewErrorHandler(log),
		cfg:       opts.Config,
		validator: opts.Validator,
		obs:       opts.Observability,
		now:       opts.Clock,
		listeners: observer.New[*models.Session](),
		state:     StateUninitialized,
	}, nil
}

func (m *Manager) CurrentSession() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

func (m *Manager) CurrentUser() *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.session.User.Clone()
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) RememberMe() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remember
}

// OnSessionChange registers fn for every session change. fn receives nil
// after sign-out.
func (m *Manager) OnSessionChange(fn func(*models.Session)) func() {
	return m.listeners.Add(fn)
}

// Initialize restores a persisted session and subscribes to provider pushes.
// Calling it again is a no-op.
func (m *Manager) Initialize(ctx context.Context) State {
	m.mu.Lock()
	if m.state != StateUninitialized {
		state := m.state
		m.mu.Unlock()
		return state
	}
	m.state = StateRestoring
	m.mu.Unlock()

	unsubscribe := m.provider.OnAuthStateChange(m.handleProviderEvent)
	remember := m.loadRemember(ctx)

	m.mu.Lock()
	m.unsubscribeP = unsubscribe
	m.remember = remember
	m.mu.Unlock()

	restored := m.loadPersisted(ctx)
	if restored != nil {
		m.provider.Adopt(restored)
	}

	// The provider has the final word when it can be reached: a persisted
	// session it no longer knows was revoked while we were away.
	remote, err := m.provider.GetSession(ctx)
	switch {
	case err != nil:
		m.logger.Warn("Could not query provider session", map[string]interface{}{"error": err.Error()})
	case remote.IsComplete():
		restored = remote
	case restored != nil:
		m.logger.Info("Persisted session was revoked by the provider", map[string]interface{}{"user_id": restored.User.ID})
		m.removeKey(ctx, store.KeySession)
		m.provider.Adopt(nil)
		restored = nil
	}

	if restored == nil {
		m.mu.Lock()
		if m.state == StateRestoring {
			m.state = StateUnauthenticated
		}
		m.mu.Unlock()
		metrics.SessionOperations.WithLabelValues("restore", "empty").Inc()
		return m.State()
	}

	m.logger.Info("Session restored", map[string]interface{}{
		"user_id":    restored.User.ID,
		"expires_at": restored.ExpiresAt,
		"remember":   remember,
	})
	m.setSession(ctx, restored, false)
	metrics.SessionOperations.WithLabelValues("restore", "success").Inc()

	m.ValidateSession(ctx)
	return m.State()
}

// Close stops listening to provider pushes.
func (m *Manager) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribeP
	m.unsubscribeP = nil
	m.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (m *Manager) SignUp(ctx context.Context, email, password, name string) (result *models.SignUpResult, err error) {
	defer m.track(ctx, "sign_up", time.Now(), &err)

	input := map[string]interface{}{"email": email, "password": password}
	if name != "" {
		input["name"] = name
	}
	if err := m.validate(validation.SchemaSignUp, input); err != nil {
		return nil, err
	}

	result, err = m.provider.SignUp(ctx, email, password, name)
	if err != nil {
		return nil, toAuthError(err)
	}

	if !result.NeedsVerification && result.Session.IsComplete() {
		m.setSession(ctx, result.Session, true)
		m.rememberCredentials(ctx, email)
	}
	return result, nil
}

func (m *Manager) SignIn(ctx context.Context, email, password string) (session *models.Session, err error) {
	defer m.track(ctx, "sign_in", time.Now(), &err)

	if err := m.validate(validation.SchemaSignIn, map[string]interface{}{"email": email, "password": password}); err != nil {
		return nil, err
	}

	session, err = m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, toAuthError(err)
	}
	if !session.IsComplete() {
		return nil, errors.NewAuthError("Sign-in returned an incomplete session", nil)
	}

	// The provider's push normally installs the session first; this call is
	// then a no-op that notifies nobody.
	m.setSession(ctx, session, true)
	m.rememberCredentials(ctx, email)

	m.logger.Info("User signed in", map[string]interface{}{"user_id": session.User.ID})
	return session.Clone(), nil
}

// OAuthURL returns the authorization redirect and the state value the
// callback must echo. A state is generated when none is given.
func (m *Manager) OAuthURL(providerHint, redirectURL, state string) (string, string) {
	if state == "" {
		state = uuid.NewString()
	}
	return m.provider.AuthCodeURL(providerHint, redirectURL, state), state
}

func (m *Manager) SignInWithCode(ctx context.Context, code, redirectURL string) (session *models.Session, err error) {
	defer m.track(ctx, "sign_in_code", time.Now(), &err)

	if code == "" {
		return nil, errors.NewValidationError("authorization code is required")
	}

	session, err = m.provider.ExchangeCode(ctx, code, redirectURL)
	if err != nil {
		return nil, toAuthError(err)
	}
	if !session.IsComplete() {
		return nil, errors.NewAuthError("Sign-in returned an incomplete session", nil)
	}

	m.setSession(ctx, session, true)
	return session.Clone(), nil
}

// SignOut always clears local state. Failures to clear persisted keys are
// logged only. A transport failure while revoking is returned after the local
// clear so callers may retry the revoke.
func (m *Manager) SignOut(ctx context.Context) (err error) {
	defer m.track(ctx, "sign_out", time.Now(), &err)

	m.mu.Lock()
	current := m.session.Clone()
	m.epoch++
	m.mu.Unlock()

	remoteErr := m.provider.SignOut(ctx, current)
	if remoteErr != nil {
		m.logger.Warn("Remote sign-out failed, clearing local state anyway", map[string]interface{}{
			"error": remoteErr.Error(),
		})
	}

	m.mu.Lock()
	m.remember = false
	m.mu.Unlock()

	m.setSession(ctx, nil, false)
	for _, key := range []string{store.KeySession, store.KeyRememberMe, store.KeySavedCredentials} {
		m.removeKey(ctx, key)
	}

	if current != nil {
		m.logger.Info("User signed out", map[string]interface{}{"user_id": current.User.ID})
	}

	if errors.HasCode(remoteErr, errors.ErrCodeNetwork) {
		return remoteErr
	}
	return nil
}

func (m *Manager) ResetPassword(ctx context.Context, email string) (err error) {
	defer m.track(ctx, "reset_password", time.Now(), &err)

	if err := m.validate(validation.SchemaEmail, map[string]interface{}{"email": email}); err != nil {
		return err
	}
	if err := m.provider.ResetPasswordForEmail(ctx, email); err != nil {
		return toAuthError(err)
	}
	return nil
}

func (m *Manager) UpdatePassword(ctx context.Context, newPassword string) (err error) {
	defer m.track(ctx, "update_password", time.Now(), &err)

	if err := m.validate(validation.SchemaPassword, map[string]interface{}{"password": newPassword}); err != nil {
		return err
	}
	current := m.CurrentSession()
	if current == nil {
		return errors.NewAuthError("You must be signed in to change your password", nil)
	}
	if err := m.provider.UpdatePassword(ctx, current, newPassword); err != nil {
		return toAuthError(err)
	}
	return nil
}

func (m *Manager) ResendVerification(ctx context.Context, email string) (err error) {
	defer m.track(ctx, "resend_verification", time.Now(), &err)

	if err := m.validate(validation.SchemaEmail, map[string]interface{}{"email": email}); err != nil {
		return err
	}
	if err := m.provider.ResendVerification(ctx, email); err != nil {
		return toAuthError(err)
	}
	return nil
}

// UpdateProfile forwards the change and shallow-merges the set fields into the
// in-memory user.
func (m *Manager) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (user *models.User, err error) {
	defer m.track(ctx, "update_profile", time.Now(), &err)

	if err := m.validate(validation.SchemaProfileUpdate, profileInput(update)); err != nil {
		return nil, err
	}
	current := m.CurrentSession()
	if current == nil {
		return nil, errors.NewAuthError("You must be signed in to update your profile", nil)
	}

	if _, err := m.provider.UpdateUser(ctx, current, update); err != nil {
		return nil, toAuthError(err)
	}

	// Merge into whatever session is installed now; retry if a refresh swaps
	// the tokens between the read and the install.
	for {
		m.mu.Lock()
		if m.session == nil || m.session.User.ID != current.User.ID {
			m.mu.Unlock()
			merged := current.User.Clone()
			update.ApplyTo(merged)
			return merged, nil
		}
		next := m.session.Clone()
		epoch := m.epoch
		m.mu.Unlock()

		update.ApplyTo(&next.User)
		if m.installSession(ctx, next, true, sameTokens(epoch, next.AccessToken)) {
			return next.User.Clone(), nil
		}
	}
}

// RefreshSession makes a single provider refresh call. Deciding what to do on
// failure is left to the caller.
func (m *Manager) RefreshSession(ctx context.Context) (session *models.Session, err error) {
	defer m.track(ctx, "refresh", time.Now(), &err)

	m.mu.Lock()
	current := m.session.Clone()
	if current == nil {
		m.mu.Unlock()
		return nil, errors.NewSessionExpiredError(0)
	}
	epoch := m.epoch
	m.state = StateRefreshing
	m.mu.Unlock()

	start := time.Now()
	next, err := m.provider.RefreshSession(ctx, current.RefreshToken)
	metrics.SessionRefreshDuration.WithLabelValues(metrics.Result(err)).Observe(time.Since(start).Seconds())

	if err == nil && !next.IsComplete() {
		err = errors.NewAuthError("Refresh returned an incomplete session", nil)
	}
	if err != nil {
		m.mu.Lock()
		if m.state == StateRefreshing {
			m.state = StateAuthenticated
		}
		m.mu.Unlock()
		return nil, errors.Normalize(err, errors.ErrCodeSessionExpired)
	}

	if !m.installSession(ctx, next, true, sameEpoch(epoch)) {
		m.logger.Info("Discarding refresh that finished after sign-out", map[string]interface{}{"user_id": current.User.ID})
		return nil, errors.NewSessionExpiredError(current.ExpiresAt)
	}
	return next.Clone(), nil
}

// ValidateSession refreshes an expired session exactly once. On failure the
// session is dropped unless remember-me is on, in which case the stale session
// is kept and the next call tries again. It reports whether a session remains.
func (m *Manager) ValidateSession(ctx context.Context) bool {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	current := m.session.Clone()
	remember := m.remember
	epoch := m.epoch
	m.mu.Unlock()

	if current == nil {
		return false
	}
	if !current.IsExpired(m.now(), m.cfg.RefreshSkew) {
		return true
	}

	if _, err := m.RefreshSession(ctx); err != nil {
		m.logger.Warn("Session refresh failed", map[string]interface{}{
			"user_id":  current.User.ID,
			"remember": remember,
			"error":    err.Error(),
		})
		if !remember {
			if m.installSession(ctx, nil, true, sameEpoch(epoch)) {
				m.provider.Adopt(nil)
			}
			return false
		}
		return m.IsAuthenticated()
	}
	return m.IsAuthenticated()
}

// AccessToken returns a token that is not known to be expired.
func (m *Manager) AccessToken(ctx context.Context) (string, bool) {
	if !m.ValidateSession(ctx) {
		return "", false
	}
	current := m.CurrentSession()
	if current == nil || current.IsExpired(m.now(), m.cfg.RefreshSkew) {
		return "", false
	}
	return current.AccessToken, true
}

func (m *Manager) AuthHeaders(ctx context.Context) map[string]string {
	token, ok := m.AccessToken(ctx)
	if !ok {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// SetRememberMe persists the preference. Turning it off also forgets the
// saved email.
func (m *Manager) SetRememberMe(ctx context.Context, remember bool) {
	m.mu.Lock()
	m.remember = remember
	m.mu.Unlock()

	value := "false"
	if remember {
		value = "true"
	}
	if err := m.store.Set(ctx, store.KeyRememberMe, value); err != nil {
		m.storageFailure("set", store.KeyRememberMe, err)
	}
	if !remember {
		m.removeKey(ctx, store.KeySavedCredentials)
	}
}

// SavedEmail returns the email remembered from the last sign-in, if any.
func (m *Manager) SavedEmail(ctx context.Context) string {
	raw, found, err := m.store.Get(ctx, store.KeySavedCredentials)
	if err != nil {
		m.storageFailure("get", store.KeySavedCredentials, err)
		return ""
	}
	if !found {
		return ""
	}
	var creds models.SavedCredentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		m.removeKey(ctx, store.KeySavedCredentials)
		return ""
	}
	return creds.Email
}

func (m *Manager) handleProviderEvent(evt identity.AuthEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
	defer cancel()

	m.logger.Debug("Provider auth event", map[string]interface{}{"event": string(evt.Type)})

	if evt.Session != nil {
		if !evt.Session.IsComplete() {
			m.logger.Warn("Ignoring incomplete session push", map[string]interface{}{"event": string(evt.Type)})
			return
		}
		var accept installGuard = acceptAny
		if evt.Type == identity.EventTokenRefreshed || evt.Type == identity.EventUserUpdated {
			accept = sameUser(evt.Session.User.ID)
		}
		if !m.installSession(ctx, evt.Session, true, accept) {
			m.logger.Debug("Ignoring push for a session that is no longer installed", map[string]interface{}{"event": string(evt.Type)})
		}
		return
	}

	if m.RememberMe() {
		m.logger.Debug("Keeping session after provider sign-out push", nil)
		return
	}
	m.setSession(ctx, nil, true)
}

// installGuard decides, under the state lock, whether a new value may replace
// the current session.
type installGuard func(current *models.Session, epoch uint64) bool

func acceptAny(*models.Session, uint64) bool { return true }

func sameEpoch(want uint64) installGuard {
	return func(_ *models.Session, epoch uint64) bool { return epoch == want }
}

func sameTokens(want uint64, accessToken string) installGuard {
	return func(current *models.Session, epoch uint64) bool {
		return epoch == want && current != nil && current.AccessToken == accessToken
	}
}

// sameUser accepts updates only while that user's session is installed, so a
// rotation finishing after sign-out cannot bring the session back.
func sameUser(userID string) installGuard {
	return func(current *models.Session, _ uint64) bool {
		return current != nil && current.User.ID == userID
	}
}

func (m *Manager) setSession(ctx context.Context, next *models.Session, persist bool) {
	m.installSession(ctx, next, persist, acceptAny)
}

// installSession installs next when guard allows it, optionally persisting it,
// and notifies listeners only if the value actually changed. Listeners run
// after every lock is released, in the order the installs happened.
func (m *Manager) installSession(ctx context.Context, next *models.Session, persist bool, guard installGuard) bool {
	m.writeMu.Lock()

	m.mu.Lock()
	if !guard(m.session, m.epoch) {
		m.mu.Unlock()
		m.writeMu.Unlock()
		return false
	}
	changed := !m.session.Equal(next)
	m.session = next.Clone()
	if next != nil {
		m.state = StateAuthenticated
	} else {
		m.state = StateUnauthenticated
	}
	snapshot := m.session.Clone()
	if changed {
		m.listeners.Enqueue(snapshot)
	}
	m.mu.Unlock()

	if persist {
		if next != nil {
			m.persist(ctx, next)
		} else {
			m.removeKey(ctx, store.KeySession)
		}
	}
	if changed {
		if snapshot != nil {
			metrics.SessionAuthenticated.Set(1)
		} else {
			metrics.SessionAuthenticated.Set(0)
		}
	}
	m.writeMu.Unlock()

	if changed {
		m.obs.RecordFanOut(ctx, "session", m.listeners.Len())
		m.listeners.Flush()
	}
	return true
}

func (m *Manager) persist(ctx context.Context, session *models.Session) {
	if !session.IsComplete() {
		return
	}
	raw, err := json.Marshal(session)
	if err != nil {
		m.logger.Error("Failed to encode session", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := m.store.Set(ctx, store.KeySession, string(raw)); err != nil {
		m.storageFailure("set", store.KeySession, err)
	}
}

func (m *Manager) loadPersisted(ctx context.Context) *models.Session {
	raw, found, err := m.store.Get(ctx, store.KeySession)
	if err != nil {
		m.storageFailure("get", store.KeySession, err)
		return nil
	}
	if !found {
		return nil
	}

	var session models.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil || !session.IsComplete() {
		m.logger.Warn("Discarding malformed persisted session", nil)
		m.removeKey(ctx, store.KeySession)
		return nil
	}
	return &session
}

func (m *Manager) loadRemember(ctx context.Context) bool {
	raw, found, err := m.store.Get(ctx, store.KeyRememberMe)
	if err != nil {
		m.storageFailure("get", store.KeyRememberMe, err)
		return false
	}
	return found && raw == "true"
}

func (m *Manager) rememberCredentials(ctx context.Context, email string) {
	if !m.RememberMe() {
		return
	}
	raw, _ := json.Marshal(models.SavedCredentials{Email: email})
	if err := m.store.Set(ctx, store.KeySavedCredentials, string(raw)); err != nil {
		m.storageFailure("set", store.KeySavedCredentials, err)
	}
}

func (m *Manager) removeKey(ctx context.Context, key string) {
	if err := m.store.Remove(ctx, key); err != nil {
		m.storageFailure("remove", key, err)
	}
}

func (m *Manager) storageFailure(op, key string, err error) {
	metrics.StorageFailures.WithLabelValues(op).Inc()
	m.logger.Warn("Persistent store operation failed", map[string]interface{}{
		"operation": op,
		"key":       key,
		"error":     err.Error(),
	})
}

func (m *Manager) validate(schema string, input map[string]interface{}) error {
	result := m.validator.Validate(schema, input)
	if result.Valid {
		return nil
	}
	return errors.NewValidationError(result.Summary())
}

func (m *Manager) track(ctx context.Context, op string, start time.Time, errp *error) {
	m.errors.Handle(op, *errp)
	result := metrics.Result(*errp)
	metrics.SessionOperations.WithLabelValues(op, result).Inc()
	m.obs.RecordOperation(ctx, op, result, time.Since(start))
}

func profileInput(update models.ProfileUpdate) map[string]interface{} {
	input := map[string]interface{}{}
	if update.Name != nil {
		input["name"] = *update.Name
	}
	if update.AvatarURL != nil {
		input["avatarUrl"] = *update.AvatarURL
	}
	if update.Email != nil {
		input["email"] = *update.Email
	}
	return input
}

// toAuthError turns provider rejections into AuthError with the provider's
// message. Transport failures stay NetworkError.
func toAuthError(err error) error {
	var pe *identity.ProviderError
	if stderrors.As(err, &pe) {
		return errors.NewAuthError(pe.Message, err)
	}
	if stdErr, ok := errors.As(err); ok {
		return stdErr
	}
	return errors.NewAuthError("", err)
}
