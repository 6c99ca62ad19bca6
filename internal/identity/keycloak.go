package identity

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"transcript-core/internal/common/auth"
	"transcript-core/internal/common/config"
	"transcript-core/internal/common/errors"
	commonhttp "transcript-core/internal/common/http"
	"transcript-core/internal/common/logger"
	"transcript-core/internal/models"
	"transcript-core/internal/observer"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const defaultTokenLifetime = 5 * time.Minute

// KeycloakProvider signs users in through the realm's OIDC endpoints and
// manages accounts through the admin API.
type KeycloakProvider struct {
	cfg    config.KeycloakConfig
	oauth  oauth2.Config
	admin  *auth.KeycloakClient
	http   *commonhttp.Client
	logger logger.Logger
	tracer trace.Tracer
	events *observer.Registry[AuthEvent]
	now    func() time.Time

	mu      sync.RWMutex
	current *models.Session
	// epoch advances on sign-out; a refresh that started before it is discarded.
	epoch uint64
}

func NewKeycloakProvider(cfg config.KeycloakConfig, log logger.Logger, httpClient *commonhttp.Client) *KeycloakProvider {
	if httpClient == nil {
		httpClient = commonhttp.NewClient(config.GetDuration(cfg.Timeout))
	}
	admin := auth.NewKeycloakClient(cfg.URL, cfg.Realm, cfg.ClientID, cfg.ClientSecret, httpClient)
	realmURL := admin.RealmURL()

	return &KeycloakProvider{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   realmURL + "/protocol/openid-connect/auth",
				TokenURL:  realmURL + "/protocol/openid-connect/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		admin:  admin,
		http:   httpClient,
		logger: log.WithFields(map[string]interface{}{"component": "identity.keycloak", "realm": cfg.Realm}),
		tracer: otel.Tracer("transcript-core/identity"),
		events: observer.New[AuthEvent](),
		now:    time.Now,
	}
}

func (p *KeycloakProvider) OnAuthStateChange(fn func(AuthEvent)) func() {
	return p.events.Add(fn)
}

func (p *KeycloakProvider) SignUp(ctx context.Context, email, password, name string) (result *models.SignUpResult, err error) {
	ctx, span := p.tracer.Start(ctx, "keycloak.sign_up")
	defer func() { endSpan(span, err) }()

	created, err := p.admin.CreateUser(ctx, &auth.User{
		Email:         email,
		FirstName:     name,
		Enabled:       true,
		EmailVerified: !p.cfg.RequireEmailVerification,
		Credentials:   []auth.Credential{{Type: "password", Value: password}},
	})
	if err != nil {
		return nil, p.translate(err)
	}

	user := &models.User{
		ID:        created.ID,
		Email:     email,
		Name:      name,
		Provider:  models.ProviderEmail,
		CreatedAt: p.now().UTC(),
	}

	if p.cfg.RequireEmailVerification {
		if err := p.admin.SendVerifyEmail(ctx, created.ID); err != nil {
			p.logger.Warn("Failed to send verification email", map[string]interface{}{
				"user_id": created.ID,
				"error":   err.Error(),
			})
		}
		return &models.SignUpResult{User: user, NeedsVerification: true}, nil
	}

	session, err := p.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	session.User.CreatedAt = user.CreatedAt
	return &models.SignUpResult{User: &session.User, Session: session}, nil
}

func (p *KeycloakProvider) SignInWithPassword(ctx context.Context, email, password string) (session *models.Session, err error) {
	ctx, span := p.tracer.Start(ctx, "keycloak.sign_in_password")
	defer func() { endSpan(span, err) }()

	tok, err := p.oauth.PasswordCredentialsToken(p.clientContext(ctx), email, password)
	if err != nil {
		return nil, p.translate(err)
	}

	session, err = p.sessionFromToken(ctx, tok, models.ProviderEmail)
	if err != nil {
		return nil, err
	}
	p.setCurrent(session, EventSignedIn)
	return session, nil
}

// AuthCodeURL builds the browser redirect for the authorization-code flow.
// providerHint selects a brokered identity provider (kc_idp_hint), e.g. "google".
func (p *KeycloakProvider) AuthCodeURL(providerHint, redirectURL, state string) string {
	cfg := p.oauthFor(redirectURL)
	var opts []oauth2.AuthCodeOption
	if providerHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("kc_idp_hint", providerHint))
	}
	return cfg.AuthCodeURL(state, opts...)
}

func (p *KeycloakProvider) ExchangeCode(ctx context.Context, code, redirectURL string) (session *models.Session, err error) {
	ctx, span := p.tracer.Start(ctx, "keycloak.exchange_code")
	defer func() { endSpan(span, err) }()

	cfg := p.oauthFor(redirectURL)
	tok, err := cfg.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, p.translate(err)
	}

	session, err = p.sessionFromToken(ctx, tok, models.ProviderKeycloak)
	if err != nil {
		return nil, err
	}
	p.setCurrent(session, EventSignedIn)
	return session, nil
}

// SignOut revokes the SSO session. The provider forgets its own copy even when
// revocation fails.
func (p *KeycloakProvider) SignOut(ctx context.Context, session *models.Session) (err error) {
	ctx, span := p.tracer.Start(ctx, "keycloak.sign_out")
	defer func() { endSpan(span, err) }()

	p.mu.Lock()
	p.epoch++
	p.current = nil
	p.mu.Unlock()

	if session != nil && session.RefreshToken != "" {
		err = p.admin.Logout(ctx, session.RefreshToken)
	}
	p.setCurrent(nil, EventSignedOut)
	if err != nil {
		return p.translate(err)
	}
	return nil
}

// ResetPasswordForEmail sends the UPDATE_PASSWORD action email. Unknown
// addresses succeed silently so the endpoint cannot be used to discover accounts.
func (p *KeycloakProvider) ResetPasswordForEmail(ctx context.Context, email string) (err error) {
	ctx, span := p.tracer.Start(ctx, "keycloak.reset_password")
	defer func() { endSpan(span, err) }()

	user, err := p.admin.GetUserByEmail(ctx, email)
	if errors.HasCode(err, auth.ErrCodeUserNotFound) {
		return nil
	}
	if err != nil {
		return p.translate(err)
	}
	if err := p.admin.ExecuteActionsEmail(ctx, user.ID, []string{"UPDATE_PASSWORD"}); err != nil {
		return p.translate(err)
	}
	return nil
}

func (p *KeycloakProvider) UpdatePassword(ctx context.Context, session *models.Session, newPassword string) (err error) {
	ctx, span := p.tracer.Start(ctx, "keycloak.update_password")
	defer func() { endSpan(span, err) }()

	if session == nil {
		return &ProviderError{Status: http.StatusUnauthorized, Message: "Not signed in"}
	}
	if err := p.admin.ResetPassword(ctx, session.User.ID, newPassword); err != nil {
		return p.translate(err)
	}
	return nil
}

func (p *KeycloakProvider) ResendVerification(ctx context.Context, email string) (err error) {
	ctx, span := p.tracer.Start(ctx, "keycloak.resend_verification")
	defer func() { endSpan(span, err) }()

	user, err := p.admin.GetUserByEmail(ctx, email)
	if errors.HasCode(err, auth.ErrCodeUserNotFound) {
		return nil
	}
	if err != nil {
		return p.translate(err)
	}
	if user.EmailVerified {
		return &ProviderError{Status: http.StatusBadRequest, Message: "Email is already verified"}
	}
	if err := p.admin.SendVerifyEmail(ctx, user.ID); err != nil {
		return p.translate(err)
	}
	return nil
}

func (p *KeycloakProvider) UpdateUser(ctx context.Context, session *models.Session, update models.ProfileUpdate) (user *models.User, err error) {
	ctx, span := p.tracer.Start(ctx, "keycloak.update_user")
	defer func() { endSpan(span, err) }()

	if session == nil {
		return nil, &ProviderError{Status: http.StatusUnauthorized, Message: "Not signed in"}
	}

	fields := map[string]interface{}{}
	if update.Name != nil {
		fields["firstName"] = *update.Name
	}
	if update.Email != nil {
		fields["email"] = *update.Email
	}
	if update.AvatarURL != nil {
		fields["attributes"] = map[string][]string{"picture": {*update.AvatarURL}}
	}
	if err := p.admin.UpdateUser(ctx, session.User.ID, fields); err != nil {
		return nil, p.translate(err)
	}

	user = session.User.Clone()
	update.ApplyTo(user)

	p.mu.Lock()
	if p.current != nil && p.current.User.ID == user.ID {
		p.current.User = *user.Clone()
		p.events.Enqueue(AuthEvent{Type: EventUserUpdated, Session: p.current.Clone()})
	}
	p.mu.Unlock()
	p.events.Flush()
	return user, nil
}

// RefreshSession trades a refresh token for a new token pair.
func (p *KeycloakProvider) RefreshSession(ctx context.Context, refreshToken string) (session *models.Session, err error) {
	ctx, span := p.tracer.Start(ctx, "keycloak.refresh")
	defer func() { endSpan(span, err) }()

	if refreshToken == "" {
		return nil, &ProviderError{Status: http.StatusBadRequest, Message: "Refresh token missing"}
	}

	p.mu.RLock()
	epoch := p.epoch
	var provider models.AuthProvider = models.ProviderKeycloak
	if p.current != nil {
		provider = p.current.User.Provider
	}
	p.mu.RUnlock()

	// an empty access token forces the source to hit the token endpoint
	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, p.translate(err)
	}

	session, err = p.sessionFromToken(ctx, tok, provider)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		p.logger.Info("Discarding token refreshed across a sign-out", map[string]interface{}{"user_id": session.User.ID})
		return nil, &ProviderError{Status: http.StatusUnauthorized, Message: "Signed out during refresh"}
	}
	p.current = session.Clone()
	p.events.Enqueue(AuthEvent{Type: EventTokenRefreshed, Session: session.Clone()})
	p.mu.Unlock()
	p.events.Flush()
	return session, nil
}

// Adopt hands the provider a session restored from local storage so that
// GetSession and background rotation see it. No event is pushed.
func (p *KeycloakProvider) Adopt(session *models.Session) {
	p.mu.Lock()
	p.current = session.Clone()
	p.mu.Unlock()
}

// GetSession returns the session the provider currently holds, or nil when
// there is none or the realm reports its access token inactive.
func (p *KeycloakProvider) GetSession(ctx context.Context) (*models.Session, error) {
	p.mu.RLock()
	current := p.current.Clone()
	p.mu.RUnlock()
	if current == nil {
		return nil, nil
	}

	if _, err := p.admin.ValidateToken(ctx, current.AccessToken); err != nil {
		if errors.HasCode(err, auth.ErrCodeTokenInactive) && !current.IsExpired(p.now(), 0) {
			return nil, nil
		}
		if !errors.HasCode(err, auth.ErrCodeTokenInactive) {
			p.logger.Warn("Token introspection failed, returning cached session", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return current, nil
}

// StartAutoRefresh rotates tokens in the background until ctx is done. A
// successful rotation is pushed to OnAuthStateChange subscribers.
func (p *KeycloakProvider) StartAutoRefresh(ctx context.Context, interval, leeway time.Duration) {
	if interval <= 0 {
		p.logger.Warn("Background token rotation disabled, interval must be positive", map[string]interface{}{
			"interval": interval.String(),
		})
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.refreshIfDue(ctx, leeway)
			}
		}
	}()
}

func (p *KeycloakProvider) refreshIfDue(ctx context.Context, leeway time.Duration) {
	p.mu.RLock()
	current := p.current.Clone()
	p.mu.RUnlock()

	if current == nil || !current.IsExpired(p.now(), leeway) {
		return
	}
	if _, err := p.RefreshSession(ctx, current.RefreshToken); err != nil {
		p.logger.Warn("Background token refresh failed", map[string]interface{}{
			"user_id": current.User.ID,
			"error":   err.Error(),
		})
	}
}

func (p *KeycloakProvider) setCurrent(session *models.Session, event EventType) {
	p.mu.Lock()
	p.current = session.Clone()
	p.events.Enqueue(AuthEvent{Type: event, Session: session.Clone()})
	p.mu.Unlock()
	p.events.Flush()
}

func (p *KeycloakProvider) oauthFor(redirectURL string) *oauth2.Config {
	cfg := p.oauth
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return &cfg
}

func (p *KeycloakProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.http.Underlying())
}

type userInfo struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
}

func (p *KeycloakProvider) sessionFromToken(ctx context.Context, tok *oauth2.Token, provider models.AuthProvider) (*models.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.admin.RealmURL()+"/protocol/openid-connect/userinfo", nil)
	if err != nil {
		return nil, errors.NewNetworkError("userinfo", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, errors.NewNetworkError("userinfo", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Status: resp.StatusCode, Message: auth.ExtractMessage(body, "Unable to load user profile")}
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, errors.NewNetworkError("userinfo decode", err)
	}

	now := p.now().UTC()
	name := info.Name
	if name == "" {
		name = info.PreferredUsername
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = now.Add(defaultTokenLifetime)
	}

	user := models.User{
		ID:           info.Sub,
		Email:        info.Email,
		Name:         name,
		AvatarURL:    info.Picture,
		Provider:     provider,
		LastSignInAt: &now,
	}

	p.mu.RLock()
	if p.current != nil && p.current.User.ID == user.ID {
		user.CreatedAt = p.current.User.CreatedAt
	}
	p.mu.RUnlock()

	return &models.Session{
		User:         user,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiry.Unix(),
	}, nil
}

// translate maps token endpoint and admin API failures onto ProviderError.
// Transport failures pass through as NetworkError.
func (p *KeycloakProvider) translate(err error) error {
	var retrieve *oauth2.RetrieveError
	if stderrors.As(err, &retrieve) {
		status := 0
		if retrieve.Response != nil {
			status = retrieve.Response.StatusCode
		}
		msg := auth.ExtractMessage(retrieve.Body, "")
		if msg == "" || msg == "invalid_grant" {
			msg = "Invalid login credentials"
		}
		return &ProviderError{Status: status, Message: msg, Err: err}
	}

	stdErr, ok := errors.As(err)
	if !ok {
		return errors.NewNetworkError("identity provider", err)
	}

	switch stdErr.Code {
	case auth.ErrCodeKeycloakAPI:
		status := auth.StatusOf(err)
		msg := stdErr.Message
		if status == http.StatusConflict {
			msg = "User already registered"
		}
		if status >= 500 {
			return errors.NewNetworkError("identity provider", err)
		}
		return &ProviderError{Status: status, Message: msg, Err: err}
	case errors.ErrCodeNetwork, auth.ErrCodeKeycloakAuth:
		return stdErr
	default:
		return &ProviderError{Message: stdErr.Message, Err: err}
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var pe *ProviderError
		if stderrors.As(err, &pe) {
			span.SetAttributes(attribute.Int("identity.status", pe.Status))
		}
	}
	span.End()
}

var _ Provider = (*KeycloakProvider)(nil)

func (p *KeycloakProvider) String() string {
	return fmt.Sprintf("keycloak(%s)", p.cfg.Realm)
}
