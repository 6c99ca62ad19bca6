// Package identity defines the remote identity provider contract and its
// Keycloak/OIDC implementation.
package identity

import (
	"context"
	"fmt"

	"transcript-core/internal/models"
)

type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// AuthEvent is pushed by the provider whenever its own view of the session
// changes. Session is nil for EventSignedOut.
type AuthEvent struct {
	Type    EventType
	Session *models.Session
}

type Provider interface {
	SignUp(ctx context.Context, email, password, name string) (*models.SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	AuthCodeURL(providerHint, redirectURL, state string) string
	ExchangeCode(ctx context.Context, code, redirectURL string) (*models.Session, error)
	SignOut(ctx context.Context, session *models.Session) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, session *models.Session, newPassword string) error
	ResendVerification(ctx context.Context, email string) error
	UpdateUser(ctx context.Context, session *models.Session, update models.ProfileUpdate) (*models.User, error)
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)
	GetSession(ctx context.Context) (*models.Session, error)
	// Adopt hands over a session restored from local storage; nil forgets it.
	Adopt(session *models.Session)
	OnAuthStateChange(fn func(AuthEvent)) (unsubscribe func())
}

// ProviderError is a rejection from the identity provider. Message is meant
// for end users.
type ProviderError struct {
	Status  int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("identity provider (%d): %s", e.Status, e.Message)
	}
	return "identity provider: " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
