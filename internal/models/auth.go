package models

type AuthProvider string

const (
	ProviderEmail    AuthProvider = "email"
	ProviderGoogle   AuthProvider = "google"
	ProviderApple    AuthProvider = "apple"
	ProviderKeycloak AuthProvider = "keycloak"
)

type SignUpResult struct {
	User              *User    `json:"user"`
	Session           *Session `json:"session,omitempty"`
	NeedsVerification bool     `json:"needsVerification"`
}

// SavedCredentials is what "remember me" caches locally. Passwords are never stored.
type SavedCredentials struct {
	Email string `json:"email"`
}
