package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"transcript-core/internal/common/errors"
	commonhttp "transcript-core/internal/common/http"
)

// KeycloakClient talks to the realm's admin REST API with a service-account
// token and to the OIDC logout and introspection endpoints.
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *commonhttp.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type User struct {
	ID               string              `json:"id,omitempty"`
	Email            string              `json:"email"`
	FirstName        string              `json:"firstName,omitempty"`
	LastName         string              `json:"lastName,omitempty"`
	Username         string              `json:"username"`
	Enabled          bool                `json:"enabled"`
	EmailVerified    bool                `json:"emailVerified"`
	CreatedTimestamp int64               `json:"createdTimestamp,omitempty"`
	Attributes       map[string][]string `json:"attributes,omitempty"`
	Credentials      []Credential        `json:"credentials,omitempty"`
	RequiredActions  []string            `json:"requiredActions,omitempty"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type TokenInfo struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
	Iat      int64  `json:"iat,omitempty"`
	Sub      string `json:"sub,omitempty"`
	Iss      string `json:"iss,omitempty"`
}

const (
	ErrCodeKeycloakAuth     errors.ErrorCode = "KEYCLOAK_AUTH_ERROR"
	ErrCodeKeycloakAPI      errors.ErrorCode = "KEYCLOAK_API_ERROR"
	ErrCodeUserNotFound     errors.ErrorCode = "USER_NOT_FOUND"
	ErrCodeTokenInactive    errors.ErrorCode = "TOKEN_INVALID"
	ErrCodeKeycloakDecoding errors.ErrorCode = "DESERIALIZATION_ERROR"
)

func NewKeycloakClient(baseURL, realm, clientID, clientSecret string, httpClient *commonhttp.Client) *KeycloakClient {
	if httpClient == nil {
		httpClient = commonhttp.NewClient(30 * time.Second)
	}
	return &KeycloakClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
	}
}

func (k *KeycloakClient) RealmURL() string {
	return fmt.Sprintf("%s/realms/%s", k.baseURL, k.realm)
}

func (k *KeycloakClient) adminURL(path string) string {
	return fmt.Sprintf("%s/admin/realms/%s%s", k.baseURL, k.realm, path)
}

func (k *KeycloakClient) serviceToken(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.accessToken != "" && k.tokenExpiry.After(time.Now()) {
		return k.accessToken, nil
	}

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.RealmURL()+"/protocol/openid-connect/token", strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("keycloak token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	// renew a little early so in-flight calls do not race the expiry
	k.accessToken = tokenResp.AccessToken
	k.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - 10*time.Second)
	return k.accessToken, nil
}

// adminDo sends an authenticated admin API request and decodes a JSON response
// into out when out is non-nil. Any status outside expected is an API error.
func (k *KeycloakClient) adminDo(ctx context.Context, method, path string, body interface{}, out interface{}, expected ...int) (*http.Response, error) {
	token, err := k.serviceToken(ctx)
	if err != nil {
		return nil, &errors.StandardError{
			Code:      ErrCodeKeycloakAuth,
			Message:   "Failed to authenticate with Keycloak",
			Details:   err.Error(),
			Retryable: true,
			Timestamp: time.Now().UTC(),
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("failed to serialize request: %v", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, k.adminURL(path), reader)
	if err != nil {
		return nil, errors.NewNetworkError("keycloak request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewNetworkError("keycloak request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewNetworkError("keycloak response", err)
	}

	if !statusIn(resp.StatusCode, expected) {
		return resp, apiError(resp.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp, &errors.StandardError{
				Code:      ErrCodeKeycloakDecoding,
				Message:   "Failed to decode Keycloak response",
				Details:   err.Error(),
				Timestamp: time.Now().UTC(),
			}
		}
	}
	return resp, nil
}

func statusIn(code int, expected []int) bool {
	for _, e := range expected {
		if code == e {
			return true
		}
	}
	return false
}

func apiError(status int, body []byte) *errors.StandardError {
	return &errors.StandardError{
		Code:      ErrCodeKeycloakAPI,
		Message:   ExtractMessage(body, http.StatusText(status)),
		Details:   string(body),
		Retryable: isTransientHTTPError(status),
		Metadata:  map[string]interface{}{"status": status},
		Timestamp: time.Now().UTC(),
	}
}

// ExtractMessage pulls the human-readable text out of a Keycloak error body.
func ExtractMessage(body []byte, fallback string) string {
	var payload struct {
		ErrorMessage     string `json:"errorMessage"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.ErrorMessage != "":
			return payload.ErrorMessage
		case payload.ErrorDescription != "":
			return payload.ErrorDescription
		case payload.Error != "":
			return payload.Error
		}
	}
	return fallback
}

// StatusOf returns the HTTP status recorded on an API error, or 0.
func StatusOf(err error) int {
	stdErr, ok := errors.As(err)
	if !ok || stdErr.Metadata == nil {
		return 0
	}
	status, _ := stdErr.Metadata["status"].(int)
	return status
}

func (k *KeycloakClient) CreateUser(ctx context.Context, user *User) (*User, error) {
	if user.Username == "" {
		user.Username = user.Email
	}

	resp, err := k.adminDo(ctx, http.MethodPost, "/users", user, nil, http.StatusCreated)
	if err != nil {
		return nil, err
	}

	// Keycloak answers 201 with an empty body; the id is the last Location segment.
	if location := resp.Header.Get("Location"); location != "" {
		parts := strings.Split(location, "/")
		user.ID = parts[len(parts)-1]
	}
	user.Credentials = nil
	return user, nil
}

func (k *KeycloakClient) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var users []User
	path := "/users?exact=true&email=" + url.QueryEscape(email)
	if _, err := k.adminDo(ctx, http.MethodGet, path, nil, &users, http.StatusOK); err != nil {
		return nil, err
	}

	if len(users) == 0 {
		return nil, &errors.StandardError{
			Code:      ErrCodeUserNotFound,
			Message:   "User not found",
			Details:   fmt.Sprintf("No user found with email: %s", email),
			Timestamp: time.Now().UTC(),
		}
	}
	return &users[0], nil
}

func (k *KeycloakClient) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if _, err := k.adminDo(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &user, http.StatusOK); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser applies a partial representation; Keycloak merges absent fields.
func (k *KeycloakClient) UpdateUser(ctx context.Context, userID string, fields map[string]interface{}) error {
	_, err := k.adminDo(ctx, http.MethodPut, "/users/"+url.PathEscape(userID), fields, nil, http.StatusNoContent)
	return err
}

func (k *KeycloakClient) ResetPassword(ctx context.Context, userID, newPassword string) error {
	cred := Credential{Type: "password", Value: newPassword, Temporary: false}
	_, err := k.adminDo(ctx, http.MethodPut, "/users/"+url.PathEscape(userID)+"/reset-password", cred, nil, http.StatusNoContent)
	return err
}

func (k *KeycloakClient) SendVerifyEmail(ctx context.Context, userID string) error {
	_, err := k.adminDo(ctx, http.MethodPut, "/users/"+url.PathEscape(userID)+"/send-verify-email", nil, nil, http.StatusNoContent)
	return err
}

func (k *KeycloakClient) ExecuteActionsEmail(ctx context.Context, userID string, actions []string) error {
	_, err := k.adminDo(ctx, http.MethodPut, "/users/"+url.PathEscape(userID)+"/execute-actions-email", actions, nil, http.StatusNoContent)
	return err
}

// Logout ends the user's SSO session identified by its refresh token.
func (k *KeycloakClient) Logout(ctx context.Context, refreshToken string) error {
	data := url.Values{}
	data.Set("client_id", k.clientID)
	if k.clientSecret != "" {
		data.Set("client_secret", k.clientSecret)
	}
	data.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.RealmURL()+"/protocol/openid-connect/logout", strings.NewReader(data.Encode()))
	if err != nil {
		return errors.NewNetworkError("logout", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return errors.NewNetworkError("logout", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, body)
	}
	return nil
}

func (k *KeycloakClient) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	data := url.Values{}
	data.Set("token", token)
	data.Set("token_type_hint", "access_token")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.RealmURL()+"/protocol/openid-connect/token/introspect", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.NewNetworkError("introspect", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewNetworkError("introspect", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apiError(resp.StatusCode, body)
	}

	var info TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &errors.StandardError{
			Code:      ErrCodeKeycloakDecoding,
			Message:   "Failed to decode token introspection response",
			Details:   err.Error(),
			Timestamp: time.Now().UTC(),
		}
	}

	if !info.Active {
		return nil, &errors.StandardError{
			Code:      ErrCodeTokenInactive,
			Message:   "Token is not active",
			Timestamp: time.Now().UTC(),
		}
	}
	return &info, nil
}

func isTransientHTTPError(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
