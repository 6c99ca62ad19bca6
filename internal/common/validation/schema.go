package validation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const (
	SchemaSignUp        = "sign_up"
	SchemaSignIn        = "sign_in"
	SchemaEmail         = "email"
	SchemaPassword      = "password"
	SchemaProfileUpdate = "profile_update"
	SchemaUserActivity  = "user_activity"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	urlPattern   = regexp.MustCompile(`^(https?)://[^\s/$.?#].[^\s]*$`)
)

// Validator holds compiled JSON Schemas for user-supplied payloads.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

func NewValidator(minPasswordLength int) (*Validator, error) {
	if minPasswordLength <= 0 {
		minPasswordLength = 8
	}
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	for name, schema := range builtinSchemas(minPasswordLength) {
		if err := v.Register(name, schema); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (v *Validator) Register(name string, schema map[string]interface{}) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", name, err)
	}
	v.mu.Lock()
	v.schemas[name] = compiled
	v.mu.Unlock()
	return nil
}

func (v *Validator) Validate(name string, input interface{}) *ValidationResult {
	v.mu.RLock()
	schema, ok := v.schemas[name]
	v.mu.RUnlock()
	if !ok {
		return &ValidationResult{Errors: []ValidationError{{
			Field:   "(root)",
			Message: fmt.Sprintf("unknown schema %q", name),
			Code:    "UNKNOWN_SCHEMA",
		}}}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return &ValidationResult{Errors: []ValidationError{{
			Field:   "(root)",
			Message: err.Error(),
			Code:    "INVALID_DOCUMENT",
		}}}
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, e := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   e.Field(),
			Message: e.Description(),
			Code:    strings.ToUpper(e.Type()),
		})
	}
	return out
}

func builtinSchemas(minPasswordLength int) map[string]map[string]interface{} {
	email := map[string]interface{}{"type": "string", "format": "email", "maxLength": 254}
	password := map[string]interface{}{"type": "string", "minLength": minPasswordLength, "maxLength": 128}

	return map[string]map[string]interface{}{
		SchemaEmail: {
			"type":       "object",
			"properties": map[string]interface{}{"email": email},
			"required":   []string{"email"},
		},
		SchemaPassword: {
			"type":       "object",
			"properties": map[string]interface{}{"password": password},
			"required":   []string{"password"},
		},
		SchemaSignUp: {
			"type": "object",
			"properties": map[string]interface{}{
				"email":    email,
				"password": password,
				"name":     map[string]interface{}{"type": "string", "maxLength": 100},
			},
			"required": []string{"email", "password"},
		},
		SchemaSignIn: {
			"type": "object",
			"properties": map[string]interface{}{
				"email":    email,
				"password": map[string]interface{}{"type": "string", "minLength": 1},
			},
			"required": []string{"email", "password"},
		},
		SchemaProfileUpdate: {
			"type": "object",
			"properties": map[string]interface{}{
				"name":      map[string]interface{}{"type": "string", "minLength": 1, "maxLength": 100},
				"avatarUrl": map[string]interface{}{"type": "string", "format": "uri"},
				"email":     email,
			},
			"minProperties":        1,
			"additionalProperties": false,
		},
		SchemaUserActivity: {
			"type": "object",
			"properties": map[string]interface{}{
				"type": map[string]interface{}{
					"type": "string",
					"enum": []string{"upload", "processing", "analysis", "share", "comment", "collaboration"},
				},
				"title":       map[string]interface{}{"type": "string", "minLength": 1, "maxLength": 200},
				"description": map[string]interface{}{"type": "string", "maxLength": 2000},
				"workspaceId": map[string]interface{}{"type": "string"},
				"metadata":    map[string]interface{}{"type": "object"},
			},
			"required": []string{"type", "title"},
		},
	}
}

func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Summary joins all messages into one line suitable for a user-facing error.
func (vr *ValidationResult) Summary() string {
	return strings.Join(vr.GetErrorMessages(), "; ")
}

func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func ValidateURL(url string) bool {
	return urlPattern.MatchString(url)
}
