package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_SignUp(t *testing.T) {
	v, err := NewValidator(8)
	require.NoError(t, err)

	tests := []struct {
		name       string
		input      map[string]interface{}
		valid      bool
		errorField string
	}{
		{
			name:  "valid",
			input: map[string]interface{}{"email": "ada@example.com", "password": "long-enough", "name": "Ada"},
			valid: true,
		},
		{
			name:       "short password",
			input:      map[string]interface{}{"email": "ada@example.com", "password": "short"},
			errorField: "password",
		},
		{
			name:       "bad email",
			input:      map[string]interface{}{"email": "not-an-email", "password": "long-enough"},
			errorField: "email",
		},
		{
			name:       "missing email",
			input:      map[string]interface{}{"password": "long-enough"},
			errorField: "(root)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(SchemaSignUp, tt.input)
			assert.Equal(t, tt.valid, result.Valid, result.GetErrorMessages())
			if tt.errorField != "" {
				assert.True(t, result.HasErrors(tt.errorField), result.GetErrorMessages())
				assert.NotEmpty(t, result.Summary())
			}
		})
	}
}

func TestValidator_ProfileUpdate(t *testing.T) {
	v, err := NewValidator(0)
	require.NoError(t, err)

	assert.True(t, v.Validate(SchemaProfileUpdate, map[string]interface{}{"name": "Grace"}).Valid)
	assert.True(t, v.Validate(SchemaProfileUpdate, map[string]interface{}{"avatarUrl": "https://cdn.example.com/a.png"}).Valid)
	assert.False(t, v.Validate(SchemaProfileUpdate, map[string]interface{}{}).Valid)
	assert.False(t, v.Validate(SchemaProfileUpdate, map[string]interface{}{"role": "admin"}).Valid)
	assert.False(t, v.Validate(SchemaProfileUpdate, map[string]interface{}{"name": ""}).Valid)
}

func TestValidator_UserActivity(t *testing.T) {
	v, err := NewValidator(8)
	require.NoError(t, err)

	ok := v.Validate(SchemaUserActivity, map[string]interface{}{"type": "comment", "title": "Left a comment"})
	assert.True(t, ok.Valid)

	bad := v.Validate(SchemaUserActivity, map[string]interface{}{"type": "dance", "title": "x"})
	assert.False(t, bad.Valid)
	assert.True(t, bad.HasErrors("type"))
}

func TestValidator_UnknownSchema(t *testing.T) {
	v, err := NewValidator(8)
	require.NoError(t, err)

	result := v.Validate("nope", map[string]interface{}{})
	assert.False(t, result.Valid)
	assert.Equal(t, "UNKNOWN_SCHEMA", result.Errors[0].Code)
}

func TestValidateEmailAndURL(t *testing.T) {
	assert.True(t, ValidateEmail("a.b+c@example.co"))
	assert.False(t, ValidateEmail("a@b"))
	assert.True(t, ValidateURL("https://example.com/x"))
	assert.False(t, ValidateURL("javascript:alert(1)"))
}
