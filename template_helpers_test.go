package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-auth-view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateHelpers(t *testing.T) {
	helpers := auth.TemplateHelpers()

	isAuthenticated, ok := helpers["is_authenticated"].(func(any) bool)
	require.True(t, ok)
	displayName, ok := helpers["display_name"].(func(any) string)
	require.True(t, ok)
	hasRole, ok := helpers["has_role"].(func(any, string) bool)
	require.True(t, ok)

	full := &auth.User{FirstName: "Jane", LastName: "Doe", Username: "jdoe", Email: "jane@example.com", Role: "admin"}
	handle := auth.User{Username: "jdoe", Email: "jane@example.com"}
	mailOnly := map[string]any{"email": "jane@example.com"}

	assert.True(t, isAuthenticated(full))
	assert.True(t, isAuthenticated(handle))
	assert.True(t, isAuthenticated(mailOnly))
	assert.False(t, isAuthenticated(nil))
	assert.False(t, isAuthenticated(map[string]any{}))
	assert.False(t, isAuthenticated("null"))

	assert.Equal(t, "Jane Doe", displayName(full))
	assert.Equal(t, "jdoe", displayName(handle))
	assert.Equal(t, "jane@example.com", displayName(mailOnly))
	assert.Equal(t, "", displayName(nil))

	assert.True(t, hasRole(full, "admin"))
	assert.False(t, hasRole(full, "member"))
	assert.False(t, hasRole(nil, "admin"))
}

func TestUserFromValue(t *testing.T) {
	raw := []byte(`{"email":"raw@example.com","user_role":"member"}`)

	u := auth.UserFromValue(raw)
	require.NotNil(t, u)
	assert.Equal(t, "raw@example.com", u.Email)
	assert.Equal(t, "member", u.Role)

	assert.Nil(t, auth.UserFromValue(42))
	assert.Nil(t, auth.UserFromValue("{not json"))
	assert.Nil(t, auth.UserFromValue([]byte{}))
}

func TestSignupRequestPayload(t *testing.T) {
	req := auth.SignupRequest{
		Email:    "a@example.com",
		Password: "secret",
		Extra:    map[string]any{"first_name": "A", "email": "ignored@example.com"},
	}

	payload := req.Payload()
	assert.Equal(t, "a@example.com", payload["email"])
	assert.Equal(t, "secret", payload["password"])
	assert.Equal(t, "A", payload["first_name"])
	assert.Equal(t, "ignored@example.com", req.Extra["email"])
}

func TestUserAddMetadata(t *testing.T) {
	u := &auth.User{}
	u.AddMetadata("plan", "pro").AddMetadata("seats", 3)

	assert.Equal(t, map[string]any{"plan": "pro", "seats": 3}, u.Metadata)
}
