package auth

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

// UserKey is the session store slot holding the current user
const UserKey = "user"

// StrategyJWT and StrategyLocal are the authentication strategies understood
// by the identity provider.
const (
	StrategyJWT   = "jwt"
	StrategyLocal = "local"
)

// UserRole is the user's role
type UserRole = string

// User is the profile returned by the identity provider. The controller only
// cares whether one is present.
type User struct {
	ID             uuid.UUID      `json:"id,omitempty"`
	Role           UserRole       `json:"user_role,omitempty"`
	FirstName      string         `json:"first_name,omitempty"`
	LastName       string         `json:"last_name,omitempty"`
	Username       string         `json:"username,omitempty"`
	ProfilePicture string         `json:"profile_picture,omitempty"`
	Email          string         `json:"email,omitempty"`
	EmailValidated bool           `json:"is_email_verified,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	LoggedInAt     *time.Time     `json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time     `json:"created_at,omitempty"`
}

// AddMetadata will append information to a metadata attribute
func (u *User) AddMetadata(key string, val any) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[key] = val
	return u
}

// UserFromValue normalizes whatever a SessionStore holds under the user slot.
// Unknown shapes and empty values yield nil.
func UserFromValue(v any) *User {
	switch val := v.(type) {
	case nil:
		return nil
	case *User:
		return val
	case User:
		return &val
	case json.RawMessage:
		return userFromJSON(val)
	case []byte:
		return userFromJSON(val)
	case string:
		return userFromJSON([]byte(val))
	case map[string]any:
		if len(val) == 0 {
			return nil
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return userFromJSON(raw)
	default:
		return nil
	}
}

func userFromJSON(raw []byte) *User {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	u := &User{}
	if err := json.Unmarshal(raw, u); err != nil {
		return nil
	}
	return u
}

// AuthenticateOptions selects the identity provider strategy. The zero value
// delegates to the provider default (e.g. a session cookie).
type AuthenticateOptions struct {
	Strategy    string `json:"strategy,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

// IsZero reports whether no strategy was requested
func (o AuthenticateOptions) IsZero() bool {
	return o.Strategy == "" && o.AccessToken == ""
}

// AuthResult is the answer of a successful authenticate call
type AuthResult struct {
	AccessToken string `json:"accessToken"`
	User        *User  `json:"user,omitempty"`
}

// Credentials used by the local strategy
type Credentials struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// SignupRequest carries the registration payload. Extra fields are sent
// alongside email and password.
type SignupRequest struct {
	Email    string
	Password string
	Extra    map[string]any
}

// Payload flattens the request into the body sent to the users service
func (r SignupRequest) Payload() map[string]any {
	out := make(map[string]any, len(r.Extra)+2)
	maps.Copy(out, r.Extra)
	out["email"] = r.Email
	out["password"] = r.Password
	return out
}

// SignupResult reports what happened after validation passed. Signup never
// returns an error past validation; failures land in Err.
type SignupResult struct {
	Created  bool
	LoggedIn bool
	Token    string
	Record   any
	Err      error
}
