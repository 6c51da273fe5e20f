package auth

import (
	"context"
	"fmt"
	"net/http"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// SessionStore is the key/value store shared between the server render and
// the hydrated client. Reads and writes are synchronous.
type SessionStore interface {
	Get(key string) any
	Set(key string, value any)
}

// VersionedStore is a SessionStore that can detect concurrent writers.
// Version returns the number of writes seen for key; CompareAndSet only
// writes when the version still matches.
type VersionedStore interface {
	SessionStore
	Version(key string) uint64
	CompareAndSet(key string, value any, version uint64) bool
}

// IdentityClient is the remote identity provider used to turn tokens into
// verified users.
type IdentityClient interface {
	Authenticate(ctx context.Context, opts AuthenticateOptions) (*AuthResult, error)
	Logout(ctx context.Context) error
	VerifyJWT(ctx context.Context, token string) (AuthClaims, error)
	Service(name string) ServiceClient
}

// ServiceClient is a generic RPC endpoint exposed by the identity provider.
type ServiceClient interface {
	Create(ctx context.Context, payload any) (any, error)
}

// CredentialTransport exchanges email and password for an access token.
type CredentialTransport interface {
	Login(ctx context.Context, creds Credentials) (string, error)
}

// LoginEndpoint is implemented by identity clients that know where local
// credentials are posted. The controller uses it when no transport is set.
type LoginEndpoint interface {
	LoginURL() string
	HTTPClient() *http.Client
}

// Event is the UI action that triggered a logout, e.g. a form submit.
type Event interface {
	PreventDefault()
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
