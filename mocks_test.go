package auth_test

import (
	"context"
	"sync"

	auth "github.com/goliatone/go-auth-view"
	"github.com/stretchr/testify/mock"
)

// MockIdentityClient implements auth.IdentityClient
type MockIdentityClient struct {
	mock.Mock
}

func (m *MockIdentityClient) Authenticate(ctx context.Context, opts auth.AuthenticateOptions) (*auth.AuthResult, error) {
	args := m.Called(ctx, opts)
	result, _ := args.Get(0).(*auth.AuthResult)
	return result, args.Error(1)
}

func (m *MockIdentityClient) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityClient) VerifyJWT(ctx context.Context, token string) (auth.AuthClaims, error) {
	args := m.Called(ctx, token)
	claims, _ := args.Get(0).(auth.AuthClaims)
	return claims, args.Error(1)
}

func (m *MockIdentityClient) Service(name string) auth.ServiceClient {
	args := m.Called(name)
	svc, _ := args.Get(0).(auth.ServiceClient)
	return svc
}

// MockServiceClient implements auth.ServiceClient
type MockServiceClient struct {
	mock.Mock
}

func (m *MockServiceClient) Create(ctx context.Context, payload any) (any, error) {
	args := m.Called(ctx, payload)
	return args.Get(0), args.Error(1)
}

// MockTransport implements auth.CredentialTransport
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Login(ctx context.Context, creds auth.Credentials) (string, error) {
	args := m.Called(ctx, creds)
	return args.String(0), args.Error(1)
}

// MockLogger implements auth.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Info(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Warn(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Error(format string, args ...any) {
	m.Called(format, args)
}

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

type fakeEvent struct {
	prevented bool
}

func (e *fakeEvent) PreventDefault() {
	e.prevented = true
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.EventType)
	}
	return out
}
