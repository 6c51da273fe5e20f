package identity_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-view"
	"github.com/goliatone/go-auth-view/identity"
	"github.com/goliatone/go-auth-view/internal/devidentity"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type identityFixture struct {
	baseURL string
	server  *devidentity.Server
	tokens  *auth.TokenServiceImpl
}

func startIdentity(t *testing.T) *identityFixture {
	t.Helper()

	tokens := auth.NewTokenService(testSecret, time.Hour, "authview", jwt.ClaimStrings{"web"}, nil)
	srv := devidentity.New(tokens, devidentity.WithHashCost(bcrypt.MinCost))
	app := srv.App()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() {
		_ = app.Shutdown()
	})

	return &identityFixture{
		baseURL: "http://" + ln.Addr().String(),
		server:  srv,
		tokens:  tokens,
	}
}

func (f *identityFixture) register(t *testing.T, email, password string) *auth.User {
	t.Helper()
	user, err := f.server.Register(email, password, map[string]any{"first_name": "Jane"})
	require.NoError(t, err)
	return user
}

func (f *identityFixture) verifier(t *testing.T) *identity.Verifier {
	t.Helper()
	v, err := identity.NewVerifier(identity.VerifierConfig{
		Secret:   testSecret,
		Issuer:   "authview",
		Audience: []string{"web"},
	})
	require.NoError(t, err)
	return v
}

func TestClient_LoginThenCookieAuthenticate(t *testing.T) {
	ctx := context.Background()
	fx := startIdentity(t)
	user := fx.register(t, "jane@example.com", "secret1")

	client := identity.NewClient(fx.baseURL, identity.WithHTTPClient(identity.NewHTTPClient(5*time.Second)))
	transport := auth.NewHTTPCredentialTransport(fx.baseURL+auth.DefaultLoginPath, client.HTTPClient())

	token, err := transport.Login(ctx, auth.Credentials{Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	result, err := client.Authenticate(ctx, auth.AuthenticateOptions{})
	require.NoError(t, err)
	assert.Equal(t, token, result.AccessToken)
	require.NotNil(t, result.User)
	assert.Equal(t, user.ID, result.User.ID)
	assert.Equal(t, "Jane", result.User.FirstName)
	assert.NotNil(t, result.User.LoggedInAt)
	assert.Equal(t, token, client.Token())
}

func TestClient_AuthenticateJWT(t *testing.T) {
	ctx := context.Background()
	fx := startIdentity(t)
	user := fx.register(t, "jane@example.com", "secret1")

	token, err := fx.tokens.Generate(user)
	require.NoError(t, err)

	client := identity.NewClient(fx.baseURL)
	result, err := client.Authenticate(ctx, auth.AuthenticateOptions{Strategy: auth.StrategyJWT, AccessToken: token})
	require.NoError(t, err)
	assert.Equal(t, token, result.AccessToken)
	assert.Equal(t, user.Email, result.User.Email)

	_, err = client.Authenticate(ctx, auth.AuthenticateOptions{Strategy: auth.StrategyJWT, AccessToken: "garbage"})
	require.Error(t, err)
	assert.True(t, auth.IsUnauthorized(err))
}

func TestClient_AuthenticateWithoutSession(t *testing.T) {
	fx := startIdentity(t)
	client := identity.NewClient(fx.baseURL)

	_, err := client.Authenticate(context.Background(), auth.AuthenticateOptions{})
	require.Error(t, err)
	assert.True(t, auth.IsUnauthorized(err))
	assert.Empty(t, client.Token())
}

func TestClient_LocalLoginWrongPassword(t *testing.T) {
	fx := startIdentity(t)
	fx.register(t, "jane@example.com", "secret1")

	client := identity.NewClient(fx.baseURL)
	transport := auth.NewHTTPCredentialTransport(fx.baseURL+auth.DefaultLoginPath, client.HTTPClient())

	_, err := transport.Login(context.Background(), auth.Credentials{Email: "jane@example.com", Password: "nope"})
	require.Error(t, err)
	assert.True(t, auth.IsUnauthorized(err))
}

func TestClient_LogoutRevokesToken(t *testing.T) {
	ctx := context.Background()
	fx := startIdentity(t)
	user := fx.register(t, "jane@example.com", "secret1")

	token, err := fx.tokens.Generate(user)
	require.NoError(t, err)

	client := identity.NewClient(fx.baseURL)
	_, err = client.Authenticate(ctx, auth.AuthenticateOptions{Strategy: auth.StrategyJWT, AccessToken: token})
	require.NoError(t, err)

	require.NoError(t, client.Logout(ctx))
	assert.Empty(t, client.Token())

	_, err = client.Authenticate(ctx, auth.AuthenticateOptions{Strategy: auth.StrategyJWT, AccessToken: token})
	require.Error(t, err)
	assert.True(t, auth.IsUnauthorized(err))
}

func TestClient_LogoutClearsCookie(t *testing.T) {
	ctx := context.Background()
	fx := startIdentity(t)
	fx.register(t, "jane@example.com", "secret1")

	client := identity.NewClient(fx.baseURL)
	transport := auth.NewHTTPCredentialTransport(fx.baseURL+auth.DefaultLoginPath, client.HTTPClient())

	_, err := transport.Login(ctx, auth.Credentials{Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, client.Logout(ctx))

	_, err = client.Authenticate(ctx, auth.AuthenticateOptions{})
	assert.True(t, auth.IsUnauthorized(err))
}

func TestClient_ServiceCreate(t *testing.T) {
	ctx := context.Background()
	fx := startIdentity(t)
	client := identity.NewClient(fx.baseURL)
	users := client.Service("users")

	record, err := users.Create(ctx, map[string]any{
		"email":     "new@example.com",
		"password":  "secret1",
		"last_name": "Doe",
	})
	require.NoError(t, err)

	fields, ok := record.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "new@example.com", fields["email"])
	assert.Equal(t, "Doe", fields["last_name"])
	assert.NotEmpty(t, fields["id"])

	_, err = users.Create(ctx, map[string]any{"email": "new@example.com", "password": "secret1"})
	require.Error(t, err)
	var richErr *goerrors.Error
	if assert.ErrorAs(t, err, &richErr) {
		assert.Equal(t, goerrors.CategoryConflict, richErr.Category)
		assert.Equal(t, "email already registered", richErr.Message)
	}

	_, err = users.Create(ctx, map[string]any{"email": "not-an-email", "password": "1"})
	require.Error(t, err)
	if assert.ErrorAs(t, err, &richErr) {
		assert.Equal(t, goerrors.CategoryValidation, richErr.Category)
	}
}

func TestClient_VerifyJWT(t *testing.T) {
	ctx := context.Background()
	fx := startIdentity(t)
	user := fx.register(t, "jane@example.com", "secret1")
	token, err := fx.tokens.Generate(user)
	require.NoError(t, err)

	bare := identity.NewClient(fx.baseURL)
	_, err = bare.VerifyJWT(ctx, token)
	assert.Error(t, err)

	client := identity.NewClient(fx.baseURL, identity.WithVerifier(fx.verifier(t)))
	claims, err := client.VerifyJWT(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID())
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		category any
		message  string
	}{
		{status: http.StatusServiceUnavailable, category: goerrors.CategoryOperation, message: "identity provider unavailable"},
		{status: http.StatusNotFound, category: goerrors.CategoryNotFound, message: "identity route not found"},
		{status: http.StatusUnprocessableEntity, body: `{"message":"bad field"}`, category: goerrors.CategoryValidation, message: "bad field"},
		{status: http.StatusForbidden, category: goerrors.CategoryAuth, message: auth.ErrUnauthorized.Message},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := identity.NewClient(server.URL).Service("users").Create(context.Background(), map[string]any{})
			require.Error(t, err)

			var richErr *goerrors.Error
			require.ErrorAs(t, err, &richErr)
			assert.Equal(t, tt.category, richErr.Category)
			assert.Equal(t, tt.message, richErr.Message)
			assert.Equal(t, tt.status, richErr.Metadata["status"])
		})
	}
}

func TestClient_WithAuthPath(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":"tok","user":{"email":"a@example.com"}}`))
	}))
	defer server.Close()

	client := identity.NewClient(server.URL+"/", identity.WithAuthPath("/api/auth"))

	_, err := client.Authenticate(context.Background(), auth.AuthenticateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/api/auth", gotPath)
	assert.Empty(t, gotAuth)

	_, err = client.Authenticate(context.Background(), auth.AuthenticateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestClient_LoginURL(t *testing.T) {
	assert.Equal(t, "http://id.example.com/authentication", identity.NewClient("http://id.example.com/").LoginURL())
	assert.Equal(t, "http://id.example.com/auth/login",
		identity.NewClient("http://id.example.com", identity.WithAuthPath("/auth/login")).LoginURL())
	assert.Empty(t, identity.NewClient("").LoginURL())
}

func TestController_EndToEnd(t *testing.T) {
	ctx := context.Background()
	fx := startIdentity(t)
	fx.register(t, "jane@example.com", "secret1")

	client := identity.NewClient(fx.baseURL, identity.WithVerifier(fx.verifier(t)))
	store := auth.NewMemoryStore(nil)
	// no transport option, login goes through the client's URL and cookie jar
	ctrl := auth.NewController(auth.InitialProps{Store: store}, client,
		auth.WithLogger(auth.NewZapLogger(nil)),
	)

	assert.Equal(t, auth.StateAnonymous, ctrl.Mount(ctx))

	_, err := ctrl.Login(ctx, auth.Credentials{Email: "jane@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NotNil(t, ctrl.User())
	assert.Equal(t, "jane@example.com", ctrl.User().Email)
	assert.Equal(t, auth.StateVerified, ctrl.State())

	require.NoError(t, <-ctrl.Logout(ctx, nil, nil))
	assert.Nil(t, store.Get(auth.UserKey))

	result, err := ctrl.Signup(ctx, auth.SignupRequest{Email: "new@example.com", Password: "secret2"})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.True(t, result.LoggedIn)
	assert.NoError(t, result.Err)
	assert.Equal(t, "new@example.com", ctrl.User().Email)
}
