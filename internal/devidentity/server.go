// Package devidentity is an in-process identity provider for tests and the
// demo host. It serves the authentication and users routes the session
// controller talks to. Accounts live in memory.
package devidentity

import (
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-view"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	// DefaultCookieName carries the token for the default strategy
	DefaultCookieName = "auth-jwt"
	// DefaultUsersPath is where signup payloads are posted
	DefaultUsersPath = "/users"
)

// ErrUnknownStrategy the authenticate payload named a strategy we do not serve
var ErrUnknownStrategy = goerrors.New("unknown authentication strategy", goerrors.CategoryBadInput).
	WithTextCode("UNKNOWN_STRATEGY").
	WithCode(goerrors.CodeBadRequest)

// ErrEmailTaken signup for an email that already has an account
var ErrEmailTaken = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode("EMAIL_TAKEN").
	WithCode(goerrors.CodeConflict)

// ErrRevokedToken the token was logged out
var ErrRevokedToken = goerrors.New("token has been revoked", goerrors.CategoryAuth).
	WithTextCode("TOKEN_REVOKED").
	WithCode(goerrors.CodeUnauthorized)

type account struct {
	user         *auth.User
	passwordHash string
}

// Server is the dev identity provider
type Server struct {
	tokens     auth.TokenService
	logger     auth.Logger
	cookieName string
	cookieTTL  time.Duration
	loginPath  string
	usersPath  string
	hashCost   int
	now        func() time.Time

	decoyOnce sync.Once
	decoy     string

	mu      sync.RWMutex
	byEmail map[string]*account
	byID    map[uuid.UUID]*account
	revoked map[string]struct{}
}

// Option customizes a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger auth.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCookieName overrides the default strategy cookie
func WithCookieName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.cookieName = name
		}
	}
}

// WithHashCost sets the bcrypt cost, tests use bcrypt.MinCost
func WithHashCost(cost int) Option {
	return func(s *Server) {
		s.hashCost = cost
	}
}

// WithPaths overrides the login and users routes
func WithPaths(loginPath, usersPath string) Option {
	return func(s *Server) {
		if loginPath != "" {
			s.loginPath = loginPath
		}
		if usersPath != "" {
			s.usersPath = usersPath
		}
	}
}

// WithClock overrides the time source used for logged in timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a server issuing tokens with tokens
func New(tokens auth.TokenService, opts ...Option) *Server {
	s := &Server{
		tokens:     tokens,
		logger:     auth.NewZapLogger(nil),
		cookieName: DefaultCookieName,
		cookieTTL:  24 * time.Hour,
		loginPath:  auth.DefaultLoginPath,
		usersPath:  DefaultUsersPath,
		now:        time.Now,
		byEmail:    map[string]*account{},
		byID:       map[uuid.UUID]*account{},
		revoked:    map[string]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// App builds the fiber app serving the identity routes
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.Mount(app)
	return app
}

// Mount registers the identity routes on r
func (s *Server) Mount(r fiber.Router) {
	r.Post(s.loginPath, s.Authenticate)
	r.Delete(s.loginPath, s.Logout)
	r.Post(s.usersPath, s.CreateUser)
}

// Register creates an account, it is what the users route calls
func (s *Server) Register(email, password string, extra map[string]any) (*auth.User, error) {
	email = normalizeEmail(email)

	hash, err := HashPassword(password, s.hashCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return nil, ErrEmailTaken.Clone().WithMetadata(map[string]any{"email": email})
	}

	now := s.now()
	user := &auth.User{
		ID:        uuid.New(),
		Role:      "member",
		Email:     email,
		Username:  stringValue(extra, "username"),
		FirstName: stringValue(extra, "first_name"),
		LastName:  stringValue(extra, "last_name"),
		CreatedAt: &now,
	}

	acc := &account{user: user, passwordHash: hash}
	s.byEmail[email] = acc
	s.byID[user.ID] = acc

	s.logger.Info("registered user %s", user.ID)
	out := *user
	return &out, nil
}

// authenticatePayload is accepted as form or JSON
type authenticatePayload struct {
	Strategy    string `form:"strategy" json:"strategy"`
	Email       string `form:"email" json:"email"`
	Password    string `form:"password" json:"password"`
	AccessToken string `form:"accessToken" json:"accessToken"`
}

// Validate will validate the payload
func (p authenticatePayload) Validate() error {
	if p.Strategy != auth.StrategyLocal {
		return nil
	}
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

type authenticateResponse struct {
	AccessToken string     `json:"accessToken"`
	User        *auth.User `json:"user"`
}

// Authenticate handles POST on the login route
func (s *Server) Authenticate(c *fiber.Ctx) error {
	payload := new(authenticatePayload)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(payload); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse authentication payload").
				WithCode(goerrors.CodeBadRequest)
		}
	}

	if verr := goerrors.ValidateWithOzzo(payload.Validate, "invalid authentication payload"); verr != nil {
		return verr.WithCode(goerrors.CodeBadRequest)
	}

	var (
		acc   *account
		token string
		err   error
	)

	switch payload.Strategy {
	case auth.StrategyLocal:
		acc, err = s.local(payload.Email, payload.Password)
		if err == nil {
			token, err = s.issue(c, acc)
		}
	case auth.StrategyJWT:
		token = payload.AccessToken
		acc, err = s.fromToken(token)
	case "":
		token = c.Cookies(s.cookieName)
		acc, err = s.fromToken(token)
	default:
		return ErrUnknownStrategy.Clone().WithMetadata(map[string]any{"strategy": payload.Strategy})
	}

	if err != nil {
		s.logger.Debug("authenticate %q rejected: %v", payload.Strategy, err)
		return err
	}

	return c.JSON(authenticateResponse{
		AccessToken: token,
		User:        s.snapshot(acc),
	})
}

// Logout handles DELETE on the login route. The presented token is revoked
// and the cookie cleared.
func (s *Server) Logout(c *fiber.Ctx) error {
	token := bearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		token = c.Cookies(s.cookieName)
	}

	if token != "" {
		s.mu.Lock()
		s.revoked[token] = struct{}{}
		s.mu.Unlock()
	}

	c.Cookie(&fiber.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return c.JSON(fiber.Map{})
}

// CreateUser handles POST on the users route
func (s *Server) CreateUser(c *fiber.Ctx) error {
	payload := map[string]any{}
	if err := c.BodyParser(&payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse user payload").
			WithCode(goerrors.CodeBadRequest)
	}

	email := stringValue(payload, "email")
	password := stringValue(payload, "password")

	verr := goerrors.ValidateWithOzzo(func() error {
		return validation.Errors{
			"email":    validation.Validate(email, validation.Required, is.Email),
			"password": validation.Validate(password, validation.Required, validation.Length(6, 100)),
		}.Filter()
	}, "invalid user payload")
	if verr != nil {
		return verr.WithCode(goerrors.CodeBadRequest)
	}

	user, err := s.Register(email, password, payload)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(user)
}

// snapshot copies the user under the read lock
func (s *Server) snapshot(acc *account) *auth.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := *acc.user
	return &out
}

func (s *Server) local(email, password string) (*account, error) {
	s.mu.RLock()
	acc, ok := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()

	if !ok {
		// same bcrypt work as a known email so timing does not reveal accounts
		_ = ComparePasswordAndHash(password, s.decoyHash())
		return nil, ErrMismatchedPassword
	}
	if err := ComparePasswordAndHash(password, acc.passwordHash); err != nil {
		return nil, err
	}
	return acc, nil
}

// decoyHash is a hash at the server cost that no password matches
func (s *Server) decoyHash() string {
	s.decoyOnce.Do(func() {
		hash, err := HashPassword(uuid.NewString(), s.hashCost)
		if err != nil {
			s.logger.Error("decoy password hash: %v", err)
			return
		}
		s.decoy = hash
	})
	return s.decoy
}

func (s *Server) issue(c *fiber.Ctx, acc *account) (string, error) {
	token, err := s.tokens.Generate(acc.user)
	if err != nil {
		return "", err
	}

	now := s.now()
	s.mu.Lock()
	acc.user.LoggedInAt = &now
	s.mu.Unlock()

	c.Cookie(&fiber.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(s.cookieTTL),
		HTTPOnly: true,
		Secure:   c.Protocol() == "https",
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return token, nil
}

func (s *Server) fromToken(token string) (*account, error) {
	if token == "" {
		return nil, auth.ErrUnauthorized
	}

	s.mu.RLock()
	_, revoked := s.revoked[token]
	s.mu.RUnlock()
	if revoked {
		return nil, ErrRevokedToken
	}

	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, auth.ErrTokenMalformed
	}

	s.mu.RLock()
	acc, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, auth.ErrUnauthorized.Clone().WithMetadata(map[string]any{"reason": "unknown user"})
	}
	return acc, nil
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		var ferr *fiber.Error
		if goerrors.As(err, &ferr) {
			return c.Status(ferr.Code).JSON(fiber.Map{"message": ferr.Message})
		}
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "identity server error").
			WithCode(goerrors.CodeInternal)
	}

	status := richErr.Code
	if status == 0 {
		status = statusFor(richErr)
	}

	if status >= fiber.StatusInternalServerError {
		s.logger.Error("identity %s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(status).JSON(fiber.Map{
		"message":   richErr.Message,
		"text_code": richErr.TextCode,
	})
}

func statusFor(err *goerrors.Error) int {
	switch err.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return fiber.StatusBadRequest
	case goerrors.CategoryAuth:
		return fiber.StatusUnauthorized
	case goerrors.CategoryConflict:
		return fiber.StatusConflict
	case goerrors.CategoryNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
