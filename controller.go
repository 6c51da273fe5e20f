package auth

import (
	"context"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-router"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-auth-view"

// InitialProps is what the controller is built from: the server resolved
// user and token plus the session store handle.
type InitialProps struct {
	Store SessionStore
	User  *User
	Token string
}

// PropsFromView extracts InitialProps from the map produced by LoadInitialProps
func PropsFromView(store SessionStore, props router.ViewContext) InitialProps {
	ip := InitialProps{Store: store}
	if props == nil {
		return ip
	}
	ip.User = UserFromValue(props["user"])
	if token, ok := props["token"].(string); ok {
		ip.Token = token
	}
	return ip
}

// LoginFunc, LogoutFunc and SignupFunc are the callables injected into page props
type (
	LoginFunc  func(ctx context.Context, creds Credentials) (string, error)
	LogoutFunc func(ctx context.Context, ev Event, cb func()) <-chan error
	SignupFunc func(ctx context.Context, req SignupRequest) (SignupResult, error)
)

// Controller owns the authenticated user of one mounted page. It reconciles
// provisional state, the shared session store and the identity provider.
type Controller struct {
	props     InitialProps
	store     SessionStore
	client    IdentityClient
	transport CredentialTransport
	logger    Logger
	sink      ActivitySink
	tracer    trace.Tracer

	verifyTimeout       time.Duration
	usersService        string
	loginURL            string
	clearStoreOnFailure bool
	now                 func() time.Time

	mountOnce  sync.Once
	mu         sync.Mutex
	machine    *sessionMachine
	generation uint64
	listeners  []func(user *User, state SessionState)
}

// ControllerOption customizes a Controller
type ControllerOption func(*Controller)

// WithLogger sets the controller logger
func WithLogger(logger Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithActivitySink sets the ActivitySink used to publish session events
func WithActivitySink(sink ActivitySink) ControllerOption {
	return func(c *Controller) {
		c.sink = normalizeActivitySink(sink)
	}
}

// WithCredentialTransport sets the transport used by Login
func WithCredentialTransport(t CredentialTransport) ControllerOption {
	return func(c *Controller) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithVerifyTimeout bounds each Update round-trip
func WithVerifyTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.verifyTimeout = d
		}
	}
}

// WithUsersService names the service used by Signup
func WithUsersService(name string) ControllerOption {
	return func(c *Controller) {
		if name != "" {
			c.usersService = name
		}
	}
}

// WithClearStoreOnFailure also clears the store user when verification fails
func WithClearStoreOnFailure(clear bool) ControllerOption {
	return func(c *Controller) {
		c.clearStoreOnFailure = clear
	}
}

// WithTracer overrides the tracer, defaults to the global provider
func WithTracer(tracer trace.Tracer) ControllerOption {
	return func(c *Controller) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithConfig applies timeout, service name, store policy and, when a base
// URL is set, the login URL used by the default credential transport.
func WithConfig(cfg Config) ControllerOption {
	return func(c *Controller) {
		if cfg == nil {
			return
		}
		if d := cfg.GetVerifyTimeout(); d > 0 {
			c.verifyTimeout = d
		}
		if name := cfg.GetUsersService(); name != "" {
			c.usersService = name
		}
		c.clearStoreOnFailure = cfg.GetClearStoreOnFailure()
		if cfg.GetBaseURL() != "" {
			c.loginURL = joinURL(cfg.GetBaseURL(), cfg.GetLoginPath())
		}
	}
}

// OnChange registers fn to run after every committed user change
func (c *Controller) OnChange(fn func(user *User, state SessionState)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// NewController seeds state from props.User, falling back to the store.
func NewController(props InitialProps, client IdentityClient, opts ...ControllerOption) *Controller {
	store := props.Store
	if store == nil {
		store = NewMemoryStore(nil)
	}

	seed := props.User
	if seed == nil {
		seed = UserFromValue(store.Get(UserKey))
	}

	c := &Controller{
		props:         props,
		store:         store,
		client:        client,
		logger:        defLogger{},
		sink:          noopActivitySink{},
		tracer:        otel.Tracer(tracerName),
		verifyTimeout: DefaultVerifyTimeout,
		usersService:  DefaultUsersService,
		now:           time.Now,
		machine:       newSessionMachine(seed),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.transport == nil {
		c.transport = defaultTransport(client, c.loginURL)
	}

	return c
}

// User returns the visible user, nil when anonymous
func (c *Controller) User() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.user
}

// State returns the current session state
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.state
}

// Store returns the session store backing the controller
func (c *Controller) Store() SessionStore {
	return c.store
}

// Mount runs the post-mount reconciliation with the SSR token. Only the
// first call performs an Update.
func (c *Controller) Mount(ctx context.Context) SessionState {
	ran := false
	var state SessionState
	c.mountOnce.Do(func() {
		ran = true
		if seeded := c.User(); seeded != nil {
			c.record(ctx, ActivityEvent{
				EventType: ActivityEventSessionSeeded,
				UserID:    seeded.ID.String(),
				FromState: StateUnverified,
				ToState:   StateUnverified,
			})
		}
		state = c.Update(ctx, c.props.Token)
	})
	if !ran {
		return c.State()
	}
	return state
}

// Update reconciles local state with a verified identity. Verification
// failures downgrade to anonymous and are never returned.
func (c *Controller) Update(ctx context.Context, token string) SessionState {
	ctx, span := c.tracer.Start(ctx, "auth.session.update",
		trace.WithAttributes(attribute.Bool("auth.token_present", token != "")),
	)
	defer span.End()

	// nothing new to verify, the stored session is trusted as is
	if token == "" && UserFromValue(c.store.Get(UserKey)) != nil {
		span.SetAttributes(attribute.String("auth.session.outcome", "skipped"))
		return c.State()
	}

	if c.client == nil {
		c.logger.Warn("session update skipped, no identity client configured")
		return c.State()
	}

	opts := AuthenticateOptions{}
	if token != "" {
		opts = AuthenticateOptions{Strategy: StrategyJWT, AccessToken: token}
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	from := c.machine.state
	if err := c.machine.transition(StateVerifying, nil); err != nil {
		c.logger.Error("session update could not enter verifying: %v", err)
	}
	c.mu.Unlock()

	var version uint64
	versioned, isVersioned := c.store.(VersionedStore)
	if isVersioned {
		version = versioned.Version(UserKey)
	}

	vctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	user, err := c.verify(vctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
		return c.reject(ctx, gen, from, err)
	}

	span.SetAttributes(attribute.String("auth.session.outcome", "verified"))
	return c.commit(ctx, gen, from, user, versioned, version)
}

// verify is the two-phase round-trip: authenticate, then verify the token
// the provider returned. Nothing is exposed until both succeed.
func (c *Controller) verify(ctx context.Context, opts AuthenticateOptions) (*User, error) {
	result, err := c.client.Authenticate(ctx, opts)
	if err != nil {
		return nil, err
	}
	if result == nil || result.AccessToken == "" {
		return nil, ErrInvalidIdentityResult
	}

	if _, err := c.client.VerifyJWT(ctx, result.AccessToken); err != nil {
		return nil, err
	}

	if result.User == nil {
		return nil, ErrInvalidIdentityResult.Clone().WithMetadata(map[string]any{
			"reason": "missing user",
		})
	}

	return result.User, nil
}

func (c *Controller) commit(ctx context.Context, gen uint64, from SessionState, user *User, versioned VersionedStore, version uint64) SessionState {
	c.mu.Lock()
	if gen != c.generation {
		state, current := c.machine.state, c.generation
		c.mu.Unlock()
		c.logger.Debug("session verification superseded, generation %d current %d", gen, current)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventSessionSuperseded,
			UserID:    user.ID.String(),
			FromState: from,
			ToState:   state,
		})
		return state
	}

	// the store is only written when the machine will accept the result
	if !c.machine.canTransition(c.machine.state, StateVerified) {
		state := c.machine.state
		c.mu.Unlock()
		c.logger.Warn("session commit dropped, state %s cannot become verified", state)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventSessionSuperseded,
			UserID:    user.ID.String(),
			FromState: from,
			ToState:   state,
		})
		return state
	}

	if versioned != nil && !versioned.CompareAndSet(UserKey, user, version) {
		// another writer touched the store first, it wins
		stored := UserFromValue(versioned.Get(UserKey))
		if stored != nil {
			_ = c.machine.transition(StateVerified, stored)
		} else {
			_ = c.machine.transition(StateAnonymous, nil)
		}
		state, current, listeners := c.snapshotLocked()
		c.mu.Unlock()
		c.logger.Info("session store changed during verification, adopting stored value")
		c.notify(listeners, current, state)
		return state
	}

	if versioned == nil {
		c.store.Set(UserKey, user)
	}

	if err := c.machine.transition(StateVerified, user); err != nil {
		c.logger.Error("session commit rejected: %v", err)
	}
	state, current, listeners := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(listeners, current, state)
	c.record(ctx, ActivityEvent{
		EventType: ActivityEventSessionVerified,
		UserID:    user.ID.String(),
		FromState: from,
		ToState:   state,
	})
	return state
}

func (c *Controller) reject(ctx context.Context, gen uint64, from SessionState, cause error) SessionState {
	c.mu.Lock()
	if gen != c.generation {
		state := c.machine.state
		c.mu.Unlock()
		return state
	}

	if err := c.machine.transition(StateAnonymous, nil); err != nil {
		c.logger.Error("session reject transition: %v", err)
	}
	if c.clearStoreOnFailure {
		c.store.Set(UserKey, nil)
	}
	state, current, listeners := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("session verification failed: %v", cause)
	c.notify(listeners, current, state)
	c.record(ctx, ActivityEvent{
		EventType: ActivityEventSessionRejected,
		FromState: from,
		ToState:   state,
		Metadata: map[string]any{
			"text_code": ErrVerificationFailed.TextCode,
			"error":     cause.Error(),
		},
	})
	return state
}

// Login posts credentials, runs Update with the returned token and resolves
// with the raw token. Observe the user through User or OnChange.
func (c *Controller) Login(ctx context.Context, creds Credentials) (string, error) {
	token, err := c.transport.Login(ctx, creds)
	if err != nil {
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Metadata: map[string]any{
				"email": creds.Email,
				"error": err.Error(),
			},
		})
		return "", err
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Metadata: map[string]any{
			"email": creds.Email,
		},
	})

	c.Update(ctx, token)
	return token, nil
}

// Logout clears the session locally right away, then logs out remotely in
// the background. The returned channel yields the remote outcome; a remote
// failure never restores the local session.
func (c *Controller) Logout(ctx context.Context, ev Event, cb func()) <-chan error {
	if ev != nil {
		ev.PreventDefault()
	}

	c.mu.Lock()
	c.generation++
	from := c.machine.state
	var userID string
	if c.machine.user != nil {
		userID = c.machine.user.ID.String()
	}
	c.store.Set(UserKey, nil)
	_ = c.machine.transition(StateAnonymous, nil)
	state, current, listeners := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(listeners, current, state)
	if cb != nil {
		cb()
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		UserID:    userID,
		FromState: from,
		ToState:   state,
	})

	done := make(chan error, 1)
	if c.client == nil {
		done <- nil
		close(done)
		return done
	}

	// the local clear already happened, the remote call outlives the caller
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.verifyTimeout)
	go func() {
		defer close(done)
		defer cancel()
		err := c.client.Logout(rctx)
		if err != nil {
			c.logger.Warn("remote logout failed: %v", err)
			c.record(ctx, ActivityEvent{
				EventType: ActivityEventRemoteLogoutFailure,
				UserID:    userID,
				Metadata: map[string]any{
					"error": err.Error(),
				},
			})
		}
		done <- err
	}()

	return done
}

// Signup validates email and password, creates the user and tries to log in.
// Only validation produces an error; everything after is reported in the result.
func (c *Controller) Signup(ctx context.Context, req SignupRequest) (SignupResult, error) {
	if err := validateSignup(req); err != nil {
		return SignupResult{}, err
	}

	result := SignupResult{}
	if c.client == nil {
		result.Err = ErrInvalidIdentityResult
		return result, nil
	}

	record, err := c.client.Service(c.usersService).Create(ctx, req.Payload())
	if err != nil {
		c.logger.Info("signup create user failed: %v", err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventSignupFailure,
			Metadata: map[string]any{
				"email": req.Email,
				"stage": "create",
				"error": err.Error(),
			},
		})
		result.Err = err
		return result, nil
	}

	result.Created = true
	result.Record = record
	c.record(ctx, ActivityEvent{
		EventType: ActivityEventSignupCreated,
		Metadata: map[string]any{
			"email": req.Email,
		},
	})

	token, err := c.Login(ctx, Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		c.logger.Info("signup auto login failed: %v", err)
		result.Err = err
		return result, nil
	}

	result.LoggedIn = true
	result.Token = token
	return result, nil
}

// Props returns a copy of base with user, login, logout and signup injected
func (c *Controller) Props(base router.ViewContext) router.ViewContext {
	out := router.ViewContext{}
	for k, v := range base {
		out[k] = v
	}
	out["user"] = c.User()
	out["login"] = LoginFunc(c.Login)
	out["logout"] = LogoutFunc(c.Logout)
	out["signup"] = SignupFunc(c.Signup)
	return out
}

func (c *Controller) snapshotLocked() (SessionState, *User, []func(*User, SessionState)) {
	listeners := make([]func(*User, SessionState), len(c.listeners))
	copy(listeners, c.listeners)
	return c.machine.state, c.machine.user, listeners
}

func (c *Controller) notify(listeners []func(*User, SessionState), user *User, state SessionState) {
	for _, fn := range listeners {
		fn(user, state)
	}
}

func (c *Controller) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = c.now()
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	sink := normalizeActivitySink(c.sink)
	if err := sink.Record(ctx, event); err != nil {
		c.logger.Warn("activity sink record error: %v", err)
	}
}

func validateSignup(req SignupRequest) error {
	err := validation.Errors{
		"email":    validation.Validate(req.Email, validation.Required),
		"password": validation.Validate(req.Password, validation.Required),
	}.Filter()
	if err == nil {
		return nil
	}
	return ErrMissingCredentials.Clone().WithMetadata(map[string]any{
		"fields": err.Error(),
	})
}
