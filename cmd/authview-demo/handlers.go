package main

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-view"
	"github.com/goliatone/go-auth-view/activitymap"
	"github.com/goliatone/go-auth-view/identity"
	"github.com/goliatone/go-auth-view/store/bunstore"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/uptrace/bun"
)

const (
	sidCookie  = "sid"
	dataPrefix = "/_data"

	maxVisitors = 1024
	visitorTTL  = 30 * time.Minute
)

// homePage is the demo view wrapped with the session lifecycle
type homePage struct{}

func (homePage) Name() string { return "home" }

func (homePage) InitialProps(_ context.Context, rc *auth.RenderContext) (router.ViewContext, error) {
	greeting := "Welcome, stranger"
	if rc.User != nil {
		greeting = "Welcome back"
	}
	return router.ViewContext{
		"title":    "go-auth-view demo",
		"greeting": greeting,
		"path":     rc.Path,
	}, nil
}

// visitor is the per browser state: its own cookie jar and store namespace
type visitor struct {
	client *identity.Client
	store  *bunstore.Store
}

type handlers struct {
	cfg      *auth.ClientConfig
	base     *bunstore.Store
	verifier *identity.Verifier
	logger   auth.Logger
	debug    bool

	mu       sync.Mutex
	visitors *expirable.LRU[string, *visitor]
}

func newHandlers(cfg *auth.ClientConfig, db *bun.DB, verifier *identity.Verifier, logger auth.Logger, debug bool) *handlers {
	return &handlers{
		cfg:      cfg,
		base:     bunstore.New(db, "", bunstore.WithLogger(logger)),
		verifier: verifier,
		logger:   logger,
		debug:    debug,
		visitors: newVisitorCache(maxVisitors, visitorTTL),
	}
}

// newVisitorCache evicts idle visitors; their session values stay in the
// store and a returning sid gets a fresh client.
func newVisitorCache(size int, ttl time.Duration) *expirable.LRU[string, *visitor] {
	return expirable.NewLRU(size, func(_ string, v *visitor) {
		v.client.HTTPClient().CloseIdleConnections()
	}, ttl)
}

func (h *handlers) register(app *fiber.App) {
	app.Get("/", h.show)
	app.Get(dataPrefix+"/*", h.data)
	app.Post("/login", h.login)
	app.Post("/logout", h.logout)
	app.Post("/signup", h.signup)
}

func (h *handlers) visitor(c *fiber.Ctx) *visitor {
	sid := c.Cookies(sidCookie)
	if _, err := uuid.Parse(sid); err != nil {
		sid = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     sidCookie,
			Value:    sid,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if v, ok := h.visitors.Get(sid); ok {
		return v
	}

	v := &visitor{
		client: identity.NewClient(h.cfg.GetBaseURL(),
			identity.WithHTTPClient(identity.NewHTTPClient(h.cfg.GetVerifyTimeout())),
			identity.WithVerifier(h.verifier),
			identity.WithAuthPath(h.cfg.GetLoginPath()),
			identity.WithLogger(h.logger),
		),
		store: h.base.WithNamespace(sid),
	}
	h.visitors.Add(sid, v)
	return v
}

func (h *handlers) page(v *visitor) *auth.AuthPage {
	opts := []auth.AuthPageOption{
		auth.WithControllerOptions(h.controllerOptions(v)...),
	}
	if h.debug {
		opts = append(opts, auth.WithPageDebug(h.logger))
	}
	return auth.WithAuth(homePage{}, v.client, opts...)
}

func (h *handlers) controllerOptions(v *visitor) []auth.ControllerOption {
	return []auth.ControllerOption{
		auth.WithConfig(h.cfg),
		auth.WithLogger(h.logger),
		auth.WithActivitySink(activitymap.Sink(func(n activitymap.Normalized) {
			h.logger.Info("activity %s actor=%s %s", n.Verb, n.ActorID, print.MaybePrettyJSON(n.Metadata))
		}, activitymap.WithDefaultChannel("authview-demo"))),
	}
}

func (h *handlers) renderContext(c *fiber.Ctx, v *visitor) *auth.RenderContext {
	profile := auth.UserFromValue(v.store.Get(auth.UserKey))
	query := map[string][]string{}
	for k, val := range c.Queries() {
		query[k] = []string{val}
	}
	return &auth.RenderContext{
		Store: v.store,
		Session: &auth.ClientSession{
			User: auth.SessionUser{
				Profile:       profile,
				Authenticated: profile != nil,
				Token:         v.client.Token(),
			},
		},
		Query: query,
		Path:  c.Path(),
	}
}

func (h *handlers) resolve(c *fiber.Ctx) (router.ViewContext, *auth.Controller, error) {
	v := h.visitor(c)
	return h.page(v).Render(c.UserContext(), h.renderContext(c, v))
}

func (h *handlers) show(c *fiber.Ctx) error {
	props, ctrl, err := h.resolve(c)
	if err != nil {
		return err
	}
	return c.Render("home", viewData(props, ctrl, c.Query("error")))
}

// data serves the same props as the page, minus the callables
func (h *handlers) data(c *fiber.Ctx) error {
	props, ctrl, err := h.resolve(c)
	if err != nil {
		return err
	}
	out := fiber.Map{"state": ctrl.State().String()}
	for k, val := range props {
		switch val.(type) {
		case auth.LoginFunc, auth.LogoutFunc, auth.SignupFunc:
			continue
		}
		out[k] = val
	}
	return c.JSON(out)
}

func (h *handlers) controller(c *fiber.Ctx) *auth.Controller {
	v := h.visitor(c)
	props, err := auth.LoadInitialProps(c.UserContext(), h.renderContext(c, v), nil)
	if err != nil {
		props = router.ViewContext{}
	}
	return h.page(v).NewController(props, v.store)
}

func (h *handlers) login(c *fiber.Ctx) error {
	creds := auth.Credentials{}
	if err := c.BodyParser(&creds); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "failed to parse login form")
	}

	if _, err := h.controller(c).Login(c.UserContext(), creds); err != nil {
		h.logger.Info("login failed for %s: %v", creds.Email, err)
		return c.Redirect("/?error="+errorCode(err), fiber.StatusSeeOther)
	}
	return c.Redirect("/", fiber.StatusSeeOther)
}

func (h *handlers) logout(c *fiber.Ctx) error {
	ctrl := h.controller(c)
	done := ctrl.Logout(c.UserContext(), nil, nil)
	go func() {
		if err := <-done; err != nil {
			h.logger.Warn("remote logout: %v", err)
		}
	}()
	return c.Redirect("/", fiber.StatusSeeOther)
}

func (h *handlers) signup(c *fiber.Ctx) error {
	form := struct {
		Email     string `form:"email"`
		Password  string `form:"password"`
		FirstName string `form:"first_name"`
	}{}
	if err := c.BodyParser(&form); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "failed to parse signup form")
	}

	res, err := h.controller(c).Signup(c.UserContext(), auth.SignupRequest{
		Email:    form.Email,
		Password: form.Password,
		Extra:    map[string]any{"first_name": form.FirstName},
	})
	if err != nil {
		return c.Redirect("/?error="+errorCode(err), fiber.StatusSeeOther)
	}
	if res.Err != nil {
		h.logger.Info("signup incomplete for %s: created=%t %v", form.Email, res.Created, res.Err)
		return c.Redirect("/?error="+errorCode(res.Err), fiber.StatusSeeOther)
	}
	return c.Redirect("/", fiber.StatusSeeOther)
}

func viewData(props router.ViewContext, ctrl *auth.Controller, errCode string) fiber.Map {
	out := fiber.Map{}
	for k, v := range props {
		out[k] = v
	}
	out["state"] = ctrl.State().String()
	out["error"] = errCode
	return out
}

func errorCode(err error) string {
	switch {
	case auth.IsUnauthorized(err):
		return "unauthorized"
	case auth.IsValidationError(err):
		return "invalid"
	default:
		return "failed"
	}
}
