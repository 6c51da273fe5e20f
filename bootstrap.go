package auth

import (
	"context"
	"net/url"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// SessionUser is the authentication section of the request session
type SessionUser struct {
	Profile       *User
	Authenticated bool
	Token         string
}

// ClientSession is the request scoped session as seen by the server render
type ClientSession struct {
	User SessionUser
}

// RenderContext is handed to initial props loaders before the first render.
// Session may be nil for anonymous requests.
type RenderContext struct {
	Store   SessionStore
	Session *ClientSession
	Query   url.Values
	Path    string
	// User is the profile resolved by LoadInitialProps, set before the
	// wrapped page loader runs.
	User *User
}

// sessionUser never fails on a missing session
func (rc *RenderContext) sessionUser() SessionUser {
	if rc == nil || rc.Session == nil {
		return SessionUser{}
	}
	return rc.Session.User
}

// InitialPropsLoader is implemented by pages that compute their own props
// during the server render.
type InitialPropsLoader interface {
	InitialProps(ctx context.Context, rc *RenderContext) (router.ViewContext, error)
}

// LoadInitialProps pre-seeds the store with an authenticated profile and
// returns {user, token} merged with the page's own initial props. Page keys
// override ours. It blocks until the page loader returns.
func LoadInitialProps(ctx context.Context, rc *RenderContext, page any) (router.ViewContext, error) {
	su := rc.sessionUser()

	if su.Authenticated && su.Profile != nil && rc.Store != nil {
		rc.Store.Set(UserKey, su.Profile)
	}

	props := router.ViewContext{
		"user":  su.Profile,
		"token": su.Token,
	}

	loader, ok := page.(InitialPropsLoader)
	if !ok {
		return props, nil
	}

	pageCtx := &RenderContext{Session: nil, User: su.Profile}
	if rc != nil {
		clone := *rc
		clone.User = su.Profile
		pageCtx = &clone
	}

	pageProps, err := loader.InitialProps(ctx, pageCtx)
	if err != nil {
		return nil, err
	}

	for k, v := range pageProps {
		props[k] = v
	}

	return props, nil
}

// Page is a renderable view identified by its template name
type Page interface {
	Name() string
}

// AuthPage wraps a Page with the session lifecycle
type AuthPage struct {
	page   Page
	client IdentityClient
	opts   []ControllerOption
	logger Logger
	debug  bool
}

// AuthPageOption customizes an AuthPage
type AuthPageOption func(*AuthPage)

// WithControllerOptions forwards options to every controller built by the page
func WithControllerOptions(opts ...ControllerOption) AuthPageOption {
	return func(p *AuthPage) {
		p.opts = append(p.opts, opts...)
	}
}

// WithPageDebug dumps resolved props through the logger
func WithPageDebug(logger Logger) AuthPageOption {
	return func(p *AuthPage) {
		p.debug = true
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithAuth wraps page so it receives user, login, logout and signup props
func WithAuth(page Page, client IdentityClient, opts ...AuthPageOption) *AuthPage {
	p := &AuthPage{
		page:   page,
		client: client,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Name returns the wrapped page template name
func (p *AuthPage) Name() string {
	return p.page.Name()
}

// InitialProps implements InitialPropsLoader
func (p *AuthPage) InitialProps(ctx context.Context, rc *RenderContext) (router.ViewContext, error) {
	props, err := LoadInitialProps(ctx, rc, p.page)
	if err != nil {
		return nil, err
	}
	if p.debug {
		p.logger.Debug("initial props for %s: %s", p.page.Name(), print.MaybePrettyJSON(props))
	}
	return props, nil
}

// NewController builds the session controller for one render of the page
func (p *AuthPage) NewController(props router.ViewContext, store SessionStore) *Controller {
	return NewController(PropsFromView(store, props), p.client, p.opts...)
}

// Render resolves props, mounts a controller and returns the final props
// for the template engine along with the controller.
func (p *AuthPage) Render(ctx context.Context, rc *RenderContext) (router.ViewContext, *Controller, error) {
	props, err := p.InitialProps(ctx, rc)
	if err != nil {
		return nil, nil, err
	}

	var store SessionStore
	if rc != nil {
		store = rc.Store
	}

	ctrl := p.NewController(props, store)
	ctrl.Mount(ctx)

	return ctrl.Props(props), ctrl, nil
}
