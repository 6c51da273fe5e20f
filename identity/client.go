// Package identity is the HTTP client for a REST identity provider exposing
// /authentication and generic service routes, plus the JWT verifier used to
// check the tokens it issues.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-view"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/net/publicsuffix"
)

var (
	_ auth.IdentityClient = (*Client)(nil)
	_ auth.LoginEndpoint  = (*Client)(nil)
)

// TokenVerifier verifies the tokens returned by Authenticate
type TokenVerifier interface {
	VerifyJWT(ctx context.Context, token string) (auth.AuthClaims, error)
}

// Client implements auth.IdentityClient over HTTP. The last token returned by
// Authenticate is kept and sent as bearer on later calls.
type Client struct {
	baseURL    string
	authPath   string
	httpClient *http.Client
	verifier   TokenVerifier
	logger     auth.Logger

	mu    sync.RWMutex
	token string
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient shares an http.Client, typically one built by NewHTTPClient
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithVerifier sets the verifier used by VerifyJWT
func WithVerifier(v TokenVerifier) Option {
	return func(c *Client) {
		if v != nil {
			c.verifier = v
		}
	}
}

// WithAuthPath overrides the authentication route, "/authentication" by default
func WithAuthPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.authPath = path
		}
	}
}

// WithLogger sets the client logger
func WithLogger(logger auth.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewHTTPClient returns an http.Client with a cookie jar so session cookies
// set by the provider are sent back on later requests.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = auth.DefaultVerifyTimeout
	}
	// cookiejar.New only fails on a nil PublicSuffixList implementation error
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{
		Jar:     jar,
		Timeout: timeout,
	}
}

// NewClient returns a client for the provider at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		authPath: auth.DefaultLoginPath,
		logger:   auth.NewZapLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(0)
	}
	return c
}

// HTTPClient returns the underlying http.Client so other transports can
// share its cookie jar.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// LoginURL is the absolute authentication route, empty without a base URL
func (c *Client) LoginURL() string {
	if c.baseURL == "" {
		return ""
	}
	return c.baseURL + "/" + strings.TrimLeft(c.authPath, "/")
}

// Token returns the last access token obtained from Authenticate
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Authenticate posts opts to the authentication route. Zero options let the
// provider fall back to its default strategy.
func (c *Client) Authenticate(ctx context.Context, opts auth.AuthenticateOptions) (*auth.AuthResult, error) {
	var payload any = struct{}{}
	if !opts.IsZero() {
		payload = opts
	}

	result := &auth.AuthResult{}
	if err := c.do(ctx, http.MethodPost, c.authPath, payload, result); err != nil {
		return nil, err
	}

	if result.AccessToken != "" {
		c.mu.Lock()
		c.token = result.AccessToken
		c.mu.Unlock()
	}
	return result, nil
}

// Logout removes the provider session and forgets the cached token
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodDelete, c.authPath, nil, nil)

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	return err
}

// VerifyJWT delegates to the configured verifier
func (c *Client) VerifyJWT(ctx context.Context, token string) (auth.AuthClaims, error) {
	if c.verifier == nil {
		return nil, goerrors.New("identity client has no token verifier", goerrors.CategoryInternal)
	}
	return c.verifier.VerifyJWT(ctx, token)
}

// Service returns the client for the named provider service
func (c *Client) Service(name string) auth.ServiceClient {
	return &serviceClient{client: c, path: "/" + strings.Trim(name, "/")}
}

type serviceClient struct {
	client *Client
	path   string
}

// Create posts payload and returns the decoded record
func (s *serviceClient) Create(ctx context.Context, payload any) (any, error) {
	record := map[string]any{}
	if err := s.client.do(ctx, http.MethodPost, s.path, payload, &record); err != nil {
		return nil, err
	}
	return record, nil
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to encode request payload")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build identity request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(method, path, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Error("identity %s %s decode error: %v", method, path, err)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode identity response")
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &eb)

	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}

	meta := map[string]any{
		"status": resp.StatusCode,
		"method": method,
		"path":   path,
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return auth.ErrUnauthorized.Clone().WithMetadata(meta)
	case http.StatusConflict:
		if msg == "" {
			msg = "identity record conflict"
		}
		return goerrors.New(msg, goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict).
			WithMetadata(meta)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if msg == "" {
			msg = "identity request rejected"
		}
		return goerrors.New(msg, goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(meta)
	case http.StatusNotFound:
		if msg == "" {
			msg = "identity route not found"
		}
		return goerrors.New(msg, goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithMetadata(meta)
	default:
		if msg == "" {
			msg = "identity provider unavailable"
		}
		return goerrors.New(msg, goerrors.CategoryOperation).
			WithTextCode(auth.TextCodeIdentityUnavailable).
			WithCode(resp.StatusCode).
			WithMetadata(meta)
	}
}
