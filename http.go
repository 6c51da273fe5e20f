package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

var _ CredentialTransport = (*HTTPCredentialTransport)(nil)

// HTTPCredentialTransport posts local strategy credentials to the
// authentication endpoint. Share the http.Client (and its cookie jar) with
// the identity client so the session cookie set on login is reused.
type HTTPCredentialTransport struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPCredentialTransport returns a transport posting to endpoint, which
// is the absolute URL of the authentication route.
func NewHTTPCredentialTransport(endpoint string, client *http.Client) *HTTPCredentialTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPCredentialTransport{
		endpoint:   endpoint,
		httpClient: client,
	}
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
}

// Login implements CredentialTransport. Any status >= 400 is Unauthorized,
// whatever the body says. Transport errors are returned unchanged.
func (t *HTTPCredentialTransport) Login(ctx context.Context, creds Credentials) (string, error) {
	if u, err := url.Parse(t.endpoint); err != nil || !u.IsAbs() || u.Host == "" {
		return "", ErrCredentialEndpoint.Clone().WithMetadata(map[string]any{
			"endpoint": t.endpoint,
		})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(encodeLocalStrategy(creds)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", ErrUnauthorized.Clone().WithMetadata(map[string]any{
			"status": resp.StatusCode,
		})
	}

	var body loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to decode authentication response")
	}

	return body.AccessToken, nil
}

// encodeLocalStrategy keeps the field order strategy, email, password
func encodeLocalStrategy(creds Credentials) string {
	return "strategy=" + StrategyLocal +
		"&email=" + url.QueryEscape(creds.Email) +
		"&password=" + url.QueryEscape(creds.Password)
}

// defaultTransport prefers the login URL of client, sharing its http.Client
// and cookie jar, then loginURL. Without either Login reports
// ErrCredentialEndpoint.
func defaultTransport(client IdentityClient, loginURL string) CredentialTransport {
	if ep, ok := client.(LoginEndpoint); ok && ep.LoginURL() != "" {
		return NewHTTPCredentialTransport(ep.LoginURL(), ep.HTTPClient())
	}
	if loginURL != "" {
		return NewHTTPCredentialTransport(loginURL, nil)
	}
	return NewHTTPCredentialTransport(DefaultLoginPath, nil)
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
