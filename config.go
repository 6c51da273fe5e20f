package auth

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultLoginPath     = "/authentication"
	DefaultUsersService  = "users"
	DefaultVerifyTimeout = 10 * time.Second
	envPrefix            = "AUTHVIEW_"
)

// Config holds controller options
type Config interface {
	GetBaseURL() string
	GetLoginPath() string
	GetUsersService() string
	GetVerifyTimeout() time.Duration
	GetJWTSecret() string
	GetJWKSURL() string
	GetIssuer() string
	GetAudience() []string
	GetClearStoreOnFailure() bool
}

// ClientConfig is the environment backed Config
type ClientConfig struct {
	BaseURL             string        `env:"BASE_URL" envDefault:"http://localhost:3030"`
	LoginPath           string        `env:"LOGIN_PATH" envDefault:"/authentication"`
	UsersService        string        `env:"USERS_SERVICE" envDefault:"users"`
	VerifyTimeout       time.Duration `env:"VERIFY_TIMEOUT" envDefault:"10s"`
	JWTSecret           string        `env:"JWT_SECRET"`
	JWKSURL             string        `env:"JWKS_URL"`
	Issuer              string        `env:"ISSUER"`
	Audience            []string      `env:"AUDIENCE" envSeparator:","`
	StoreDSN            string        `env:"STORE_DSN" envDefault:"file:authview.db?cache=shared"`
	ClearStoreOnFailure bool          `env:"CLEAR_STORE_ON_FAILURE"`
}

var _ Config = (*ClientConfig)(nil)

// LoadConfig reads AUTHVIEW_* variables from the environment
func LoadConfig() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoginURL joins the base URL and the login path
func (c *ClientConfig) LoginURL() string {
	return joinURL(c.GetBaseURL(), c.GetLoginPath())
}

func (c *ClientConfig) GetBaseURL() string {
	return c.BaseURL
}

func (c *ClientConfig) GetLoginPath() string {
	if c.LoginPath == "" {
		return DefaultLoginPath
	}
	return c.LoginPath
}

func (c *ClientConfig) GetUsersService() string {
	if c.UsersService == "" {
		return DefaultUsersService
	}
	return c.UsersService
}

func (c *ClientConfig) GetVerifyTimeout() time.Duration {
	if c.VerifyTimeout <= 0 {
		return DefaultVerifyTimeout
	}
	return c.VerifyTimeout
}

func (c *ClientConfig) GetJWTSecret() string {
	return c.JWTSecret
}

func (c *ClientConfig) GetJWKSURL() string {
	return c.JWKSURL
}

func (c *ClientConfig) GetIssuer() string {
	return c.Issuer
}

func (c *ClientConfig) GetAudience() []string {
	return c.Audience
}

func (c *ClientConfig) GetClearStoreOnFailure() bool {
	return c.ClearStoreOnFailure
}
