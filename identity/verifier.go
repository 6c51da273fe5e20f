package identity

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-auth-view"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"
)

var _ auth.TokenValidator = (*Verifier)(nil)

// SigningKey is a verification key selected by the token kid header
type SigningKey struct {
	JWTAlg string
	Key    any
}

// VerifierConfig selects how tokens are verified. Secret and SigningKeys are
// checked locally; JWKSURL keys are fetched and refreshed in the background.
// When several sources are set they are tried in order: secret, then keys.
type VerifierConfig struct {
	Secret          []byte
	SigningKeys     map[string]SigningKey
	JWKSURL         string
	Issuer          string
	Audience        []string
	RefreshInterval time.Duration
}

// Verifier checks access tokens returned by the identity provider
type Verifier struct {
	validator auth.TokenValidator
	jwks      *keyfunc.JWKS
	group     singleflight.Group
	logger    auth.Logger
	now       func() time.Time
}

// VerifierOption customizes a Verifier
type VerifierOption func(*Verifier)

// WithVerifierLogger sets the logger used for background refresh errors
func WithVerifierLogger(logger auth.Logger) VerifierOption {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithVerifierClock overrides the time used for exp and nbf checks
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier builds a Verifier. At least one key source is required.
func NewVerifier(cfg VerifierConfig, opts ...VerifierOption) (*Verifier, error) {
	v := &Verifier{
		logger: auth.NewZapLogger(nil),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	if len(cfg.Audience) > 0 {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience...))
	}

	var validators []auth.TokenValidator

	if len(cfg.Secret) > 0 {
		validators = append(validators, keyValidator{
			keyfunc: secretKeyfunc(cfg.Secret),
			opts:    slices.Concat(parserOpts, []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}),
		})
	}

	givenKeys := make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
	for kid, key := range cfg.SigningKeys {
		givenKeys[kid] = keyfunc.NewGivenCustom(key.Key, keyfunc.GivenKeyOptions{
			Algorithm: key.JWTAlg,
		})
	}

	switch {
	case cfg.JWKSURL != "":
		interval := cfg.RefreshInterval
		if interval <= 0 {
			interval = time.Hour
		}
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			GivenKeys: givenKeys,
			RefreshErrorHandler: func(err error) {
				v.logger.Warn("failed to refresh JWK set: %v", err)
			},
			RefreshInterval:   interval,
			RefreshRateLimit:  time.Minute * 5,
			RefreshTimeout:    time.Second * 10,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to load JWK set").
				WithMetadata(map[string]any{"url": cfg.JWKSURL})
		}
		v.jwks = jwks
		validators = append(validators, keyValidator{keyfunc: jwks.Keyfunc, opts: parserOpts})
	case len(givenKeys) > 0:
		validators = append(validators, keyValidator{keyfunc: keyfunc.NewGiven(givenKeys).Keyfunc, opts: parserOpts})
	}

	if len(validators) == 0 {
		return nil, goerrors.New("verifier requires a secret, signing keys or a JWKS URL", goerrors.CategoryBadInput)
	}

	v.validator = auth.NewValidatorChain(validators...)
	return v, nil
}

// NewVerifierFromConfig reads JWT secret, JWKS URL, issuer and audience from cfg
func NewVerifierFromConfig(cfg auth.Config, opts ...VerifierOption) (*Verifier, error) {
	return NewVerifier(VerifierConfig{
		Secret:   []byte(cfg.GetJWTSecret()),
		JWKSURL:  cfg.GetJWKSURL(),
		Issuer:   cfg.GetIssuer(),
		Audience: cfg.GetAudience(),
	}, opts...)
}

// Validate implements auth.TokenValidator
func (v *Verifier) Validate(token string) (auth.AuthClaims, error) {
	if token == "" {
		return nil, auth.ErrTokenMalformed
	}
	return v.validator.Validate(token)
}

// VerifyJWT validates token, concurrent calls for the same token share one
// verification.
func (v *Verifier) VerifyJWT(ctx context.Context, token string) (auth.AuthClaims, error) {
	ch := v.group.DoChan(token, func() (any, error) {
		return v.Validate(token)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(auth.AuthClaims), nil
	}
}

// Close stops the JWKS background refresh, if any
func (v *Verifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

type keyValidator struct {
	keyfunc jwt.Keyfunc
	opts    []jwt.ParserOption
}

func (k keyValidator) Validate(token string) (auth.AuthClaims, error) {
	claims := &auth.JWTClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, k.keyfunc, k.opts...)
	if err != nil {
		return nil, auth.NormalizeTokenError(err)
	}
	if !parsed.Valid {
		return nil, auth.ErrTokenMalformed
	}
	return claims, nil
}

func secretKeyfunc(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}
}
