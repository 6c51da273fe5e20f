package auth

// TokenValidator checks a raw token and returns its claims
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (AuthClaims, error)

// Validate satisfies the TokenValidator interface.
func (f TokenValidatorFunc) Validate(tokenString string) (AuthClaims, error) {
	if f == nil {
		return nil, ErrTokenMalformed
	}
	return f(tokenString)
}

// ValidatorChain tries each key source in order. A malformed result (wrong
// key, unknown kid, bad signature) moves on to the next validator; any other
// failure, such as an expired token, stops the chain.
type ValidatorChain struct {
	validators []TokenValidator
}

// NewValidatorChain drops nil validators
func NewValidatorChain(validators ...TokenValidator) *ValidatorChain {
	chain := &ValidatorChain{}
	for _, v := range validators {
		if v != nil {
			chain.validators = append(chain.validators, v)
		}
	}
	return chain
}

// Len returns the number of validators in the chain
func (c *ValidatorChain) Len() int {
	return len(c.validators)
}

// Validate satisfies the TokenValidator interface.
func (c *ValidatorChain) Validate(tokenString string) (AuthClaims, error) {
	err := error(ErrTokenMalformed)
	for _, v := range c.validators {
		claims, verr := v.Validate(tokenString)
		switch {
		case verr == nil:
			return claims, nil
		case IsMalformedError(verr):
			err = verr
		default:
			return nil, verr
		}
	}
	return nil, err
}
