// Package auth derives and checks the Authorization header used on the
// websocket upgrade.
package auth

import (
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"
)

var (
	ErrUnauthorized  = errors.New("auth: unauthorized")
	ErrTokenRequired = errors.New("auth: token required")
	ErrMalformed     = errors.New("auth: malformed authorization header")
)

const tokenPrefix = "Token token="

// TokenHeader formats token as `Token token="<token>"`.
func TokenHeader(token string) string {
	return tokenPrefix + strconv.Quote(strings.TrimSpace(token))
}

// ParseTokenHeader is the inverse of TokenHeader.
func ParseTokenHeader(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrTokenRequired
	}
	if !strings.HasPrefix(header, tokenPrefix) {
		return "", ErrMalformed
	}
	token, err := strconv.Unquote(strings.TrimPrefix(header, tokenPrefix))
	if err != nil {
		return "", ErrMalformed
	}
	if token == "" {
		return "", ErrTokenRequired
	}
	return token, nil
}

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken is a simple validator for a single shared token.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// ValidateHeader parses an Authorization header and validates its token.
func ValidateHeader(v Validator, header string) error {
	token, err := ParseTokenHeader(header)
	if err != nil {
		return err
	}
	return v.Validate(token)
}
