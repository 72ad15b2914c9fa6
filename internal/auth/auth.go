// Package auth carries the bearer token the client presents on the
// websocket upgrade and the validators a server side checks it with.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

const bearerPrefix = "Bearer "

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one shared token.
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

// BearerHeader returns upgrade headers carrying token, or nil when token is
// empty.
func BearerHeader(token string) http.Header {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", bearerPrefix+token)
	return h
}

// TokenFromRequest extracts the bearer token from r, or "" when absent.
func TokenFromRequest(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// Check validates the request's bearer token. A nil validator accepts all.
func Check(v Validator, r *http.Request) error {
	if v == nil {
		return nil
	}
	return v.Validate(TokenFromRequest(r))
}
