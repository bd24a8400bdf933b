package service

import (
	"errors"
	"net/http"
)

// Client errors: the caller sent a missing or malformed parameter.
var (
	ErrMissingTarget         = errors.New("missing x-server header")
	ErrInvalidTarget         = errors.New("invalid x-server target")
	ErrTargetNotAllowed      = errors.New("x-server host is not allowed")
	ErrMissingURL            = errors.New("missing url")
	ErrInvalidURL            = errors.New("invalid url")
	ErrInvalidScheme         = errors.New("invalid url protocol")
	ErrMissingCode           = errors.New("missing code")
	ErrMissingRefreshToken   = errors.New("missing refresh token")
	ErrUnsupportedGrant      = errors.New("unsupported grant type")
	ErrMissingRedirectTarget = errors.New("missing redirectOnshapeUri")
	ErrMissingHost           = errors.New("missing host header")
	ErrMissingRedirectParams = errors.New("missing required parameters")
)

// ErrNotConfigured is returned when a handler needs OAuth settings that are
// not set. Handlers fail closed instead of calling out with blank credentials.
var ErrNotConfigured = errors.New("server configuration error")

// ErrInvalidTokenResponse is returned when the token endpoint answers with a
// body that is not JSON.
var ErrInvalidTokenResponse = errors.New("token endpoint returned a non-JSON response")

var clientErrors = []error{
	ErrMissingTarget,
	ErrInvalidTarget,
	ErrTargetNotAllowed,
	ErrMissingURL,
	ErrInvalidURL,
	ErrInvalidScheme,
	ErrMissingCode,
	ErrMissingRefreshToken,
	ErrUnsupportedGrant,
	ErrMissingRedirectTarget,
	ErrMissingHost,
	ErrMissingRedirectParams,
}

// Error classes reported by Kind.
const (
	KindClient   = "client"
	KindConfig   = "config"
	KindUpstream = "upstream"
)

// Kind classifies err. Anything that is not a known client or configuration
// error is treated as an upstream failure.
func Kind(err error) string {
	if errors.Is(err, ErrNotConfigured) {
		return KindConfig
	}
	if clientError(err) != nil {
		return KindClient
	}
	return KindUpstream
}

// StatusCode maps err to the HTTP status the gateway answers with.
func StatusCode(err error) int {
	switch Kind(err) {
	case KindClient:
		return http.StatusBadRequest
	case KindConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// PublicMessage returns the message safe to show the caller. Client and
// configuration errors collapse to their fixed sentinel text; upstream
// errors keep the full chain so the caller sees what failed.
func PublicMessage(err error) string {
	switch Kind(err) {
	case KindConfig:
		return ErrNotConfigured.Error()
	case KindClient:
		return clientError(err).Error()
	default:
		return err.Error()
	}
}

func clientError(err error) error {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}
