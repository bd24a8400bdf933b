package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"onshape-gateway/internal/metrics"
	"onshape-gateway/internal/service"
)

// SignInHandler serves the browser redirects into the OAuth authorize
// endpoint.
type SignInHandler struct {
	signIn      *service.SignIn
	logger      *slog.Logger
	signInErr   errorResponder
	redirectErr errorResponder
}

// NewSignInHandler creates a SignInHandler. The metrics parameter may be nil.
func NewSignInHandler(s *service.SignIn, logger *slog.Logger, m *metrics.Metrics) *SignInHandler {
	logger = logger.With("component", "signin_handler")
	return &SignInHandler{
		signIn:      s,
		logger:      logger,
		signInErr:   errorResponder{route: "/oauthsignin", logger: logger, metrics: m},
		redirectErr: errorResponder{route: "/redirect", logger: logger, metrics: m},
	}
}

// SignIn handles /oauthsignin.
func (h *SignInHandler) SignIn(c echo.Context) error {
	req, err := newRequest(c)
	if err != nil {
		return err
	}

	resp, err := h.signIn.Redirect(req)
	if err != nil {
		return h.signInErr.text(c, err)
	}
	return writeResponse(c, resp, h.logger)
}

// AppRedirect handles /redirect.
func (h *SignInHandler) AppRedirect(c echo.Context) error {
	req, err := newRequest(c)
	if err != nil {
		return err
	}

	resp, err := h.signIn.AppRedirect(req)
	if err != nil {
		return h.redirectErr.text(c, err)
	}
	return writeResponse(c, resp, h.logger)
}
