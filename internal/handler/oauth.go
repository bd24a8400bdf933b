package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"onshape-gateway/internal/metrics"
	"onshape-gateway/internal/model"
	"onshape-gateway/internal/service"
)

// OAuthHandler serves the token exchange routes /oauth and /refresh.
type OAuthHandler struct {
	exchanger   *service.TokenExchanger
	logger      *slog.Logger
	exchangeErr errorResponder
	refreshErr  errorResponder
}

// NewOAuthHandler creates an OAuthHandler. The metrics parameter may be nil.
func NewOAuthHandler(e *service.TokenExchanger, logger *slog.Logger, m *metrics.Metrics) *OAuthHandler {
	logger = logger.With("component", "oauth_handler")
	return &OAuthHandler{
		exchanger:   e,
		logger:      logger,
		exchangeErr: errorResponder{route: "/oauth", logger: logger, metrics: m},
		refreshErr:  errorResponder{route: "/refresh", logger: logger, metrics: m},
	}
}

// Exchange trades an authorization code, or a refresh token when no code is
// given, for a token set.
func (h *OAuthHandler) Exchange(c echo.Context) error {
	return h.handle(c, h.exchangeErr, service.GrantFromRequest)
}

// Refresh trades a refresh token for a new token set.
func (h *OAuthHandler) Refresh(c echo.Context) error {
	return h.handle(c, h.refreshErr, service.RefreshGrantFromRequest)
}

func (h *OAuthHandler) handle(c echo.Context, errs errorResponder, grantFrom func(*model.Request) service.Grant) error {
	req, err := newRequest(c)
	if err != nil {
		return err
	}

	resp, err := h.exchanger.Exchange(c.Request().Context(), grantFrom(req))
	if err != nil {
		return errs.json(c, err)
	}
	return writeResponse(c, resp, h.logger)
}
