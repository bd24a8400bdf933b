package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"onshape-gateway/internal/metrics"
	"onshape-gateway/internal/service"
)

// APIHandler forwards /api/* calls to the CAD host's API server.
type APIHandler struct {
	forwarder *service.APIForwarder
	logger    *slog.Logger
	errs      errorResponder
}

// NewAPIHandler creates an APIHandler. The metrics parameter may be nil.
func NewAPIHandler(f *service.APIForwarder, logger *slog.Logger, m *metrics.Metrics) *APIHandler {
	logger = logger.With("component", "api_handler")
	return &APIHandler{
		forwarder: f,
		logger:    logger,
		errs:      errorResponder{route: "/api", logger: logger, metrics: m},
	}
}

// Handle relays the request to the server named by x-server.
func (h *APIHandler) Handle(c echo.Context) error {
	req, err := newRequest(c)
	if err != nil {
		return err
	}

	resp, err := h.forwarder.Forward(c.Request().Context(), req)
	if err != nil {
		return h.errs.text(c, err)
	}
	return writeResponse(c, resp, h.logger)
}
