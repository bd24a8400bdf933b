package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"onshape-gateway/internal/metrics"
	"onshape-gateway/internal/service"
)

// FileHandler serves /getfile.
type FileHandler struct {
	fetcher *service.FileFetcher
	logger  *slog.Logger
	errs    errorResponder
}

// NewFileHandler creates a FileHandler. The metrics parameter may be nil.
func NewFileHandler(f *service.FileFetcher, logger *slog.Logger, m *metrics.Metrics) *FileHandler {
	logger = logger.With("component", "file_handler")
	return &FileHandler{
		fetcher: f,
		logger:  logger,
		errs:    errorResponder{route: "/getfile", logger: logger, metrics: m},
	}
}

// Handle fetches the asset named by the url parameter.
func (h *FileHandler) Handle(c echo.Context) error {
	req, err := newRequest(c)
	if err != nil {
		return err
	}

	resp, err := h.fetcher.Fetch(c.Request().Context(), req)
	if err != nil {
		return h.errs.text(c, err)
	}
	return writeResponse(c, resp, h.logger)
}
