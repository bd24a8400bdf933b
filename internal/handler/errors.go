package handler

import (
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"onshape-gateway/internal/metrics"
	"onshape-gateway/internal/service"
)

// secretPattern matches OAuth credentials in URLs or form bodies embedded in
// error messages.
var secretPattern = regexp.MustCompile(`(?i)((?:client_secret|refresh_token|access_token|code)=)[^&\s"':,;)]+`)

// sanitizeError redacts credentials from error text before it is logged or
// returned to the caller.
func sanitizeError(text string) string {
	return secretPattern.ReplaceAllString(text, "${1}[REDACTED]")
}

// errorResponder maps service errors to HTTP responses for one route.
type errorResponder struct {
	route   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// record logs and counts err and returns the status and public message.
func (r errorResponder) record(c echo.Context, err error) (int, string) {
	kind := service.Kind(err)
	status := service.StatusCode(err)

	level := slog.LevelError
	if kind == service.KindClient {
		level = slog.LevelWarn
	}
	r.logger.Log(c.Request().Context(), level, "request failed",
		"err", sanitizeError(err.Error()),
		"kind", kind,
		"status", status,
		"path", c.Request().URL.Path,
	)
	r.metrics.RecordError(r.route, kind)

	c.Response().Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
	return status, sanitizeError(service.PublicMessage(err))
}

// text answers with the error message as a plain-text body.
func (r errorResponder) text(c echo.Context, err error) error {
	status, msg := r.record(c, err)
	return c.String(status, msg)
}

// json answers with a JSON error object. Upstream failures are reported as
// request_failed with the cause in message.
func (r errorResponder) json(c echo.Context, err error) error {
	status, msg := r.record(c, err)
	if status == http.StatusBadGateway {
		return c.JSON(status, map[string]string{
			"error":   "request_failed",
			"message": msg,
		})
	}
	return c.JSON(status, map[string]string{"error": msg})
}
