package handler

import (
	"io"
	"log/slog"

	"github.com/labstack/echo/v4"

	"onshape-gateway/internal/model"
)

// newRequest converts the inbound echo request into a model.Request. The body
// is read in full; BodyLimit bounds its size. A read error is returned as-is
// so echo's error handler can map a *echo.HTTPError such as 413.
func newRequest(c echo.Context) (*model.Request, error) {
	r := c.Request()

	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}

	var scheme string
	if r.TLS != nil {
		scheme = "https"
	}

	return &model.Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
		Query:    r.URL.Query(),
		Header:   r.Header,
		Body:     body,
		Host:     r.Host,
		Scheme:   scheme,
	}, nil
}

// writeResponse copies resp onto the echo response. Headers replace any set
// by middleware so a header never ends up with two values.
func writeResponse(c echo.Context, resp *model.Response, logger *slog.Logger) error {
	h := c.Response().Header()
	for key, vals := range resp.Header {
		h[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)
	if len(resp.Body) == 0 {
		return nil
	}

	// The status is already sent; a failed write only truncates the body.
	if _, err := c.Response().Write(resp.Body); err != nil {
		logger.Error("writing response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
	return nil
}
