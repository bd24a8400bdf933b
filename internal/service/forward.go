// Package service implements the gateway operations on runtime-agnostic
// request and response types.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"onshape-gateway/internal/auditlog"
	"onshape-gateway/internal/client"
	"onshape-gateway/internal/config"
	"onshape-gateway/internal/model"
)

// APIForwarder relays arbitrary REST calls to the CAD host's API server
// named by the x-server header.
type APIForwarder struct {
	client       *client.UpstreamClient
	logger       *slog.Logger
	audit        *auditlog.Sink
	allowedHosts map[string]bool
}

// NewAPIForwarder creates an APIForwarder. An empty upstream.allowed_hosts
// accepts any http(s) x-server target.
func NewAPIForwarder(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, audit *auditlog.Sink) *APIForwarder {
	var allowed map[string]bool
	if len(cfg.Upstream.AllowedHosts) > 0 {
		allowed = make(map[string]bool, len(cfg.Upstream.AllowedHosts))
		for _, h := range cfg.Upstream.AllowedHosts {
			allowed[strings.ToLower(h)] = true
		}
	}

	return &APIForwarder{
		client:       c,
		logger:       logger.With("component", "api_forwarder"),
		audit:        audit,
		allowedHosts: allowed,
	}
}

// Forward sends req to the API server and returns its status and body
// verbatim, decorated with the CORS and no-cache headers. A non-2xx upstream
// status is a successful forward, not an error.
func (f *APIForwarder) Forward(ctx context.Context, req *model.Request) (*model.Response, error) {
	audit := f.audit.Open("api")
	defer audit.Close()

	target, err := f.resolveTarget(req.Header.Get("X-Server"))
	if err != nil {
		audit.Warn("rejected target", "err", err)
		return nil, err
	}

	upstreamURL := buildUpstreamURL(target, req.Path, req.RawPath, req.RawQuery)
	header := filterAPIHeaders(req.Header)

	var body []byte
	if methodHasBody(req.Method) {
		body = req.Body
	}

	resp, err := f.client.Send(ctx, req.Method, upstreamURL, header, body)
	if err != nil {
		audit.Error("forward failed", "method", req.Method, "url", upstreamURL, "err", err)
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	out := model.NewResponse(resp.StatusCode, resp.Body)
	copyContentType(out.Header, resp.Header)
	setNoCacheHeaders(out.Header)

	attrs := []any{
		"method", req.Method,
		"url", upstreamURL,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"bytes", len(resp.Body),
	}
	f.logger.Info("api forward", attrs...)
	audit.Info("api forward", attrs...)

	return out, nil
}

// resolveTarget parses and vets the x-server value. Only absolute http(s)
// URLs are accepted, optionally restricted to the configured host allowlist.
func (f *APIForwarder) resolveTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingTarget
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: no host", ErrInvalidTarget)
	}
	if f.allowedHosts != nil && !f.allowedHosts[strings.ToLower(u.Hostname())] {
		return nil, fmt.Errorf("%w: %q", ErrTargetNotAllowed, u.Hostname())
	}
	return u, nil
}

// buildUpstreamURL appends the inbound path and raw query to the target
// server. Any path on the target acts as a prefix.
func buildUpstreamURL(target *url.URL, path, rawPath, rawQuery string) string {
	u := *target
	base := strings.TrimSuffix(target.Path, "/")
	u.Path = base + path
	u.RawPath = ""
	if rawPath != "" {
		u.RawPath = strings.TrimSuffix(target.EscapedPath(), "/") + rawPath
	}
	u.RawQuery = rawQuery
	u.Fragment = ""
	u.User = nil
	return u.String()
}

// methodHasBody reports whether a request body is forwarded for method.
func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
