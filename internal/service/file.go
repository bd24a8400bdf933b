package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"onshape-gateway/internal/auditlog"
	"onshape-gateway/internal/client"
	"onshape-gateway/internal/model"
)

// FileFetcher retrieves external assets (stylesheets, images) on behalf of
// the iframe, which cannot read them cross-origin itself.
type FileFetcher struct {
	client *client.UpstreamClient
	logger *slog.Logger
	audit  *auditlog.Sink
}

// NewFileFetcher creates a FileFetcher.
func NewFileFetcher(c *client.UpstreamClient, logger *slog.Logger, audit *auditlog.Sink) *FileFetcher {
	return &FileFetcher{
		client: c,
		logger: logger.With("component", "file_fetcher"),
		audit:  audit,
	}
}

// Fetch validates the url parameter and relays the target's status,
// content type and raw body. Validation always happens before any network
// I/O.
func (f *FileFetcher) Fetch(ctx context.Context, req *model.Request) (*model.Response, error) {
	audit := f.audit.Open("getfile")
	defer audit.Close()

	audit.Info("getfile request", "method", req.Method)

	target, err := ValidateFetchURL(req.Param("url"))
	if err != nil {
		audit.Warn("rejected url", "err", err)
		return nil, err
	}

	resp, err := f.client.Send(ctx, req.Method, target.String(), filterFetchHeaders(req.Header), nil)
	if err != nil {
		audit.Error("fetch failed", "url", target.String(), "err", err)
		return nil, fmt.Errorf("fetch %s: %w", target.Redacted(), err)
	}

	out := model.NewResponse(resp.StatusCode, resp.Body)
	copyContentType(out.Header, resp.Header)
	out.Header.Set("Access-Control-Allow-Origin", "*")

	f.logger.Debug("fetched file",
		"url", target.Redacted(),
		"status", resp.StatusCode,
		"bytes", len(resp.Body),
	)
	audit.Info("fetched file", "status", resp.StatusCode)

	return out, nil
}

// ValidateFetchURL parses raw and accepts only absolute http or https URLs
// with a host. Everything else (file:, javascript:, ftp:, relative paths) is
// rejected.
func ValidateFetchURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrMissingURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: not absolute", ErrInvalidURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScheme, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: no host", ErrInvalidURL)
	}
	return u, nil
}
