package service

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"onshape-gateway/internal/auditlog"
	"onshape-gateway/internal/config"
	"onshape-gateway/internal/model"
)

// SignIn builds redirects into the CAD host's OAuth authorize endpoint.
type SignIn struct {
	oauth      oauth2.Config
	appBaseURL string
	appName    string
	logger     *slog.Logger
	audit      *auditlog.Sink
}

// NewSignIn creates a SignIn.
func NewSignIn(cfg *config.Config, logger *slog.Logger, audit *auditlog.Sink) *SignIn {
	return &SignIn{
		oauth:      oauthConfig(cfg),
		appBaseURL: strings.TrimSuffix(cfg.OAuth.AppBaseURL, "/"),
		appName:    cfg.OAuth.AppName,
		logger:     logger.With("component", "signin"),
		audit:      audit,
	}
}

// Redirect sends the browser to the authorize endpoint with a redirect_uri
// pointing back at this handler's own public URL, carrying the caller's
// final destination in the redirectOnshapeUri query parameter.
func (s *SignIn) Redirect(req *model.Request) (*model.Response, error) {
	audit := s.audit.Open("oauthsignin")
	defer audit.Close()

	target := req.Param("redirectOnshapeUri")
	if target == "" {
		audit.Warn("missing redirectOnshapeUri")
		return nil, ErrMissingRedirectTarget
	}
	if req.Host == "" {
		audit.Warn("missing host header")
		return nil, ErrMissingHost
	}
	if s.oauth.ClientID == "" {
		return nil, ErrNotConfigured
	}

	callback := selfURL(req) + "?" + url.Values{"redirectOnshapeUri": {target}}.Encode()

	conf := s.oauth
	conf.RedirectURL = callback
	location := conf.AuthCodeURL("")

	s.logger.Debug("sign-in redirect", "callback", callback)
	audit.Info("redirecting", "location", location)

	return redirect(location), nil
}

// AppRedirect sends the browser through the authorize endpoint and on to
// the application page for one document element. The client id comes from
// the caller, as the CAD host passes it when launching the app.
func (s *SignIn) AppRedirect(req *model.Request) (*model.Response, error) {
	audit := s.audit.Open("redirect")
	defer audit.Close()

	clientID := req.Param("client_id")
	documentID := req.Param("documentId")
	workspaceID := req.Param("workspaceId")
	elementID := req.Param("elementId")

	if clientID == "" || documentID == "" || workspaceID == "" || elementID == "" {
		audit.Warn("missing params",
			"client_id", clientID,
			"documentId", documentID,
			"workspaceId", workspaceID,
			"elementId", elementID,
		)
		return nil, ErrMissingRedirectParams
	}

	appPath := "/"
	if s.appName != "" {
		appPath = "/" + url.PathEscape(s.appName) + "/"
	}
	appURL := s.appBaseURL + appPath + "?" + url.Values{
		"documentId":  {documentID},
		"workspaceId": {workspaceID},
		"elementId":   {elementID},
	}.Encode()

	conf := oauth2.Config{
		ClientID:    clientID,
		Endpoint:    s.oauth.Endpoint,
		RedirectURL: appURL,
	}
	location := conf.AuthCodeURL("")

	audit.Info("redirecting", "location", location)
	return redirect(location), nil
}

// selfURL reconstructs the externally visible URL of the current request,
// without its query. The scheme comes from X-Forwarded-Proto, then the
// inbound connection, then defaults to https. Only http and https are taken
// from either source.
func selfURL(req *model.Request) string {
	scheme := "https"
	forwarded := strings.Split(req.Header.Get("X-Forwarded-Proto"), ",")[0]
	if s, ok := webScheme(forwarded); ok {
		scheme = s
	} else if s, ok := webScheme(req.Scheme); ok {
		scheme = s
	}

	u := url.URL{
		Scheme:  scheme,
		Host:    req.Host,
		Path:    req.Path,
		RawPath: req.RawPath,
	}
	return u.String()
}

func webScheme(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	return s, s == "http" || s == "https"
}

func redirect(location string) *model.Response {
	resp := model.NewResponse(http.StatusFound, nil)
	resp.Header.Set("Location", location)
	return resp
}
