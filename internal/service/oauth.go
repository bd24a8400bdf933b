package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"onshape-gateway/internal/auditlog"
	"onshape-gateway/internal/client"
	"onshape-gateway/internal/config"
	"onshape-gateway/internal/model"
)

// GrantType is an OAuth 2.0 grant_type value.
type GrantType string

// Supported grants.
const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// Grant is a caller-supplied credential to trade for a token set.
type Grant struct {
	Type       GrantType
	Credential string
	// RedirectURI is sent with authorization_code grants when non-empty.
	RedirectURI string
}

// GrantFromRequest reads an exchange request: a code selects the
// authorization_code grant, otherwise a refresh_token selects the refresh
// grant. With neither, the code grant is returned with no credential so the
// exchange reports the missing code.
func GrantFromRequest(req *model.Request) Grant {
	if code := req.Param("code"); code != "" {
		return Grant{
			Type:        GrantAuthorizationCode,
			Credential:  code,
			RedirectURI: req.Param("redirect_uri"),
		}
	}
	if rt := refreshTokenParam(req); rt != "" {
		return Grant{Type: GrantRefreshToken, Credential: rt}
	}
	return Grant{Type: GrantAuthorizationCode}
}

// RefreshGrantFromRequest reads a refresh request.
func RefreshGrantFromRequest(req *model.Request) Grant {
	return Grant{Type: GrantRefreshToken, Credential: refreshTokenParam(req)}
}

func refreshTokenParam(req *model.Request) string {
	if rt := req.Param("refresh_token"); rt != "" {
		return rt
	}
	return req.Param("refreshToken")
}

// TokenExchanger performs the server-side half of the OAuth flow: it adds
// the confidential client secret to a caller's code or refresh token and
// posts the pair to the token endpoint.
//
// Thread-safe: Yes, it holds only immutable configuration.
type TokenExchanger struct {
	client  *client.UpstreamClient
	oauth   oauth2.Config
	missing []string
	logger  *slog.Logger
	audit   *auditlog.Sink
}

// NewTokenExchanger creates a TokenExchanger. A partially configured client
// is accepted here; every exchange then fails with ErrNotConfigured.
func NewTokenExchanger(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, audit *auditlog.Sink) *TokenExchanger {
	return &TokenExchanger{
		client:  c,
		oauth:   oauthConfig(cfg),
		missing: cfg.OAuth.Missing(),
		logger:  logger.With("component", "token_exchanger"),
		audit:   audit,
	}
}

// oauthConfig maps the gateway configuration onto an oauth2.Config. It only
// models the endpoints and client for AuthCodeURL; Exchange builds the token
// form itself so the endpoint's raw status and body can be relayed.
func oauthConfig(cfg *config.Config) oauth2.Config {
	return oauth2.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.OAuth.AuthorizeURL,
			TokenURL: cfg.OAuth.TokenURL,
		},
	}
}

// Exchange trades g for a token set. The token endpoint's status and JSON
// body are relayed unchanged, including its own errors such as a 400
// invalid_grant. Parameter checks run before configuration checks, and both
// run before any outbound request is built.
func (e *TokenExchanger) Exchange(ctx context.Context, g Grant) (*model.Response, error) {
	audit := e.audit.Open(string(g.Type))
	defer audit.Close()

	if err := validateGrant(g); err != nil {
		audit.Warn("rejected exchange", "err", err)
		return nil, err
	}
	if len(e.missing) > 0 {
		err := fmt.Errorf("%w: oauth %s not set", ErrNotConfigured, strings.Join(e.missing, ", "))
		audit.Error("server misconfiguration", "err", err)
		return nil, err
	}

	form := e.tokenForm(g)
	header := http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
		"Accept":       {"application/json"},
	}

	resp, err := e.client.Send(ctx, http.MethodPost, e.oauth.Endpoint.TokenURL, header, []byte(form.Encode()))
	if err != nil {
		audit.Error("token request failed", "err", err)
		return nil, fmt.Errorf("token request: %w", err)
	}
	if !json.Valid(resp.Body) {
		audit.Error("token response not JSON", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w (status %d)", ErrInvalidTokenResponse, resp.StatusCode)
	}

	out := model.NewResponse(resp.StatusCode, resp.Body)
	out.Header.Set("Content-Type", "application/json")
	setNoCacheHeaders(out.Header)

	// Token bodies are never logged.
	e.logger.Info("token exchange",
		"grant_type", string(g.Type),
		"status", resp.StatusCode,
	)
	audit.Info("token exchange", "status", resp.StatusCode)

	return out, nil
}

func validateGrant(g Grant) error {
	switch g.Type {
	case GrantAuthorizationCode:
		if g.Credential == "" {
			return ErrMissingCode
		}
	case GrantRefreshToken:
		if g.Credential == "" {
			return ErrMissingRefreshToken
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedGrant, g.Type)
	}
	return nil
}

func (e *TokenExchanger) tokenForm(g Grant) url.Values {
	form := url.Values{
		"grant_type":    {string(g.Type)},
		"client_id":     {e.oauth.ClientID},
		"client_secret": {e.oauth.ClientSecret},
	}
	switch g.Type {
	case GrantAuthorizationCode:
		form.Set("code", g.Credential)
		if g.RedirectURI != "" {
			form.Set("redirect_uri", g.RedirectURI)
		}
	case GrantRefreshToken:
		form.Set("refresh_token", g.Credential)
	}
	return form
}
