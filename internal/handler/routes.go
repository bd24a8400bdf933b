package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// readMethods are accepted on every gateway route that takes parameters from
// either the query string or the body.
var readMethods = []string{http.MethodGet, http.MethodPost}

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, api *APIHandler, file *FileHandler, oauth *OAuthHandler, signIn *SignInHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/gateway/status", health.Status)

	e.Match(readMethods, "/api/*", api.Handle)
	e.Match(readMethods, "/getfile", file.Handle)
	e.Match(readMethods, "/oauth", oauth.Exchange)
	e.Match(readMethods, "/refresh", oauth.Refresh)

	e.GET("/oauthsignin", signIn.SignIn)
	e.GET("/redirect", signIn.AppRedirect)
}
