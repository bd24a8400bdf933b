package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"onshape-gateway/internal/client"
	"onshape-gateway/internal/config"
	"onshape-gateway/internal/metrics"
	"onshape-gateway/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway wires every handler the way main does, against the given
// token endpoint.
func newTestGateway(t *testing.T, tokenURL string) (*echo.Echo, *metrics.Metrics) {
	t.Helper()

	cfg := &config.Config{
		OAuth: config.OAuthConfig{
			ClientID:     "client-123",
			ClientSecret: "s3cr3t",
			TokenURL:     tokenURL,
			AuthorizeURL: "https://oauth.onshape.com/oauth/authorize",
			AppName:      "tapered-extrude",
			AppBaseURL:   "https://ftconshape.com",
		},
		Upstream: config.UpstreamConfig{IdleConnections: 10},
	}
	logger := discardLogger()
	m := metrics.New()
	uc := client.NewUpstreamClient(cfg, logger, m)

	e := echo.New()
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: []string{"*"}}))
	RegisterRoutes(e,
		NewAPIHandler(service.NewAPIForwarder(uc, cfg, logger, nil), logger, m),
		NewFileHandler(service.NewFileFetcher(uc, logger, nil), logger, m),
		NewOAuthHandler(service.NewTokenExchanger(uc, cfg, logger, nil), logger, m),
		NewSignInHandler(service.NewSignIn(cfg, logger, nil), logger, m),
		NewHealthHandler(cfg, "test"),
	)
	return e, m
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := newUpstream(t)
	e, _ := newTestGateway(t, upstream.URL+"/oauth/token")

	tests := []struct {
		name       string
		method     string
		path       string
		xServer    string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", "", http.StatusOK},
		{"GET /gateway/status", http.MethodGet, "/gateway/status", "", http.StatusOK},
		{"GET /api", http.MethodGet, "/api/v6/documents?q=1", upstream.URL, http.StatusOK},
		{"POST /api", http.MethodPost, "/api/v6/documents", upstream.URL, http.StatusOK},
		{"PUT /api not routed", http.MethodPut, "/api/v6/documents", upstream.URL, http.StatusMethodNotAllowed},
		{"GET /api without x-server", http.MethodGet, "/api/v6/documents", "", http.StatusBadRequest},
		{"GET /getfile", http.MethodGet, "/getfile?url=" + url.QueryEscape(upstream.URL+"/a.css"), "", http.StatusOK},
		{"POST /getfile missing url", http.MethodPost, "/getfile", "", http.StatusBadRequest},
		{"GET /oauth", http.MethodGet, "/oauth?code=abc", "", http.StatusOK},
		{"POST /refresh", http.MethodPost, "/refresh?refresh_token=rt", "", http.StatusOK},
		{"GET /oauthsignin", http.MethodGet, "/oauthsignin?redirectOnshapeUri=https%3A%2F%2Fclient.example%2Fcb", "", http.StatusFound},
		{"POST /oauthsignin not routed", http.MethodPost, "/oauthsignin", "", http.StatusMethodNotAllowed},
		{"GET /redirect", http.MethodGet, "/redirect?client_id=c&documentId=d&workspaceId=w&elementId=e", "", http.StatusFound},
		{"GET /unknown returns 404", http.MethodGet, "/unknown", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			if tt.xServer != "" {
				req.Header.Set("X-Server", tt.xServer)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %q)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestAPIHandler_SingleCORSHeader(t *testing.T) {
	upstream := newUpstream(t)
	e, _ := newTestGateway(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/v6/documents", http.NoBody)
	req.Header.Set("X-Server", upstream.URL)
	req.Header.Set("Origin", "https://cad.onshape.com")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if vals := rec.Header().Values("Access-Control-Allow-Origin"); len(vals) != 1 || vals[0] != "*" {
		t.Errorf("Access-Control-Allow-Origin = %v, want [*]", vals)
	}
	if got := rec.Header().Get("Expires"); got != "Thu, 01 Jan 1970 00:00:00 GMT" {
		t.Errorf("Expires = %q", got)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestAPIHandler_ForwardsPOSTBody(t *testing.T) {
	var gotBody, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotPath = r.URL.RequestURI()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer upstream.Close()

	e, _ := newTestGateway(t, upstream.URL)
	req := httptest.NewRequest(http.MethodPost, "/api/v6/partstudios/d/d1/w/w1/e/e1/features?rollbackBarIndex=-1", strings.NewReader(`{"feature":{}}`))
	req.Header.Set("X-Server", upstream.URL)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if gotBody != `{"feature":{}}` {
		t.Errorf("upstream body = %q", gotBody)
	}
	if gotPath != "/api/v6/partstudios/d/d1/w/w1/e/e1/features?rollbackBarIndex=-1" {
		t.Errorf("upstream path = %q", gotPath)
	}
}

func TestAPIHandler_UnreachableServer(t *testing.T) {
	e, m := newTestGateway(t, "http://127.0.0.1:1/oauth/token")

	req := httptest.NewRequest(http.MethodGet, "/api/v6/documents", http.NoBody)
	req.Header.Set("X-Server", "http://127.0.0.1:1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "forward to upstream:") {
		t.Errorf("body = %q, want the error text", rec.Body.String())
	}
	assertErrorCount(t, m, "/api", "upstream", 1)
}

func TestFileHandler_Errors(t *testing.T) {
	e, _ := newTestGateway(t, "http://127.0.0.1:1/oauth/token")

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantBody   string
	}{
		{"missing", "/getfile", http.StatusBadRequest, "missing url"},
		{"ftp", "/getfile?url=" + url.QueryEscape("ftp://example.com/file.txt"), http.StatusBadRequest, "invalid url protocol"},
		{"relative", "/getfile?url=" + url.QueryEscape("/etc/passwd"), http.StatusBadRequest, "invalid url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
			}
		})
	}
}

func TestFileHandler_URLInJSONBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("a{}"))
	}))
	defer upstream.Close()

	e, _ := newTestGateway(t, upstream.URL)
	req := httptest.NewRequest(http.MethodPost, "/getfile", strings.NewReader(`{"url":"`+upstream.URL+`/a.css"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/css" {
		t.Errorf("Content-Type = %q", got)
	}
	if rec.Body.String() != "a{}" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestOAuthHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		tokenURL   string
		target     string
		wantStatus int
		wantError  string
	}{
		{"missing code", "http://127.0.0.1:1/oauth/token", "/oauth", http.StatusBadRequest, "missing code"},
		{"missing refresh token", "http://127.0.0.1:1/oauth/token", "/refresh", http.StatusBadRequest, "missing refresh token"},
		{"unreachable token endpoint", "http://127.0.0.1:1/oauth/token", "/oauth?code=abc", http.StatusBadGateway, "request_failed"},
		{"not configured", "", "/oauth?code=abc", http.StatusInternalServerError, "server configuration error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestGateway(t, tt.tokenURL)
			req := httptest.NewRequest(http.MethodGet, tt.target, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
			if strings.Contains(rec.Body.String(), "s3cr3t") {
				t.Errorf("body leaks client secret: %s", rec.Body.String())
			}
		})
	}
}

func TestOAuthHandler_RefreshFromFormBody(t *testing.T) {
	var form url.Values
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenSrv.Close()

	e, _ := newTestGateway(t, tokenSrv.URL)
	req := httptest.NewRequest(http.MethodPost, "/refresh", strings.NewReader("refresh_token=rt-9"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if rec.Body.String() != `{"error":"invalid_grant"}` {
		t.Errorf("body = %q", rec.Body.String())
	}
	if form.Get("refresh_token") != "rt-9" || form.Get("grant_type") != "refresh_token" {
		t.Errorf("token form = %v", form)
	}
	if got := rec.Header().Get("Cache-Control"); got != "max-age=0, no-cache, no-store, must-revalidate" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestSignInHandler(t *testing.T) {
	e, _ := newTestGateway(t, "https://oauth.onshape.com/oauth/token")

	req := httptest.NewRequest(http.MethodGet, "/oauthsignin?redirectOnshapeUri=https%3A%2F%2Fclient.example%2Fcb", http.NoBody)
	req.Host = "gw.example"
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	q := loc.Query()
	if q.Get("client_id") != "client-123" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if want := "https://gw.example/oauthsignin?redirectOnshapeUri=https%3A%2F%2Fclient.example%2Fcb"; q.Get("redirect_uri") != want {
		t.Errorf("redirect_uri = %q, want %q", q.Get("redirect_uri"), want)
	}
}

func TestSignInHandler_Errors(t *testing.T) {
	e, m := newTestGateway(t, "https://oauth.onshape.com/oauth/token")

	tests := []struct {
		name     string
		target   string
		wantBody string
	}{
		{"missing target", "/oauthsignin", "missing redirectOnshapeUri"},
		{"missing redirect params", "/redirect?client_id=c&documentId=d", "missing required parameters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	assertErrorCount(t, m, "/oauthsignin", "client", 1)
	assertErrorCount(t, m, "/redirect", "client", 1)
}

func assertErrorCount(t *testing.T, m *metrics.Metrics, route, kind string, want float64) {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "onshape_gateway_errors_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == route && labels["kind"] == kind {
				if v := metric.GetCounter().GetValue(); v != want {
					t.Errorf("errors_total{route=%s,kind=%s} = %v, want %v", route, kind, v, want)
				}
				return
			}
		}
	}
	t.Errorf("expected errors_total{route=%s,kind=%s}", route, kind)
}
