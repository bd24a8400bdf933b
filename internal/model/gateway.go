// Package model defines the runtime-agnostic request and response types
// shared by the gateway services and the HTTP adapters.
package model

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
)

// Request is an inbound call as seen by a gateway service. It is built once
// per invocation by the HTTP adapter and treated as read-only afterwards.
type Request struct {
	Method string
	// Path is the decoded request path; RawPath is its original encoding
	// when that differs from the default, as in net/url.
	Path     string
	RawPath  string
	RawQuery string
	Query    url.Values
	Header   http.Header
	Body     []byte

	// Host is the inbound Host header.
	Host string
	// Scheme is the scheme of the inbound connection when the runtime knows
	// it ("https" for TLS), empty otherwise.
	Scheme string

	bodyParams map[string]string
	bodyParsed bool
}

// Param returns a named parameter from the query string, falling back to a
// JSON object or form-encoded body. Non-string JSON values are ignored.
func (r *Request) Param(name string) string {
	if v := r.Query.Get(name); v != "" {
		return v
	}
	if !r.bodyParsed {
		r.bodyParams = parseBodyParams(r.Header.Get("Content-Type"), r.Body)
		r.bodyParsed = true
	}
	return r.bodyParams[name]
}

func parseBodyParams(contentType string, body []byte) map[string]string {
	if len(body) == 0 {
		return nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch mediaType {
	case "application/x-www-form-urlencoded":
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return nil
		}
		params := make(map[string]string, len(vals))
		for k := range vals {
			params[k] = vals.Get(k)
		}
		return params
	default:
		// Callers frequently omit the content type on JSON bodies.
		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil
		}
		params := make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				params[k] = s
			}
		}
		return params
	}
}

// Response is the descriptor a gateway service hands back to the runtime.
// StatusCode and Header are always set; Body may be empty.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse returns a Response with an initialised header map.
func NewResponse(status int, body []byte) *Response {
	return &Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       body,
	}
}
