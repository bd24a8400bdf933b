package service

import (
	"net/http"
	"strings"
)

// epoch is the Expires value that marks a response as already stale.
const epoch = "Thu, 01 Jan 1970 00:00:00 GMT"

// setNoCacheHeaders applies the CORS and cache-busting headers carried by
// every API and OAuth response. The iframe caller runs on another origin and
// must be able to read the body; nothing in between may cache it.
func setNoCacheHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", "max-age=0, no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", epoch)
}

// hopByHopHeaders must never be replayed to a different origin.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// skipFetchHeaders are dropped in addition to the hop-by-hop set when
// replaying a caller's headers to a fetch target. Accept-Encoding is left to
// the transport, which decompresses transparently; only Content-Type is
// relayed back so a compressed body would otherwise arrive undecodable.
var skipFetchHeaders = map[string]bool{
	"Host":            true,
	"Content-Length":  true,
	"Accept-Encoding": true,
}

// filterFetchHeaders copies src minus the headers that must not travel to a
// different origin, including any named by the Connection header.
func filterFetchHeaders(src http.Header) http.Header {
	dropped := make(map[string]bool)
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dropped[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	dst := make(http.Header, len(src))
	for key, vals := range src {
		k := http.CanonicalHeaderKey(key)
		if hopByHopHeaders[k] || skipFetchHeaders[k] || dropped[k] {
			continue
		}
		dst[k] = append([]string(nil), vals...)
	}
	return dst
}

// forwardableAPIHeaders are the only request headers sent to the API server.
var forwardableAPIHeaders = []string{
	"Content-Type",
	"User-Agent",
	"Accept",
	"Sec-Ch-Ua-Platform",
	"Authorization",
}

func filterAPIHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableAPIHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[key] = vals
		}
	}
	return dst
}

// copyContentType relays the upstream content type when it is present.
func copyContentType(dst, src http.Header) {
	if ct := src.Get("Content-Type"); ct != "" {
		dst.Set("Content-Type", ct)
	}
}
