package api

import "net/http"

// Headers are the response headers set on every API reply.
type Headers struct {
	XContentTypeOptions string
	XFrameOptions       string
	ReferrerPolicy      string
	CacheControl        string
}

// DefaultHeaders suits a JSON-only API: nothing is framed, sniffed or
// cached by intermediaries.
func DefaultHeaders() Headers {
	return Headers{
		XContentTypeOptions: "nosniff",
		XFrameOptions:       "DENY",
		ReferrerPolicy:      "no-referrer",
		CacheControl:        "no-store",
	}
}

// SecurityHeaders sets the non-empty fields of h on every response.
func SecurityHeaders(h Headers) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			set := func(k, v string) {
				if v != "" {
					w.Header().Set(k, v)
				}
			}
			set("X-Content-Type-Options", h.XContentTypeOptions)
			set("X-Frame-Options", h.XFrameOptions)
			set("Referrer-Policy", h.ReferrerPolicy)
			set("Cache-Control", h.CacheControl)
			next.ServeHTTP(w, r)
		})
	}
}
