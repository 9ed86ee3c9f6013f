package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecure(opt SecurityOptions, req *http.Request, pre ...gin.HandlerFunc) http.Header {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(pre...)
	r.Use(SecurityHeaders(opt))
	r.GET("/*path", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	h := serveSecure(SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil))

	for k, want := range map[string]string{
		"X-Content-Type-Options":        "nosniff",
		"X-Frame-Options":               "DENY",
		"Referrer-Policy":               "no-referrer",
		"Cross-Origin-Opener-Policy":    "same-origin",
		"Access-Control-Expose-Headers": "X-Request-ID",
	} {
		if got := h.Get(k); got != want {
			t.Fatalf("%s = %q, want %q", k, got, want)
		}
	}
	if !strings.Contains(h.Get("Permissions-Policy"), "microphone=()") {
		t.Fatalf("microphone should be denied by default: %q", h.Get("Permissions-Policy"))
	}
	if h.Get("Cache-Control") != "" || h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("unexpected optional headers: %#v", h)
	}
}

func TestSecurityHeaders_MicrophoneForLiveSessions(t *testing.T) {
	h := serveSecure(SecurityOptions{AllowMicrophone: true}, httptest.NewRequest(http.MethodGet, "/", nil))
	p := h.Get("Permissions-Policy")
	if !strings.Contains(p, "microphone=(self)") || !strings.Contains(p, "camera=()") {
		t.Fatalf("Permissions-Policy = %q", p)
	}
}

func TestSecurityHeaders_NoStoreByPrefix(t *testing.T) {
	opt := SecurityOptions{NoStorePrefixes: []string{"/api/v1/me/"}}
	cases := map[string]bool{
		"/api/v1/me":         true,
		"/api/v1/me/profile": true,
		"/api/v1/media":      false,
		"/api/v1/interviews": false,
	}
	for path, want := range cases {
		h := serveSecure(opt, httptest.NewRequest(http.MethodGet, path, nil))
		if got := h.Get("Cache-Control") == "no-store"; got != want {
			t.Fatalf("%s: no-store=%v, want %v", path, got, want)
		}
	}
	if noStore("/x", []string{"", "/"}) {
		t.Fatalf("empty prefixes must not match")
	}
}

func TestSecurityHeaders_HSTSOnlyOverHTTPS(t *testing.T) {
	opt := SecurityOptions{EnableHSTS: true, HSTSMaxAge: 24 * time.Hour}

	plain := serveSecure(opt, httptest.NewRequest(http.MethodGet, "/", nil))
	if plain.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS on plain HTTP")
	}

	tlsReq := httptest.NewRequest(http.MethodGet, "/", nil)
	tlsReq.TLS = &tls.ConnectionState{}
	if got := serveSecure(opt, tlsReq).Get("Strict-Transport-Security"); got != "max-age=86400; includeSubDomains" {
		t.Fatalf("HSTS = %q", got)
	}

	proxied := httptest.NewRequest(http.MethodGet, "/", nil)
	proxied.Header.Set("X-Forwarded-Proto", "HTTPS")
	got := serveSecure(SecurityOptions{EnableHSTS: true}, proxied).Get("Strict-Transport-Security")
	if got != "max-age=15552000; includeSubDomains" {
		t.Fatalf("default HSTS = %q", got)
	}
}

func TestSecurityHeaders_ExposeMergesWithoutDuplicates(t *testing.T) {
	pre := func(c *gin.Context) {
		c.Header("Access-Control-Expose-Headers", "etag, Content-Length")
		c.Next()
	}
	h := serveSecure(SecurityOptions{Expose: []string{"ETag", HeaderIdempotencyReplayed, "x-request-id"}},
		httptest.NewRequest(http.MethodGet, "/", nil), pre)

	got := h.Get("Access-Control-Expose-Headers")
	if got != "etag, Content-Length, X-Request-ID, Idempotency-Replayed" {
		t.Fatalf("expose = %q", got)
	}
}
