package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// defaultHSTSMaxAge applies when SecurityOptions.HSTSMaxAge is unset.
const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests. Only turn
	// it on when the proxy-to-app hop is HTTPS too.
	EnableHSTS bool
	HSTSMaxAge time.Duration

	// NoStorePrefixes marks responses under these path prefixes as
	// uncacheable. Profiles carry resume text.
	NoStorePrefixes []string

	// AllowMicrophone lets same-origin pages capture audio for live sessions.
	// Other powerful features stay disabled.
	AllowMicrophone bool

	// Expose lists response headers browser clients may read in addition to
	// X-Request-ID.
	Expose []string
}

// SecurityHeaders adds hardening headers for a JSON API consumed by a browser
// client. Header values are computed once.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains"
	policy := permissionsPolicy(opt.AllowMicrophone)
	expose := append([]string{requestIDHeader}, opt.Expose...)

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", policy)
		h.Set("Cross-Origin-Opener-Policy", "same-origin")

		if noStore(c.Request.URL.Path, opt.NoStorePrefixes) {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		for _, name := range expose {
			exposeHeader(h, name)
		}
		c.Next()
	}
}

func permissionsPolicy(mic bool) string {
	m := "microphone=()"
	if mic {
		m = "microphone=(self)"
	}
	return "camera=(), geolocation=(), payment=(), usb=(), " + m
}

// noStore reports whether path falls under one of prefixes, matching whole
// segments so "/api/me" does not cover "/api/media".
func noStore(path string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// exposeHeader adds name to Access-Control-Expose-Headers once, ignoring case.
func exposeHeader(h http.Header, name string) {
	const hdr = "Access-Control-Expose-Headers"
	cur := h.Get(hdr)
	if cur == "" {
		h.Set(hdr, name)
		return
	}
	for _, f := range strings.Split(cur, ",") {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return
		}
	}
	h.Set(hdr, cur+", "+name)
}

// isHTTPS reports whether the request arrived over TLS, directly or through
// a proxy that set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
