package middleware

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const masked = "[REDACTED]"

// Patterns are applied in this order. UUIDs go first so the phone pattern,
// which is the loosest, cannot consume the digit groups of an ID.
var piiPatterns = []struct {
	re  *regexp.Regexp
	tag string
}{
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

// Headers and query parameters that are masked whole.
var (
	defaultMaskedHeaders = []string{"Authorization", "Cookie", "Set-Cookie", "Sec-WebSocket-Key", "Sec-WebSocket-Protocol"}
	maskedParams         = map[string]struct{}{"token": {}, "access_token": {}, "key": {}, "api_key": {}, "password": {}}
)

func scrub(s string) string {
	for _, p := range piiPatterns {
		if s == "" {
			break
		}
		s = p.re.ReplaceAllString(s, p.tag)
	}
	return s
}

// scrubQuery masks credential parameters and pattern-redacts the rest. An
// unparsable query is redacted as one string.
func scrubQuery(raw string) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return scrub(raw)
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range vals[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			if _, ok := maskedParams[strings.ToLower(k)]; ok {
				b.WriteString(masked)
			} else {
				b.WriteString(scrub(v))
			}
		}
	}
	return b.String()
}

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are masked whole in addition to the credential and
	// WebSocket handshake headers.
	MaskHeaders []string
}

// RedactingLogger writes the access log: one line per request, never the
// body. Interview requests carry job descriptions, resumes and logos, so
// only sizes are logged. Emails, phone numbers and UUIDs are scrubbed from
// the query, headers and caller identity. A WebSocket session is logged when
// the call ends, with the call duration as latency. 4xx lines log at warn
// and 5xx at error.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	mask := make(map[string]struct{}, len(defaultMaskedHeaders)+len(opts.MaskHeaders))
	for _, h := range append(append([]string(nil), defaultMaskedHeaders...), opts.MaskHeaders...) {
		if h = strings.TrimSpace(h); h != "" {
			mask[strings.ToLower(h)] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		req := c.Request

		headers := zerolog.Dict()
		for k, vv := range req.Header {
			if _, ok := mask[strings.ToLower(k)]; ok {
				headers.Str(k, masked)
				continue
			}
			headers.Str(k, scrub(strings.Join(vv, ", ")))
		}
		query := scrubQuery(req.URL.RawQuery)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = truncate(req.URL.Path, maxPathLogLength)
		}
		rid := c.Writer.Header().Get(requestIDHeader)
		if rid == "" {
			rid = req.Header.Get(requestIDHeader)
		}

		status := c.Writer.Status()
		ev := log.Info()
		if status >= 500 {
			ev = log.Error()
		} else if status >= 400 {
			ev = log.Warn()
		}
		ev.Str("request_id", rid).
			Str("user_id", scrub(UserID(c))).
			Str("method", req.Method).
			Str("path", route).
			Str("query", query).
			Bool("upgrade", isUpgrade(req)).
			Int("status", status).
			Int64("bytes_in", req.ContentLength).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Dict("headers", headers).
			Msg("http_request")
	}
}
