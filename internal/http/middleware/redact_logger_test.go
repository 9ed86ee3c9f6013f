package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func withCapturedLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

type accessLine struct {
	Level     string            `json:"level"`
	RequestID string            `json:"request_id"`
	UserID    string            `json:"user_id"`
	Path      string            `json:"path"`
	Query     string            `json:"query"`
	Upgrade   bool              `json:"upgrade"`
	Status    int               `json:"status"`
	BytesIn   int64             `json:"bytes_in"`
	Headers   map[string]string `json:"headers"`
}

func lastAccessLine(t *testing.T, buf *bytes.Buffer) accessLine {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var l accessLine
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &l); err != nil {
		t.Fatalf("log line %q: %v", lines[len(lines)-1], err)
	}
	return l
}

func TestScrub(t *testing.T) {
	in := "ada@example.com called 212-555-1212 about 123e4567-e89b-12d3-a456-426614174000"
	want := "[REDACTED:email] called [REDACTED:phone] about [REDACTED:id]"
	if got := scrub(in); got != want {
		t.Fatalf("scrub = %q", got)
	}
	if scrub("") != "" || scrub("role=backend") != "role=backend" {
		t.Fatalf("clean input must pass through")
	}
}

func TestScrubQuery(t *testing.T) {
	got := scrubQuery("page=2&token=abc123&email=ada%40example.com&API_KEY=k")
	want := "API_KEY=[REDACTED]&email=[REDACTED:email]&page=2&token=[REDACTED]"
	if got != want {
		t.Fatalf("scrubQuery = %q, want %q", got, want)
	}
	if got := scrubQuery("bad=%zz&mail=ada@example.com"); got != "bad=%zz&mail=[REDACTED:email]" {
		t.Fatalf("unparsable query = %q", got)
	}
}

func TestRedactingLogger_MasksAndScrubs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header(requestIDHeader, "rid-resp"); c.Next() })
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{" X-Api-Key "}}))
	r.PUT("/me/profile", func(c *gin.Context) { c.Status(http.StatusOK) })

	body := `{"resume":"ten years of Go at 555-123-4567"}`
	req := httptest.NewRequest(http.MethodPut, "/me/profile?lang=en&access_token=t0k", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "sid=topsecret")
	req.Header.Set("X-Api-Key", "shhh")
	req.Header.Set("X-Contact", "ada@example.com")
	req.Header.Set(requestIDHeader, "rid-req")
	r.ServeHTTP(httptest.NewRecorder(), req)

	l := lastAccessLine(t, buf)
	if l.Level != "info" || l.Path != "/me/profile" || l.RequestID != "rid-resp" || l.Status != 200 {
		t.Fatalf("line = %+v", l)
	}
	if l.BytesIn != int64(len(body)) || strings.Contains(buf.String(), "ten years") {
		t.Fatalf("body must be sized, not logged: %s", buf.String())
	}
	if l.Query != "access_token=[REDACTED]&lang=en" {
		t.Fatalf("query = %q", l.Query)
	}
	for _, h := range []string{"Authorization", "Cookie", "X-Api-Key"} {
		if l.Headers[h] != masked {
			t.Fatalf("%s = %q", h, l.Headers[h])
		}
	}
	if l.Headers["X-Contact"] != "[REDACTED:email]" {
		t.Fatalf("X-Contact = %q", l.Headers["X-Contact"])
	}
}

func TestRedactingLogger_LevelsAndRequestIDFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/interviews/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/interviews", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for path, want := range map[string]string{"/interviews/iv-1": "warn", "/interviews": "error", "/nowhere/" + strings.Repeat("x", 600): "warn"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(requestIDHeader, "rid-"+want)
		r.ServeHTTP(httptest.NewRecorder(), req)

		l := lastAccessLine(t, buf)
		if l.Level != want || l.RequestID != "rid-"+want {
			t.Fatalf("%s: %+v", path, l)
		}
		if len(l.Path) > maxPathLogLength+len("…") {
			t.Fatalf("unmatched path not truncated: %d", len(l.Path))
		}
	}
}

func TestRedactingLogger_WebSocketHandshake(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/interviews/:id/session", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	req := httptest.NewRequest(http.MethodGet, "/interviews/iv1/session", nil)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set(HeaderUserID, "ada@example.com")
	r.ServeHTTP(httptest.NewRecorder(), req)

	l := lastAccessLine(t, buf)
	if !l.Upgrade || l.Path != "/interviews/:id/session" {
		t.Fatalf("line = %+v", l)
	}
	if l.Headers["Sec-Websocket-Key"] != masked || strings.Contains(buf.String(), "dGhlIHNhbXBsZSBub25jZQ") {
		t.Fatalf("websocket key leaked: %s", buf.String())
	}
	if l.UserID != "[REDACTED:email]" {
		t.Fatalf("user_id = %q", l.UserID)
	}
}
