package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		v, _ := c.Get(requestIDKey)
		c.String(http.StatusOK, asString(v))
	})

	cases := map[string]bool{ // header -> kept
		"":                           false,
		"abc-123":                    true,
		"has space":                  false,
		"line\nbreak":                false,
		strings.Repeat("a", 200):     false,
		strings.Repeat("b", 128):     true,
		"0b7c5c8e-trace:span/parent": true,
	}
	for in, kept := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/rid", nil)
		if in != "" {
			req.Header[requestIDHeader] = []string{in}
		}
		r.ServeHTTP(w, req)

		got := w.Header().Get(requestIDHeader)
		if got != w.Body.String() {
			t.Fatalf("%q: header %q and context %q differ", in, got, w.Body.String())
		}
		if kept && got != in {
			t.Fatalf("%q: not propagated, got %q", in, got)
		}
		if !kept {
			if _, err := uuid.Parse(got); err != nil {
				t.Fatalf("%q: expected generated UUID, got %q", in, got)
			}
		}
	}
}

func TestLogger_InterviewScopedFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger())
	r.GET("/interviews/:id/feedback", func(c *gin.Context) {
		// Services only see the context.
		log.Ctx(c.Request.Context()).Info().Msg("scoring")
		LoggerFrom(c).Info().Msg("handler")
		c.Status(http.StatusOK)
	})
	r.GET("/interviews", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("list")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/interviews/iv-9/feedback", nil)
	req.Header.Set(requestIDHeader, "rid-1")
	req.Header.Set(HeaderUserID, "u1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/interviews", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d:\n%s", len(lines), buf.String())
	}
	for _, ln := range lines[:2] {
		var m map[string]any
		_ = json.Unmarshal([]byte(ln), &m)
		if m["request_id"] != "rid-1" || m["user_id"] != "u1" || m["route"] != "/interviews/:id/feedback" || m["interview_id"] != "iv-9" {
			t.Fatalf("scoped fields missing: %s", ln)
		}
	}
	if strings.Contains(lines[2], "interview_id") {
		t.Fatalf("list route must not carry interview_id: %s", lines[2])
	}
}

func TestLogger_UnmatchedRouteUsesRawPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(Logger())
	r.NoRoute(func(c *gin.Context) {
		LoggerFrom(c).Warn().Msg("no route")
		c.Status(http.StatusNotFound)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	if !strings.Contains(buf.String(), `"route":"/missing"`) {
		t.Fatalf("expected raw path fallback, got:\n%s", buf.String())
	}
}

func TestLoggerFrom_FallsBackToGlobal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(loggerKey, "not a logger")
	LoggerFrom(c).Info().Msg("fallback")
	if !strings.Contains(buf.String(), `"message":"fallback"`) || strings.Contains(buf.String(), "request_id") {
		t.Fatalf("unexpected fallback output: %s", buf.String())
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	r.GET("/panic", func(*gin.Context) { panic("kaboom") })
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late kaboom")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(requestIDHeader, "rid-p")
	r.ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if w.Code != http.StatusInternalServerError || body["code"] != "internal_error" || body["request_id"] != "rid-p" {
		t.Fatalf("%d %v", w.Code, body)
	}
	if !strings.Contains(buf.String(), `"panic":"kaboom"`) || !strings.Contains(buf.String(), `"stack"`) {
		t.Fatalf("panic not logged: %s", buf.String())
	}

	// Once the handler wrote, the body is left alone.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))
	if w.Body.String() != "partial" {
		t.Fatalf("body after late panic = %q", w.Body.String())
	}
}

func TestTruncateAndAsString(t *testing.T) {
	if truncate("hello", 10) != "hello" || truncate("abcdefgh", 5) != "abcde…" || truncate("abc", 0) != "abc" {
		t.Fatalf("truncate")
	}
	if asString("x") != "x" || asString(1) != "" {
		t.Fatalf("asString")
	}
}
