package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-interview-backend/internal/config"
	"github.com/tbourn/go-interview-backend/internal/domain"
	"github.com/tbourn/go-interview-backend/internal/http/middleware"
	"github.com/tbourn/go-interview-backend/internal/llm"
	"github.com/tbourn/go-interview-backend/internal/repo"
	"github.com/tbourn/go-interview-backend/internal/session"
)

// --- tiny fake model to satisfy llm.Model ---
type fakeModel struct {
	object string
}

func (fakeModel) GenerateText(context.Context, string) (string, error) { return "", nil }

func (m fakeModel) GenerateObject(context.Context, llm.ObjectRequest) ([]byte, error) {
	return []byte(m.object), nil
}

const evaluationJSON = `{
	"totalScore": 72,
	"categoryScores": [
		{"name": "Communication Skills", "score": 70, "comment": "clear"},
		{"name": "Technical Knowledge", "score": 75, "comment": "solid"},
		{"name": "Problem-Solving", "score": 70, "comment": "ok"},
		{"name": "Cultural & Role Fit", "score": 72, "comment": "good"},
		{"name": "Confidence & Clarity", "score": 73, "comment": "good"}
	],
	"strengths": ["concise"],
	"areasForImprovement": ["depth"],
	"finalAssessment": "Promising."
}`

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig(base string) config.Config {
	return config.Config{
		APIBasePath:    base,
		RateRPS:        100,
		RateBurst:      10,
		MaxBodyBytes:   1 << 20,
		IdempotencyTTL: time.Hour,
		CORS:           config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:       config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

func seedInterview(t *testing.T, db *gorm.DB, userID string) *domain.Interview {
	t.Helper()
	iv := &domain.Interview{
		UserID:      userID,
		CompanyName: "Acme",
		Role:        "Backend Engineer",
		Level:       domain.LevelSenior,
		Type:        domain.TypeTechnical,
		Questions:   []string{"Why Go?"},
	}
	if err := repo.CreateInterview(context.Background(), db, iv); err != nil {
		t.Fatalf("seed interview: %v", err)
	}
	return iv
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, Deps{DB: newTestDB(t)}, testConfig("/api/v1"))

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is off by default
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig("/api/v2")
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	RegisterRoutes(r, Deps{DB: newTestDB(t)}, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
	expose := w.Header().Get("Access-Control-Expose-Headers")
	for _, h := range []string{"X-Request-ID", "ETag", middleware.HeaderIdempotencyReplayed} {
		if !strings.Contains(expose, h) {
			t.Fatalf("expose headers %q missing %s", expose, h)
		}
	}
}

func TestRegisterRoutes_SwaggerEnabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig("/api/v1")
	cfg.SwaggerEnabled = true
	RegisterRoutes(r, Deps{DB: newTestDB(t)}, cfg)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/interviews/{id}/feedback") {
		t.Fatalf("doc.json: %d %.200s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_APIRequiresIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, Deps{DB: db}, testConfig("/api/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list: %d", w.Code)
	}

	seedInterview(t, db, "u1")
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil)
	req.Header.Set(middleware.HeaderUserID, "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("ETag") == "" {
		t.Fatalf("list: %d etag=%q", w.Code, w.Header().Get("ETag"))
	}
}

func TestRegisterRoutes_ProfileIsNotCached(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, Deps{DB: newTestDB(t)}, testConfig("/api/v1"))

	for _, tc := range []struct {
		path    string
		noStore bool
	}{
		{"/api/v1/me/profile", true},
		{"/api/v1/interviews", false},
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		req.Header.Set(middleware.HeaderUserID, "u1")
		r.ServeHTTP(w, req)

		if got := w.Header().Get("Cache-Control") == "no-store"; got != tc.noStore {
			t.Fatalf("%s: Cache-Control=%q", tc.path, w.Header().Get("Cache-Control"))
		}
		if pp := w.Header().Get("Permissions-Policy"); !strings.Contains(pp, "microphone=(self)") {
			t.Fatalf("%s: Permissions-Policy=%q", tc.path, pp)
		}
	}
}

func TestRegisterRoutes_GzipSkipsSessionRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, Deps{DB: db}, testConfig("/api/v1"))
	seedInterview(t, db, "u1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil)
	req.Header.Set(middleware.HeaderUserID, "u1")
	req.Header.Set("Accept-Encoding", "gzip")
	r.ServeHTTP(w, req)
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("list should be gzipped, headers=%v", w.Header())
	}

	// A plain GET on the session route fails the upgrade, uncompressed.
	iv := seedInterview(t, db, "u1")
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/interviews/"+iv.ID+"/session", nil)
	req.Header.Set(middleware.HeaderUserID, "u1")
	req.Header.Set("Accept-Encoding", "gzip")
	r.ServeHTTP(w, req)
	if w.Header().Get("Content-Encoding") == "gzip" {
		t.Fatalf("session route must not be gzipped")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("non-upgrade request expected 400, got %d", w.Code)
	}
}

func TestRegisterRoutes_FeedbackIdempotentReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, Deps{DB: db, Model: fakeModel{object: evaluationJSON}}, testConfig("/api/v1"))
	iv := seedInterview(t, db, "u1")

	post := func() (*httptest.ResponseRecorder, map[string]any) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/interviews/"+iv.ID+"/feedback",
			bytes.NewBufferString(`{"transcript":[{"role":"assistant","content":"Why Go?"},{"role":"user","content":"Simplicity."}]}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderUserID, "u1")
		req.Header.Set(middleware.HeaderIdempotencyKey, "retry-1")
		r.ServeHTTP(w, req)
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("json %s: %v", w.Body.String(), err)
		}
		return w, body
	}

	w1, b1 := post()
	if w1.Code != http.StatusOK || b1["success"] != true || b1["redirect"] != "/"+iv.ID+"/feedback" {
		t.Fatalf("first: %d %v", w1.Code, b1)
	}
	if w1.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("first response marked replayed")
	}

	w2, b2 := post()
	if w2.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" || b2["id"] != b1["id"] {
		t.Fatalf("replay: %v %v", w2.Header(), b2)
	}

	got, err := repo.GetInterview(context.Background(), db, iv.ID)
	if err != nil {
		t.Fatalf("GetInterview: %v", err)
	}
	if got.FeedbacksNum != 1 {
		t.Fatalf("feedbacks_num = %d, want 1", got.FeedbacksNum)
	}
}

func TestRegisterRoutes_BodyLimitIs413(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig("/api/v1")
	cfg.MaxBodyBytes = 64
	RegisterRoutes(r, Deps{DB: newTestDB(t)}, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/me/profile",
		bytes.NewBufferString(`{"name":"Ada","resume":"`+strings.Repeat("x", 200)+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderUserID, "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

// Smoke test that a request traverses idempotency + ratelimit + otel + security headers pipeline.
func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig("/api/v1")
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	RegisterRoutes(r, Deps{DB: newTestDB(t), Sessions: session.NewRegistry()}, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.URL.Scheme = "https"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestIdempotencyLookup_HitMissAndError(t *testing.T) {
	db := newTestDB(t)
	lookup := idempotencyLookup(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if hit, _ := lookup(ctx, "u1", "iv1", "k1", now); hit {
		t.Fatalf("unexpected hit on empty table")
	}
	if _, err := repo.CreateIdempotency(ctx, db, "u1", "iv1", "k1", "fb-1", http.StatusOK, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if hit, _ := lookup(ctx, "u1", "iv1", "k1", now); !hit {
		t.Fatalf("expected hit")
	}
	if hit, _ := lookup(ctx, "u1", "iv1", "k1", now.Add(2*time.Hour)); hit {
		t.Fatalf("expired record must miss")
	}

	// A broken database counts as a miss.
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()
	if hit, err := lookup(ctx, "u1", "iv1", "k1", now); hit || err != nil {
		t.Fatalf("closed db: hit=%v err=%v", hit, err)
	}
	if hit, _ := idempotencyLookup(nil)(ctx, "u1", "iv1", "k1", now); hit {
		t.Fatalf("nil db must miss")
	}
}

func TestRoleLocale(t *testing.T) {
	if roleLocale("") != language.Und || roleLocale("not a tag!") != language.Und {
		t.Fatalf("empty or invalid tags must disable casing")
	}
	if roleLocale("en") != language.English {
		t.Fatalf("en should parse")
	}
}
