// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, the model
// provider, object storage, live sessions and observability.
package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/tbourn/go-interview-backend/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-interview-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LLMConfig selects and tunes the generative model.
type LLMConfig struct {
	APIKey  string        // GEMINI_API_KEY
	Model   string        // GEMINI_MODEL
	Timeout time.Duration // GEMINI_TIMEOUT, per call
}

// StorageConfig locates the S3-compatible bucket company logos go to. An
// empty Bucket disables uploads.
type StorageConfig struct {
	Bucket          string // S3_BUCKET
	Region          string // S3_REGION
	Endpoint        string // S3_ENDPOINT (MinIO, R2, ...)
	AccessKeyID     string // S3_ACCESS_KEY_ID
	SecretAccessKey string // S3_SECRET_ACCESS_KEY
	UsePathStyle    bool   // S3_USE_PATH_STYLE
	PublicBaseURL   string // S3_PUBLIC_BASE_URL (CDN in front of the bucket)
	Prefix          string // S3_PREFIX
	MaxLogoBytes    int    // MAX_LOGO_BYTES
}

// Enabled reports whether a bucket is configured.
func (s StorageConfig) Enabled() bool { return strings.TrimSpace(s.Bucket) != "" }

// VoiceConfig tunes live interview sessions.
type VoiceConfig struct {
	AssistantID     string        // VOICE_ASSISTANT_ID
	StartTimeout    time.Duration // VOICE_START_TIMEOUT
	PingInterval    time.Duration // VOICE_PING_INTERVAL
	ReadTimeout     time.Duration // VOICE_READ_TIMEOUT (0 disables)
	MaxMessageBytes int64         // VOICE_MAX_MESSAGE_BYTES
	FeedbackTimeout time.Duration // FEEDBACK_TIMEOUT
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath         string // SQLite path
	MaxBodyBytes   int64  // request body cap (logos arrive inline)
	MaxResumeRunes int    // resume budget inside the question prompt
	RoleLocale     string // BCP 47 tag used to title-case roles; empty disables

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Collaborators
	LLM     LLMConfig
	Storage StorageConfig
	Voice   VoiceConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad is Load for main; any validation error panics.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment over the defaults below. On validation failure
// the loaded Config is still returned next to the joined error.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:         getenv("DB_PATH", "app.db"),
		MaxBodyBytes:   int64(getint("MAX_BODY_BYTES", 8<<20)),
		MaxResumeRunes: getint("MAX_RESUME_RUNES", 6000),
		RoleLocale:     getenv("ROLE_LOCALE", "en"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		LLM: LLMConfig{
			APIKey:  getenv("GEMINI_API_KEY", ""),
			Model:   getenv("GEMINI_MODEL", "gemini-2.0-flash-001"),
			Timeout: getdur("GEMINI_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			Bucket:          getenv("S3_BUCKET", ""),
			Region:          getenv("S3_REGION", "us-east-1"),
			Endpoint:        getenv("S3_ENDPOINT", ""),
			AccessKeyID:     getenv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getenv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getbool("S3_USE_PATH_STYLE", false),
			PublicBaseURL:   getenv("S3_PUBLIC_BASE_URL", ""),
			Prefix:          getenv("S3_PREFIX", ""),
			MaxLogoBytes:    getint("MAX_LOGO_BYTES", 2<<20),
		},
		Voice: VoiceConfig{
			AssistantID:     getenv("VOICE_ASSISTANT_ID", ""),
			StartTimeout:    getdur("VOICE_START_TIMEOUT", 15*time.Second),
			PingInterval:    getdur("VOICE_PING_INTERVAL", 20*time.Second),
			ReadTimeout:     getdur("VOICE_READ_TIMEOUT", 0),
			MaxMessageBytes: int64(getint("VOICE_MAX_MESSAGE_BYTES", 64<<10)),
			FeedbackTimeout: getdur("FEEDBACK_TIMEOUT", 2*time.Minute),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-interview-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	return cfg, cfg.validate()
}

// validate reports every problem at once so a broken deployment is fixed
// in one round.
func (c Config) validate() error {
	var errs []error
	check := func(bad bool, msg string) {
		if bad {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	check(strings.TrimSpace(c.Port) == "", "PORT must not be empty")
	check(c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0")
	check(strings.TrimSpace(c.DBPath) == "", "DB_PATH must not be empty")
	check(c.MaxBodyBytes <= 0, "MAX_BODY_BYTES must be > 0")
	check(c.MaxResumeRunes < 0, "MAX_RESUME_RUNES must be >= 0")
	if c.RoleLocale != "" {
		_, err := language.Parse(c.RoleLocale)
		check(err != nil, "ROLE_LOCALE must be a BCP 47 language tag")
	}
	check(c.RateRPS < 0, "RATE_RPS must be >= 0")
	check(c.RateBurst < 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	errs = append(errs, c.LLM.validate(), c.Storage.validate(), c.Voice.validate())
	return errors.Join(errs...)
}

func (l LLMConfig) validate() error {
	var errs []error
	if strings.TrimSpace(l.Model) == "" {
		errs = append(errs, errors.New("GEMINI_MODEL must not be empty"))
	}
	if l.Timeout <= 0 {
		errs = append(errs, errors.New("GEMINI_TIMEOUT must be > 0"))
	}
	return errors.Join(errs...)
}

func (s StorageConfig) validate() error {
	var errs []error
	if s.MaxLogoBytes <= 0 {
		errs = append(errs, errors.New("MAX_LOGO_BYTES must be > 0"))
	}
	if !s.Enabled() {
		return errors.Join(errs...)
	}
	if strings.TrimSpace(s.Region) == "" {
		errs = append(errs, errors.New("S3_REGION is required when S3_BUCKET is set"))
	}
	if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
		errs = append(errs, errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together"))
	}
	if s.PublicBaseURL != "" {
		if u, err := url.Parse(s.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, errors.New("S3_PUBLIC_BASE_URL must be an absolute URL"))
		}
	}
	return errors.Join(errs...)
}

func (v VoiceConfig) validate() error {
	var errs []error
	if v.StartTimeout <= 0 || v.PingInterval <= 0 {
		errs = append(errs, errors.New("VOICE_START_TIMEOUT and VOICE_PING_INTERVAL must be > 0"))
	}
	if v.ReadTimeout < 0 || v.FeedbackTimeout < 0 {
		errs = append(errs, errors.New("VOICE_READ_TIMEOUT and FEEDBACK_TIMEOUT must be >= 0"))
	}
	if v.ReadTimeout > 0 && v.ReadTimeout <= v.PingInterval {
		errs = append(errs, errors.New("VOICE_READ_TIMEOUT must exceed VOICE_PING_INTERVAL"))
	}
	if v.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("VOICE_MAX_MESSAGE_BYTES must be > 0"))
	}
	return errors.Join(errs...)
}

// MarshalZerologObject logs the effective settings with secrets left out.
func (c Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("port", c.Port).
		Str("gin_mode", c.GinMode).
		Str("log_level", c.LogLevel).
		Str("api_base_path", c.APIBasePath).
		Str("db_path", c.DBPath).
		Float64("rate_rps", c.RateRPS).
		Int("rate_burst", c.RateBurst).
		Strs("cors_origins", c.CORS.AllowedOrigins).
		Str("model", c.LLM.Model).
		Bool("model_key_set", c.LLM.APIKey != "").
		Bool("storage_enabled", c.Storage.Enabled()).
		Bool("voice_assistant_set", c.Voice.AssistantID != "").
		Bool("otel_enabled", c.OTEL.Enabled)
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
