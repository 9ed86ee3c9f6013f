// Command server runs the interview API: interview generation, live voice
// sessions over WebSocket and transcript feedback.
//
//	@title						Interview API
//	@version					1.0
//	@description				Generate mock interviews, run them as live voice sessions and score the transcripts.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	UserID
//	@in							header
//	@name						X-User-ID
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-interview-backend/internal/config"
	httpapi "github.com/tbourn/go-interview-backend/internal/http"
	"github.com/tbourn/go-interview-backend/internal/llm"
	"github.com/tbourn/go-interview-backend/internal/llm/gemini"
	"github.com/tbourn/go-interview-backend/internal/observability"
	"github.com/tbourn/go-interview-backend/internal/repo"
	"github.com/tbourn/go-interview-backend/internal/session"
	"github.com/tbourn/go-interview-backend/internal/storage"
	"github.com/tbourn/go-interview-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = ""

const (
	shutdownTimeout = 30 * time.Second
	purgeInterval   = 15 * time.Minute
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version, "dev")

	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = sysutil.NewLogger(os.Stderr, cfg.LogPretty, cfg.OTEL.ServiceName, ver)
	zerolog.DefaultContextLogger = &log.Logger
	gin.SetMode(cfg.GinMode)
	log.Info().Object("config", cfg).Str("version", ver).Msg("config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	var model llm.Model
	if client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}); err != nil {
		// Generation and scoring report failures until a key is configured.
		log.Warn().Err(err).Msg("model unavailable")
	} else {
		model = client
	}

	var uploader storage.Uploader = storage.Disabled{}
	if cfg.Storage.Enabled() {
		s3, err := storage.NewS3(storage.S3Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UsePathStyle:    cfg.Storage.UsePathStyle,
			PublicBaseURL:   cfg.Storage.PublicBaseURL,
			Prefix:          cfg.Storage.Prefix,
			MaxBytes:        cfg.Storage.MaxLogoBytes,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("s3 uploader")
		}
		uploader = s3
	}

	sessions := session.NewRegistry()

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:       db,
		Model:    model,
		Uploader: uploader,
		Sessions: sessions,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return log.Logger.WithContext(context.Background()) },
	}

	go purgeIdempotency(ctx, db, purgeInterval)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", ver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	stop()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown; end the
	// sessions explicitly and let their feedback step finish.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if n := sessions.CancelAll(); n > 0 {
		log.Info().Int("sessions", n).Msg("ending live sessions")
	}
	if !sessions.Wait(shutdownCtx) {
		log.Warn().Int("sessions", sessions.Count()).Msg("sessions still running at shutdown deadline")
	}

	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
}

// purgeIdempotency deletes expired idempotency records every interval until
// ctx is canceled.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("purged idempotency keys")
			}
		}
	}
}
