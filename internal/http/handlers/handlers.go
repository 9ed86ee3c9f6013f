// Package handlers implements the HTTP endpoints of the interview API.
//
// Endpoints:
//   - POST /interviews                      generate an interview
//   - GET  /interviews                      list the caller's interviews (ETag)
//   - GET  /interviews/{id}                 read one interview
//   - POST /interviews/{id}/feedback        score a transcript (Idempotency-Key)
//   - GET  /interviews/{id}/feedback        list the caller's feedback (ETag)
//   - GET  /interviews/{id}/feedback/latest newest feedback
//   - GET  /interviews/{id}/session         WebSocket voice session
//   - PUT  /me/profile                      store name, email and resume
//   - GET  /me/profile                      read the caller's profile
//
// Handlers are transport-thin: they bind input, call a service and translate
// the outcome. Generation and feedback creation return a result envelope
// with HTTP 200 even when the operation failed; clients branch on success.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/tbourn/go-interview-backend/internal/domain"
	"github.com/tbourn/go-interview-backend/internal/http/middleware"
	"github.com/tbourn/go-interview-backend/internal/services"
	"github.com/tbourn/go-interview-backend/internal/session"
	"github.com/tbourn/go-interview-backend/internal/utils"
	"github.com/tbourn/go-interview-backend/internal/voice"
)

//
// Service contracts (context-aware)
//

// InterviewService generates and reads interviews.
type InterviewService interface {
	GenerateInterview(ctx context.Context, p services.GenerateInterviewParams) services.Result
	Get(ctx context.Context, id string) (*domain.Interview, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Interview, error)
}

// FeedbackService scores transcripts and reads stored feedback.
type FeedbackService interface {
	CreateFeedback(ctx context.Context, p services.CreateFeedbackParams) services.Result
	Latest(ctx context.Context, interviewID, userID string) (*domain.Feedback, error)
	List(ctx context.Context, interviewID, userID string) ([]domain.Feedback, error)
}

// ProfileService stores user profiles.
type ProfileService interface {
	Upsert(ctx context.Context, userID string, p services.ProfileParams) (*domain.User, error)
	Get(ctx context.Context, userID string) (*domain.User, error)
}

// SessionOptions configures live voice sessions.
type SessionOptions struct {
	// Registry tracks live sessions so shutdown can end them.
	Registry *session.Registry
	// AssistantID is the voice provider assistant started for each call.
	AssistantID string
	// FeedbackTimeout bounds feedback derivation after a call. Zero means
	// unbounded.
	FeedbackTimeout time.Duration
	// Voice tunes the browser relay connection.
	Voice voice.Config
	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints.
type Handlers struct {
	ivSvc      InterviewService
	fbSvc      FeedbackService
	profileSvc ProfileService

	sessions SessionOptions
	upgrader websocket.Upgrader
}

// New constructs Handlers bound to the given services.
func New(ivSvc InterviewService, fbSvc FeedbackService, profileSvc ProfileService, sessions SessionOptions) *Handlers {
	h := &Handlers{ivSvc: ivSvc, fbSvc: fbSvc, profileSvc: profileSvc, sessions: sessions}
	if h.sessions.Registry == nil {
		h.sessions.Registry = session.NewRegistry()
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 << 10,
		WriteBufferSize: 4 << 10,
		CheckOrigin:     originChecker(sessions.AllowedOrigins),
	}
	return h
}

// originChecker allows any origin when allowed is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// userID returns the caller's identity. Routes behind RequireUser always
// have one; elsewhere it may be empty.
func userID(c *gin.Context) string { return middleware.UserID(c) }

//
// DTOs
//

// ResultResponse is the envelope of generation and feedback creation.
type ResultResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message" example:"Feedback created successfully"`
	// ID of the created interview or feedback.
	ID string `json:"id,omitempty" example:"3f1c2a9e-5d7b-4c1e-9a0f-2b6d8e4c7a11"`
	// Redirect is the client route to navigate to next.
	Redirect string `json:"redirect,omitempty" example:"/3f1c2a9e-5d7b-4c1e-9a0f-2b6d8e4c7a11/feedback"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

//
// Helpers
//

// clampPagination parses page and page_size, applying defaults and caps.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	return utils.PageParams(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
}

// paginate returns the requested page of items with its metadata.
func paginate[T any](items []T, page, pageSize int) ([]T, Pagination) {
	start, end, totalPages := utils.PageWindow(len(items), page, pageSize)
	return items[start:end], Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      len(items),
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// notModified sets the ETag and reports whether the request's If-None-Match
// already matches it, in which case a 304 has been written.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// dbOf returns the GORM handle behind a concrete service, or nil for other
// implementations. ETags are skipped when it is nil.
func dbOf(svc any) *gorm.DB {
	switch s := svc.(type) {
	case *services.InterviewService:
		return s.DB
	case *services.FeedbackService:
		return s.DB
	}
	return nil
}
