package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-interview-backend/internal/domain"
	"github.com/tbourn/go-interview-backend/internal/http/middleware"
	"github.com/tbourn/go-interview-backend/internal/repo"
	"github.com/tbourn/go-interview-backend/internal/services"
	"github.com/tbourn/go-interview-backend/internal/session"
)

// CreateFeedbackRequest is the payload of POST /interviews/{id}/feedback.
type CreateFeedbackRequest struct {
	Transcript []domain.TranscriptEntry `json:"transcript" binding:"required,min=1,dive"`
}

// ListFeedbackResponse wraps the caller's feedback for one interview.
type ListFeedbackResponse struct {
	Feedback []domain.Feedback `json:"feedback"`
}

// CreateFeedback godoc
// @ID          createFeedback
// @Summary     Score an interview transcript
// @Description Evaluates the transcript with the model, stores the feedback and increments the interview's feedback counter in one transaction.
// @Description A repeated Idempotency-Key returns the first result with Idempotency-Replayed: true.
// @Description Scoring failures are reported with success=false and HTTP 200.
// @Tags        Feedback
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true   "Caller identity"  example(user123)
// @Param       Idempotency-Key  header  string  false  "Key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true   "Interview ID"  format(uuid)
// @Param       body             body    handlers.CreateFeedbackRequest  true  "Transcript"
//
// @Success     200  {object}  handlers.ResultResponse
// @Header      200  {string}  Idempotency-Replayed  "true when served from a stored result"
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed body or Idempotency-Key"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Router      /interviews/{id}/feedback [post]
func (h *Handlers) CreateFeedback(c *gin.Context) {
	var req CreateFeedbackRequest
	if !bindJSON(c, &req, "transcript must be a non-empty list of {role, content}") {
		return
	}

	interviewID := c.Param("id")
	key, _ := middleware.GetIdempotencyKey(c)
	res := h.fbSvc.CreateFeedback(c.Request.Context(), services.CreateFeedbackParams{
		InterviewID:    interviewID,
		UserID:         userID(c),
		Transcript:     req.Transcript,
		IdempotencyKey: key,
	})

	resp := ResultResponse{Success: res.Success, Message: res.Message, ID: res.ID, Redirect: session.HomeRoute}
	if res.Success {
		resp.Redirect = session.FeedbackRoute(interviewID)
	}
	if res.Replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
	ok(c, http.StatusOK, resp)
}

// ListFeedback godoc
// @ID          listFeedback
// @Summary     List my feedback for an interview
// @Description Returns every feedback the caller received for the interview, newest first. Supports a weak ETag via If-None-Match.
// @Tags        Feedback
// @Produce     json
//
// @Param       X-User-ID      header  string  true   "Caller identity"  example(user123)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       id             path    string  true   "Interview ID"  format(uuid)
//
// @Success     200  {object}  handlers.ListFeedbackResponse
// @Header      200  {string}  ETag  "Weak ETag for the caller's feedback"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse  "Interview not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /interviews/{id}/feedback [get]
func (h *Handlers) ListFeedback(c *gin.Context) {
	ctx := c.Request.Context()
	uid, interviewID := userID(c), c.Param("id")

	if db := dbOf(h.fbSvc); db != nil {
		if count, maxTS, err := repo.FeedbackStats(ctx, db, interviewID, uid); err == nil && count > 0 {
			if notModified(c, fmt.Sprintf(`W/"feedback:%s:%s:%d:%d"`, interviewID, uid, count, maxTS.UnixNano())) {
				return
			}
		}
	}

	items, err := h.fbSvc.List(ctx, interviewID, uid)
	if err != nil {
		if errors.Is(err, services.ErrInterviewNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "interview not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListFeedbackResponse{Feedback: items})
}

// LatestFeedback godoc
// @ID          latestFeedback
// @Summary     Get my newest feedback for an interview
// @Tags        Feedback
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"  example(user123)
// @Param       id         path    string  true  "Interview ID"     format(uuid)
//
// @Success     200  {object}  domain.Feedback
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse  "No feedback yet"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /interviews/{id}/feedback/latest [get]
func (h *Handlers) LatestFeedback(c *gin.Context) {
	fb, err := h.fbSvc.Latest(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, services.ErrFeedbackNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "feedback not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, fb)
}
