package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-interview-backend/internal/domain"
	"github.com/tbourn/go-interview-backend/internal/repo"
	"github.com/tbourn/go-interview-backend/internal/services"
	"github.com/tbourn/go-interview-backend/internal/session"
)

// GenerateInterviewRequest is the payload of POST /interviews. Field rules
// are enforced by the service so that they surface in the result envelope.
type GenerateInterviewRequest struct {
	CompanyName string `json:"company_name" example:"Acme"`
	// CompanyLogo is an optional data URL or raw base64 image.
	CompanyLogo    string   `json:"company_logo" example:"data:image/png;base64,iVBORw0KGgo="`
	Role           string   `json:"role" example:"Backend Engineer"`
	Level          string   `json:"level" example:"Senior"`
	Type           string   `json:"type" example:"Mixed"`
	Techstack      []string `json:"techstack" example:"Go,PostgreSQL"`
	Amount         int      `json:"amount" example:"5"`
	JobDescription string   `json:"job_description" example:"Own our billing services written in Go."`
}

// ListInterviewsResponse wraps a page of interviews.
type ListInterviewsResponse struct {
	Interviews []domain.Interview `json:"interviews"`
	Pagination Pagination         `json:"pagination"`
}

// GenerateInterview godoc
// @ID          generateInterview
// @Summary     Generate an interview
// @Description Asks the model for `amount` questions tailored to the role, the job description and the caller's resume, then stores the interview.
// @Description Generation failures are reported with success=false and HTTP 200.
// @Tags        Interviews
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"  example(user123)
// @Param       body       body    handlers.GenerateInterviewRequest  true  "Interview parameters"
//
// @Success     200  {object}  handlers.ResultResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed body"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Router      /interviews [post]
func (h *Handlers) GenerateInterview(c *gin.Context) {
	var req GenerateInterviewRequest
	if !bindJSON(c, &req, "invalid JSON body") {
		return
	}

	res := h.ivSvc.GenerateInterview(c.Request.Context(), services.GenerateInterviewParams{
		UserID:         userID(c),
		CompanyName:    req.CompanyName,
		CompanyLogo:    req.CompanyLogo,
		Role:           req.Role,
		Level:          req.Level,
		Type:           req.Type,
		Techstack:      req.Techstack,
		Amount:         req.Amount,
		JobDescription: req.JobDescription,
	})
	resp := ResultResponse{Success: res.Success, Message: res.Message, ID: res.ID}
	if res.Success {
		resp.Redirect = session.HomeRoute
	}
	ok(c, http.StatusOK, resp)
}

// ListInterviews godoc
// @ID          listInterviews
// @Summary     List my interviews
// @Description Returns the caller's interviews, newest first. Supports a weak ETag via If-None-Match.
// @Tags        Interviews
// @Produce     json
//
// @Param       X-User-ID      header  string  true   "Caller identity"             example(user123)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListInterviewsResponse
// @Header      200  {string}  ETag  "Weak ETag for the caller's interviews"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /interviews [get]
func (h *Handlers) ListInterviews(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// The ETag also moves when a feedback is added to any of the interviews.
	if db := dbOf(h.ivSvc); db != nil {
		if count, feedbacks, maxTS, err := repo.InterviewsStats(ctx, db, uid); err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			if notModified(c, fmt.Sprintf(`W/"interviews:%s:%d:%d:%d"`, uid, count, feedbacks, ts)) {
				return
			}
		}
	}

	items, err := h.ivSvc.ListByUser(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	page, pageSize := clampPagination(c)
	pageItems, p := paginate(items, page, pageSize)
	ok(c, http.StatusOK, ListInterviewsResponse{Interviews: pageItems, Pagination: p})
}

// GetInterview godoc
// @ID          getInterview
// @Summary     Get an interview
// @Tags        Interviews
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"  example(user123)
// @Param       id         path    string  true  "Interview ID"     format(uuid)
//
// @Success     200  {object}  domain.Interview
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse  "Interview not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /interviews/{id} [get]
func (h *Handlers) GetInterview(c *gin.Context) {
	iv, err := h.ivSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrInterviewNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "interview not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, iv)
}
