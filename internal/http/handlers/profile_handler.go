package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-interview-backend/internal/services"
)

// UpsertProfileRequest is the payload of PUT /me/profile.
type UpsertProfileRequest struct {
	Name  string `json:"name" binding:"required,max=255" example:"Ada Lovelace"`
	Email string `json:"email" binding:"omitempty,email,max=255" example:"ada@example.com"`
	// Resume is plain text; interview generation reads it.
	Resume     string `json:"resume" example:"Senior Go engineer, five years on payments."`
	ProfilePic string `json:"profile_pic" binding:"omitempty,url" example:"https://cdn.example.com/ada.png"`
}

// UpsertProfile godoc
// @ID          upsertProfile
// @Summary     Store my profile
// @Description Creates or replaces the caller's name, email, resume and picture. The resume is sanitized before it is stored.
// @Tags        Profile
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"  example(user123)
// @Param       body       body    handlers.UpsertProfileRequest  true  "Profile"
//
// @Success     200  {object}  domain.User
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid profile"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /me/profile [put]
func (h *Handlers) UpsertProfile(c *gin.Context) {
	var req UpsertProfileRequest
	if !bindJSON(c, &req, "name required; email and profile_pic must be valid when set") {
		return
	}

	u, err := h.profileSvc.Upsert(c.Request.Context(), userID(c), services.ProfileParams{
		Name:       req.Name,
		Email:      req.Email,
		Resume:     req.Resume,
		ProfilePic: req.ProfilePic,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMissingField), errors.Is(err, services.ErrResumeTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, u)
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Get my profile
// @Tags        Profile
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"  example(user123)
//
// @Success     200  {object}  domain.User
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse  "No profile yet"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /me/profile [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	u, err := h.profileSvc.Get(c.Request.Context(), userID(c))
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "profile not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, u)
}
