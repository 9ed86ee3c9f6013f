package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/go-interview-backend/internal/http/middleware"
	"github.com/tbourn/go-interview-backend/internal/services"
	"github.com/tbourn/go-interview-backend/internal/session"
	"github.com/tbourn/go-interview-backend/internal/voice"
)

// InterviewSession godoc
// @ID          interviewSession
// @Summary     Run a live interview call
// @Description Upgrades to a WebSocket that relays the browser's voice provider events to a server-side session.
// @Description The session asks the questions of the interview, aggregates the transcript and, when an active call ends, derives feedback.
// @Description The final "state" frame carries the outcome and the route to navigate to. A second session for the same user and interview replaces the first.
// @Tags        Sessions
//
// @Param       X-User-ID  header  string  true  "Caller identity"  example(user123)
// @Param       id         path    string  true  "Interview ID"     format(uuid)
//
// @Success     101  {string}  string  "Switching Protocols"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse  "Interview not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Failure     503  {object}  handlers.ErrorResponse  "Server shutting down"
// @Router      /interviews/{id}/session [get]
func (h *Handlers) InterviewSession(c *gin.Context) {
	uid := userID(c)
	iv, err := h.ivSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrInterviewNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "interview not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	if h.sessions.Registry.Closed() {
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "server is shutting down")
		return
	}

	// Upgrade writes its own error response.
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		middleware.LoggerFrom(c).Debug().Err(err).Msg("websocket upgrade refused")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	unregister, err := h.sessions.Registry.Register(session.Key(uid, iv.ID), session.Handle{Cancel: cancel})
	if err != nil {
		// Shutdown began between the check above and the upgrade.
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server is shutting down"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	defer unregister()

	conn := voice.NewConn(ws, h.sessions.Voice)
	m := session.New(session.Config{
		InterviewID:     iv.ID,
		UserID:          uid,
		AssistantID:     h.sessions.AssistantID,
		Questions:       iv.Questions,
		Channel:         conn,
		Feedback:        h.fbSvc,
		FeedbackTimeout: h.sessions.FeedbackTimeout,
		Logger:          middleware.LoggerFrom(c),
	})

	lg := middleware.LoggerFrom(c)
	lg.Info().Str("interview_id", iv.ID).Msg("session opened")
	voice.Bridge(ctx, conn, m)
	snap := m.Snapshot()
	ev := lg.Info().Str("interview_id", iv.ID).Int("turns", len(snap.Turns))
	if snap.Outcome != nil {
		ev = ev.Bool("success", snap.Outcome.Success).Str("feedback_id", snap.Outcome.FeedbackID)
	}
	ev.Msg("session closed")
}
