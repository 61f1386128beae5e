package handlers

import (
	"context"
	"net/http"
	"strconv"

	"classengage-backend/internal/models"
	"classengage-backend/internal/services"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	sessions  *services.SessionService
	stats     *services.StatsService
	registry  *services.ConnectionRegistry
	responses *services.ResponseService
}

func NewSessionHandler(sessions *services.SessionService, stats *services.StatsService, registry *services.ConnectionRegistry, responses *services.ResponseService) *SessionHandler {
	return &SessionHandler{sessions: sessions, stats: stats, registry: registry, responses: responses}
}

type CreateSessionRequest struct {
	ActivityID       uint   `json:"activity_id" binding:"required" example:"1"`
	Name             string `json:"name" binding:"max=255" example:"Week 3 check-in"`
	TimeLimitSeconds int    `json:"time_limit_seconds" binding:"omitempty,min=1,max=3600" example:"30"`
	ShuffleAnswers   bool   `json:"shuffle_answers"`
}

// CreateSession godoc
// @Summary      Create a quiz session
// @Description  Snapshot an activity's questions into a new session in the ready state
// @Tags         sessions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CreateSessionRequest true "Session data"
// @Success      201 {object} models.Session
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/sessions [post]
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
		return
	}

	sess, err := h.sessions.Create(c.Request.Context(), req.ActivityID, req.Name, req.TimeLimitSeconds, req.ShuffleAnswers)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// ListSessions godoc
// @Summary      List sessions of an activity
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        activity_id query int true "Activity ID"
// @Success      200 {array} models.Session
// @Router       /api/v1/sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	activityID, err := strconv.ParseUint(c.Query("activity_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "activity_id query parameter required", Code: "invalid_input"})
		return
	}

	sessions, err := h.sessions.List(c.Request.Context(), uint(activityID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// GetSession godoc
// @Summary      Get session state
// @Description  Current state of a session including the question on screen and time remaining
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} services.CurrentQuestion
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	cq, err := h.sessions.GetCurrentQuestion(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cq)
}

// Start godoc
// @Summary      Start a ready session
// @Tags         sessions
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} services.CurrentQuestion
// @Failure      409 {object} ErrorResponse
// @Router       /api/v1/sessions/{id}/start [post]
func (h *SessionHandler) Start(c *gin.Context) {
	h.control(c, h.sessions.Start)
}

// Pause godoc
// @Summary      Pause an active session, freezing the timer
// @Tags         sessions
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Router       /api/v1/sessions/{id}/pause [post]
func (h *SessionHandler) Pause(c *gin.Context) {
	h.control(c, h.sessions.Pause)
}

// Resume godoc
// @Summary      Resume a paused session with the time left at pause
// @Tags         sessions
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Router       /api/v1/sessions/{id}/resume [post]
func (h *SessionHandler) Resume(c *gin.Context) {
	h.control(c, h.sessions.Resume)
}

// Next godoc
// @Summary      Advance to the next question
// @Description  Returns 409 with code no_more_questions on the last question; the session stays active.
// @Tags         sessions
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Router       /api/v1/sessions/{id}/next [post]
func (h *SessionHandler) Next(c *gin.Context) {
	h.control(c, h.sessions.Next)
}

// Stop godoc
// @Summary      Complete the session
// @Tags         sessions
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Router       /api/v1/sessions/{id}/stop [post]
func (h *SessionHandler) Stop(c *gin.Context) {
	h.control(c, h.sessions.Stop)
}

func (h *SessionHandler) control(c *gin.Context, op func(context.Context, uint) (*models.Session, error)) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if _, err := op(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}

	cq, err := h.sessions.GetCurrentQuestion(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cq)
}

// DeleteSession godoc
// @Summary      Delete a completed session and its responses
// @Tags         sessions
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} MessageResponse
// @Failure      409 {object} ErrorResponse
// @Router       /api/v1/sessions/{id} [delete]
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.sessions.Delete(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "session deleted"})
}

// GetStats godoc
// @Summary      Answer distribution of the current question
// @Tags         statistics
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} services.QuestionStats
// @Router       /api/v1/sessions/{id}/stats [get]
func (h *SessionHandler) GetStats(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	stats, err := h.stats.GetCurrentQuestionStats(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetSummary godoc
// @Summary      Session-wide participation summary
// @Description  Completed sessions also carry the stored final snapshot.
// @Tags         statistics
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} services.SessionSummary
// @Router       /api/v1/sessions/{id}/summary [get]
func (h *SessionHandler) GetSummary(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	summary, err := h.stats.GetSessionSummary(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	if summary.Status != models.SessionStatusCompleted {
		c.JSON(http.StatusOK, gin.H{"summary": summary})
		return
	}

	snapshot, err := h.stats.GetSnapshot(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"summary": summary})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "snapshot": snapshot})
}

// ListStudents godoc
// @Summary      Presence of every student who joined the session
// @Tags         statistics
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Router       /api/v1/sessions/{id}/students [get]
func (h *SessionHandler) ListStudents(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	students, err := h.registry.ListStudents(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	conns, err := h.registry.GetStatistics(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "connections": conns})
}

// ListResponses is the export surface for analytics after a session ends.
func (h *SessionHandler) ListResponses(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	responses, err := h.responses.ListForSession(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, responses)
}
