package handlers

import (
	"errors"
	"net/http"
	"time"

	"classengage-backend/internal/broadcast"
	"classengage-backend/internal/models"
	"classengage-backend/internal/services"

	"github.com/gin-gonic/gin"
)

type StudentHandler struct {
	sessions  *services.SessionService
	responses *services.ResponseService
	registry  *services.ConnectionRegistry
	poller    *broadcast.Poller
}

func NewStudentHandler(sessions *services.SessionService, responses *services.ResponseService, registry *services.ConnectionRegistry, poller *broadcast.Poller) *StudentHandler {
	return &StudentHandler{sessions: sessions, responses: responses, registry: registry, poller: poller}
}

type SubmitAnswerRequest struct {
	Answer          string     `json:"answer" binding:"required,max=4" example:"B"`
	ClientTimestamp *time.Time `json:"client_timestamp"`
}

type ConnectRequest struct {
	ConnectionID string `json:"connection_id" binding:"omitempty,max=36"`
	Transport    string `json:"transport" binding:"omitempty,oneof=push poll" example:"poll"`
}

type HeartbeatRequest struct {
	ConnectionID string `json:"connection_id" binding:"required,max=36"`
}

// GetCurrentQuestion godoc
// @Summary      Question currently on screen
// @Description  Never includes the correct answer. Options may be shuffled per student.
// @Tags         students
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Success      200 {object} services.CurrentQuestion
// @Router       /api/v1/sessions/{id}/current [get]
func (h *StudentHandler) GetCurrentQuestion(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	cq, err := h.sessions.GetCurrentQuestion(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cq.ForUser(c.GetUint("user_id")))
}

// SubmitAnswer godoc
// @Summary      Submit an answer for the current question
// @Description  A repeat submission returns 200 with already_recorded set and the original result.
// @Tags         students
// @Accept       json
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        request body SubmitAnswerRequest true "Answer"
// @Success      201 {object} services.SubmitResult
// @Success      200 {object} services.SubmitResult
// @Failure      400 {object} ErrorResponse
// @Failure      423 {object} ErrorResponse
// @Router       /api/v1/sessions/{id}/answer [post]
func (h *StudentHandler) SubmitAnswer(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
		return
	}

	result, err := h.responses.SubmitSingle(c.Request.Context(), sessionID, c.GetUint("user_id"), req.Answer, req.ClientTimestamp)
	if errors.Is(err, services.ErrDuplicateSubmission) && result != nil {
		c.JSON(http.StatusOK, result)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Connect godoc
// @Summary      Register a live connection
// @Description  Reconnecting supersedes the student's earlier connections.
// @Tags         students
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        request body ConnectRequest false "Connection"
// @Router       /api/v1/sessions/{id}/connect [post]
func (h *StudentHandler) Connect(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req ConnectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
			return
		}
	}
	if req.Transport == "" {
		req.Transport = models.TransportPoll
	}

	conn, err := h.registry.Register(c.Request.Context(), sessionID, c.GetUint("user_id"), req.ConnectionID, req.Transport)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"connection_id":    conn.ConnectionID,
		"transport":        conn.Transport,
		"server_timestamp": conn.LastActivityAt,
		"stale_after_secs": int(h.registry.StaleAfter().Seconds()),
	})
}

// Heartbeat godoc
// @Summary      Keep a poll connection alive
// @Tags         students
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        request body HeartbeatRequest true "Connection"
// @Success      200 {object} services.HeartbeatResult
// @Router       /api/v1/sessions/{id}/heartbeat [post]
func (h *StudentHandler) Heartbeat(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
		return
	}

	result, err := h.registry.Heartbeat(c.Request.Context(), sessionID, c.GetUint("user_id"), req.ConnectionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *StudentHandler) Disconnect(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
		return
	}

	if err := h.registry.Disconnect(c.Request.Context(), sessionID, c.GetUint("user_id"), req.ConnectionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "disconnected"})
}

// Poll godoc
// @Summary      Poll-transport snapshot of the session's events
// @Description  Pass back stats_hash and students_hash to receive only changed instructor frames.
// @Tags         students
// @Security     BearerAuth
// @Param        id path int true "Session ID"
// @Param        connection_id query string false "Connection to refresh"
// @Param        last_status query string false "Status the client last saw"
// @Param        stats_hash query string false "Hash of the last stats_update"
// @Param        students_hash query string false "Hash of the last students_update"
// @Success      200 {object} broadcast.Snapshot
// @Router       /api/v1/sessions/{id}/poll [get]
func (h *StudentHandler) Poll(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	viewer := broadcast.Viewer{
		SessionID:    sessionID,
		UserID:       c.GetUint("user_id"),
		ConnectionID: c.Query("connection_id"),
		Instructor:   isInstructor(c),
	}
	snap, err := h.poller.Snapshot(c.Request.Context(), viewer, broadcast.PollRequest{
		LastStatus:   c.Query("last_status"),
		StatsHash:    c.Query("stats_hash"),
		StudentsHash: c.Query("students_hash"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
