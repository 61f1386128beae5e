package handlers

import (
	"net/http"

	"classengage-backend/internal/services"

	"github.com/gin-gonic/gin"
)

type ActivityHandler struct {
	activities       *services.ActivityService
	defaultTimeLimit int
}

func NewActivityHandler(activities *services.ActivityService, defaultTimeLimit int) *ActivityHandler {
	if defaultTimeLimit <= 0 {
		defaultTimeLimit = 30
	}
	return &ActivityHandler{activities: activities, defaultTimeLimit: defaultTimeLimit}
}

type CreateActivityRequest struct {
	Name             string `json:"name" binding:"required,min=1,max=255" example:"Biology 101"`
	TimeLimitSeconds int    `json:"time_limit_seconds" binding:"omitempty,min=1,max=3600" example:"30"`
}

// CreateActivity godoc
// @Summary      Create an activity
// @Tags         activities
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CreateActivityRequest true "Activity data"
// @Success      201 {object} models.Activity
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/activities [post]
func (h *ActivityHandler) CreateActivity(c *gin.Context) {
	var req CreateActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
		return
	}
	if req.TimeLimitSeconds == 0 {
		req.TimeLimitSeconds = h.defaultTimeLimit
	}

	activity, err := h.activities.CreateActivity(c.Request.Context(), req.Name, req.TimeLimitSeconds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, activity)
}

func (h *ActivityHandler) ListActivities(c *gin.Context) {
	activities, err := h.activities.ListActivities(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, activities)
}

// GetActivity godoc
// @Summary      Get an activity with its questions
// @Tags         activities
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Activity ID"
// @Success      200 {object} models.Activity
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/activities/{id} [get]
func (h *ActivityHandler) GetActivity(c *gin.Context) {
	activityID, ok := parseID(c, "id")
	if !ok {
		return
	}

	activity, err := h.activities.GetActivity(c.Request.Context(), activityID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, activity)
}

// AddQuestion godoc
// @Summary      Append a multiple-choice question
// @Description  Two to four options keyed A-D; correct_answer must be one of them.
// @Tags         activities
// @Accept       json
// @Security     BearerAuth
// @Param        id path int true "Activity ID"
// @Param        request body services.QuestionInput true "Question"
// @Success      201 {object} models.Question
// @Router       /api/v1/activities/{id}/questions [post]
func (h *ActivityHandler) AddQuestion(c *gin.Context) {
	activityID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.QuestionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
		return
	}

	question, err := h.activities.AddQuestion(c.Request.Context(), activityID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, question)
}

func (h *ActivityHandler) DeleteQuestion(c *gin.Context) {
	questionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.activities.DeleteQuestion(c.Request.Context(), questionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "question deleted"})
}
