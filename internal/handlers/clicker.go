package handlers

import (
	"net/http"

	"classengage-backend/internal/services"

	"github.com/gin-gonic/gin"
)

const maxBatchSize = 500

type ClickerHandler struct {
	responses *services.ResponseService
	devices   *services.ClickerService
}

func NewClickerHandler(responses *services.ResponseService, devices *services.ClickerService) *ClickerHandler {
	return &ClickerHandler{responses: responses, devices: devices}
}

type BatchRequest struct {
	Responses []services.BatchItem `json:"responses" binding:"required,min=1"`
}

type RegisterDeviceRequest struct {
	DeviceID string `json:"device_id" binding:"required,max=64" example:"A1B2C3"`
	UserID   uint   `json:"user_id" binding:"required" example:"42"`
}

// SubmitBatch godoc
// @Summary      Bulk answers from a clicker hub
// @Description  Each item is processed independently; the response reports per-item outcomes.
// @Tags         clicker
// @Accept       json
// @Param        X-Clicker-Hub-Key header string true "Hub key"
// @Param        id path int true "Session ID"
// @Param        request body BatchRequest true "Answers"
// @Success      200 {object} services.BatchResult
// @Router       /api/v1/clicker/sessions/{id}/responses [post]
func (h *ClickerHandler) SubmitBatch(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
		return
	}
	if len(req.Responses) > maxBatchSize {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "batch too large", Code: "invalid_input"})
		return
	}

	c.JSON(http.StatusOK, h.responses.SubmitBatch(c.Request.Context(), sessionID, req.Responses))
}

func (h *ClickerHandler) RegisterDevice(c *gin.Context) {
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
		return
	}

	device, err := h.devices.Register(c.Request.Context(), req.DeviceID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, device)
}

func (h *ClickerHandler) UnregisterDevice(c *gin.Context) {
	if err := h.devices.Unregister(c.Request.Context(), c.Param("device_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "device unregistered"})
}
