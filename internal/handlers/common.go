package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"classengage-backend/internal/middleware"
	"classengage-backend/internal/services"

	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Error string `json:"error" example:"something went wrong"`
	Code  string `json:"code,omitempty" example:"invalid_state"`
}

type MessageResponse struct {
	Message string `json:"message" example:"operation successful"`
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrNoMoreQuestions),
		errors.Is(err, services.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidAnswer),
		errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrSessionNotActive):
		return http.StatusLocked
	case errors.Is(err, services.ErrDeviceNotRegistered):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("handlers: %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, ErrorResponse{Error: "internal error", Code: services.ErrorCode(err)})
		return
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: services.ErrorCode(err)})
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + name, Code: "invalid_input"})
		return 0, false
	}
	return uint(id), true
}

func isInstructor(c *gin.Context) bool {
	identity, ok := middleware.IdentityFrom(c)
	return ok && identity.Can(services.CapSessionControl)
}
