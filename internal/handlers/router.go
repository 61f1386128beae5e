package handlers

import (
	"classengage-backend/internal/middleware"
	"classengage-backend/internal/services"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Sessions   *SessionHandler
	Students   *StudentHandler
	Clicker    *ClickerHandler
	Activities *ActivityHandler
	Stream     *StreamHandler
}

func RegisterRoutes(r *gin.Engine, h Handlers, authService *services.AuthService) {
	jwt := middleware.JWTAuth(authService)
	control := middleware.RequireCapability(services.CapSessionControl)
	participate := middleware.RequireCapability(services.CapParticipate)
	manage := middleware.RequireCapability(services.CapActivityManage)
	watch := middleware.RequireCapability(services.CapSessionControl, services.CapParticipate)
	registerDevices := middleware.RequireCapability(services.CapClickerRegister)

	r.GET("/ws/sessions/:id", jwt, watch, h.Stream.HandleWebSocket)

	api := r.Group("/api/v1")
	{
		activities := api.Group("/activities")
		activities.Use(jwt, manage)
		{
			activities.GET("", h.Activities.ListActivities)
			activities.POST("", h.Activities.CreateActivity)
			activities.GET("/:id", h.Activities.GetActivity)
			activities.POST("/:id/questions", h.Activities.AddQuestion)
		}

		questions := api.Group("/questions")
		questions.Use(jwt, manage)
		{
			questions.DELETE("/:id", h.Activities.DeleteQuestion)
		}

		sessions := api.Group("/sessions")
		sessions.Use(jwt)
		{
			sessions.GET("", control, h.Sessions.ListSessions)
			sessions.POST("", control, h.Sessions.CreateSession)
			sessions.GET("/:id", control, h.Sessions.GetSession)
			sessions.DELETE("/:id", control, h.Sessions.DeleteSession)
			sessions.POST("/:id/start", control, h.Sessions.Start)
			sessions.POST("/:id/pause", control, h.Sessions.Pause)
			sessions.POST("/:id/resume", control, h.Sessions.Resume)
			sessions.POST("/:id/next", control, h.Sessions.Next)
			sessions.POST("/:id/stop", control, h.Sessions.Stop)
			sessions.GET("/:id/stats", control, h.Sessions.GetStats)
			sessions.GET("/:id/summary", control, h.Sessions.GetSummary)
			sessions.GET("/:id/students", control, h.Sessions.ListStudents)
			sessions.GET("/:id/responses", control, h.Sessions.ListResponses)

			sessions.GET("/:id/current", participate, h.Students.GetCurrentQuestion)
			sessions.POST("/:id/answer", participate, h.Students.SubmitAnswer)
			sessions.POST("/:id/connect", participate, h.Students.Connect)
			sessions.POST("/:id/heartbeat", participate, h.Students.Heartbeat)
			sessions.POST("/:id/disconnect", participate, h.Students.Disconnect)

			sessions.GET("/:id/poll", watch, h.Students.Poll)
			sessions.GET("/:id/stream", watch, h.Stream.Stream)
		}

		clicker := api.Group("/clicker")
		clicker.Use(middleware.ClickerHubAuth(authService))
		{
			clicker.POST("/sessions/:id/responses", h.Clicker.SubmitBatch)
		}

		devices := api.Group("/clicker/devices")
		devices.Use(jwt, registerDevices)
		{
			devices.POST("", h.Clicker.RegisterDevice)
			devices.DELETE("/:device_id", h.Clicker.UnregisterDevice)
		}
	}
}
