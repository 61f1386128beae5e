package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"classengage-backend/internal/broadcast"
	"classengage-backend/internal/models"
	"classengage-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type StreamHandler struct {
	streamer *broadcast.Streamer
	registry *services.ConnectionRegistry
}

func NewStreamHandler(streamer *broadcast.Streamer, registry *services.ConnectionRegistry) *StreamHandler {
	return &StreamHandler{streamer: streamer, registry: registry}
}

type sseSink struct {
	c *gin.Context
}

func (s sseSink) Send(ev broadcast.Event) error {
	if err := s.c.Request.Context().Err(); err != nil {
		return err
	}
	s.c.SSEvent(ev.Type, ev)
	s.c.Writer.Flush()
	return nil
}

type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) Send(ev broadcast.Event) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}

// viewer registers a push connection for students. Instructors watch without
// being counted as participants.
func (h *StreamHandler) viewer(c *gin.Context, sessionID uint) (broadcast.Viewer, error) {
	v := broadcast.Viewer{
		SessionID:  sessionID,
		UserID:     c.GetUint("user_id"),
		Instructor: isInstructor(c),
	}
	if v.Instructor {
		return v, nil
	}
	conn, err := h.registry.Register(c.Request.Context(), sessionID, v.UserID, c.Query("connection_id"), models.TransportPush)
	if err != nil {
		return v, err
	}
	v.ConnectionID = conn.ConnectionID
	return v, nil
}

// Stream godoc
// @Summary      Server-Sent Events stream of session events
// @Description  Ends with a reconnect event after the maximum stream runtime.
// @Tags         realtime
// @Produce      text/event-stream
// @Param        id path int true "Session ID"
// @Param        connection_id query string false "Connection to resume"
// @Router       /api/v1/sessions/{id}/stream [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	v, err := h.viewer(c, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if err := h.streamer.Run(c.Request.Context(), v, sseSink{c: c}); err != nil {
		log.Printf("stream: sse session %d user %d: %v", sessionID, v.UserID, err)
	}
}

// HandleWebSocket godoc
// @Summary      WebSocket stream of session events
// @Description  Same frames as the SSE stream, one JSON object per message.
// @Tags         realtime
// @Param        id path int true "Session ID"
// @Router       /ws/sessions/{id} [get]
func (h *StreamHandler) HandleWebSocket(c *gin.Context) {
	sessionID, ok := parseID(c, "id")
	if !ok {
		return
	}
	v, err := h.viewer(c, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// reads only detect the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.streamer.Run(ctx, v, wsSink{conn: conn}); err != nil {
		log.Printf("stream: websocket session %d user %d: %v", sessionID, v.UserID, err)
		return
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
