package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/promptwatch/promptwatch-go/internal/infrastructure/messaging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// RealtimeHandlers exposes the staleness subscription over WebSocket
type RealtimeHandlers struct {
	broadcaster *messaging.StalenessBroadcaster
	logger      *logging.ChanneledLogger
	upgrader    websocket.Upgrader
}

// NewRealtimeHandlers creates realtime handlers with injected dependencies
func NewRealtimeHandlers(broadcaster *messaging.StalenessBroadcaster, logger *logging.ChanneledLogger) *RealtimeHandlers {
	return &RealtimeHandlers{
		broadcaster: broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced by the CORS layer in front of us.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// HandleSubscribe handles GET /api/v1/analytics/subscribe, pushing query
// lifecycle transitions to the client until it disconnects.
func (h *RealtimeHandlers) HandleSubscribe(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Events().Error("WebSocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	events := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(events)

	h.logger.Events().Info("Staleness subscriber connected", "remote", conn.RemoteAddr().String())

	// Reader loop: we never expect client messages, but reading is what
	// surfaces the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Events().Debug("Subscriber write failed, dropping connection", "error", err.Error())
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			h.logger.Events().Info("Staleness subscriber disconnected", "remote", conn.RemoteAddr().String())
			return
		}
	}
}
