package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"helpdesk-sync/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Stream serves the caller's notifications as Server-Sent Events until the
// client goes away or the connection is dropped by the registry.
func (h *Handler) Stream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	userID := currentUser(c)
	sink := realtime.NewChannelSink(h.config.Realtime.BufferSize)
	conn, err := h.deps.Registry.Register(userID, sink)
	if err != nil {
		writeError(c, err)
		return
	}
	defer h.deps.Registry.Unregister(conn.ID)

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range sink.Events(c.Request.Context()) {
		if err := realtime.WriteSSE(w, event); err != nil {
			h.logger.Debugf("SSE write to connection %s failed: %v", conn.ID, err)
			return
		}
		flusher.Flush()
	}
}

// WebSocket serves the caller's notifications over a websocket. Incoming
// frames are discarded; a read error ends the connection.
func (h *Handler) WebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	userID := currentUser(c)
	conn, err := h.deps.Registry.Register(userID, realtime.NewWebSocketSink(ws, 10*time.Second))
	if err != nil {
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		_ = ws.Close()
		return
	}
	defer h.deps.Registry.Unregister(conn.ID)

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			h.logger.Debugf("WebSocket connection %s closed: %v", conn.ID, err)
			return
		}
	}
}

func (h *Handler) RealtimeDebug(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_connections": h.deps.Registry.ActiveConnectionCount(),
		"users":              h.deps.Registry.DebugSnapshot(),
	})
}
