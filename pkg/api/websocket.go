package api

import (
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler handles GET /api/v1/ws: it upgrades the connection and hands it
// off to the ConnectionManager for the rest of its lifecycle (registration,
// subscribe/unsubscribe commands, event fan-out). Blocks until the client
// disconnects.
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.API.AllowedWSOrigins,
	})
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.connManager.HandleConnection(c.Request.Context(), conn)
}
