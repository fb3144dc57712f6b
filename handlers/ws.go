package handlers

import (
	"net/http"

	"homehelp/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// DeviceSocket upgrades the phone's connection and attaches it to the
// customer's session bridge. The current state is pushed on connect.
func (h *DiscoveryHandler) DeviceSocket(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	logger := getLogger(c)
	p := middleware.PrincipalFrom(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("DeviceSocket: upgrade failed", zap.String("customerId", p.CustomerID), zap.Error(err))
		return
	}

	bridge := h.Hub.Bridge(p.CustomerID)
	bridge.Attach(conn)
	_ = bridge.Push(EventDiscoveryState, s.Orchestrator.State())
	bridge.Listen(conn)
}
