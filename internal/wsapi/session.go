// Package wsapi implements the WebSocket Session: a JSON text-framed
// analogue of the TCP session (spec.md §2, §6) that shares the TCP
// handler's state machine and business logic via wsSocket's frame-to-
// JSON translation rather than duplicating it.
package wsapi

import (
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rtmsg/broker/internal/observability"
	"github.com/rtmsg/broker/internal/tcpconn"
	"github.com/rtmsg/broker/internal/tcpserver"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades incoming HTTP requests to WebSocket sessions and
// drives each one through the shared tcpserver.Handler.
type Server struct {
	manager *tcpconn.Manager
	handler *tcpserver.Handler
	log     *zap.Logger
}

func NewServer(manager *tcpconn.Manager, handler *tcpserver.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{manager: manager, handler: handler, log: log}
}

// ServeHTTP upgrades the request and blocks for the lifetime of the
// session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ip, port := splitRemote(conn.RemoteAddr().String())
	socket := &wsSocket{conn: conn, remoteIP: ip, remotePort: port}

	registered, err := s.manager.AddConnection(socket)
	if err != nil {
		s.log.Debug("websocket connection rejected", zap.Error(err))
		_ = conn.WriteJSON(map[string]any{"type": "error", "code": "CONFLICT", "message": "Connection limit reached"})
		return
	}
	observability.RecordWebSocketConnection(1)
	defer observability.RecordWebSocketConnection(-1)

	for {
		var raw map[string]any
		if err := conn.ReadJSON(&raw); err != nil {
			break
		}
		observability.RecordWebSocketMessage("received")
		s.manager.UpdateActivity(registered.ID)
		msg := wireMessageToProtocol(raw)
		s.handler.HandleMessage(registered.ID, msg)
	}

	s.handler.Disconnect(registered.ID)
}

func splitRemote(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
