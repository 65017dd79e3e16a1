package wsapi

import (
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rtmsg/broker/internal/observability"
	"github.com/rtmsg/broker/internal/protocol"
	"github.com/rtmsg/broker/internal/protocolerr"
)

// wsSocket adapts a gorilla *websocket.Conn to tcpconn.Socket. The
// tcpserver.Handler it sits behind always writes length-prefixed binary
// frames produced by *protocol.Codec — wsSocket.Write unpacks those
// frames back into the WebSocket's flat JSON wire shape (spec.md §6
// "WebSocket wire format") before sending, so the session can reuse the
// TCP handler's decisions verbatim instead of re-implementing them.
type wsSocket struct {
	conn       *websocket.Conn
	remoteIP   string
	remotePort int

	mu sync.Mutex
}

func (s *wsSocket) Write(b []byte) error {
	msg, err := frameToWireJSON(b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		return err
	}
	observability.RecordWebSocketMessage("sent")
	return nil
}

func (s *wsSocket) Close() error      { return s.conn.Close() }
func (s *wsSocket) RemoteIP() string  { return s.remoteIP }
func (s *wsSocket) RemotePort() int   { return s.remotePort }

// frameToWireJSON unpacks a codec-encoded TCP frame into the flat
// {type, ...fields} object the WebSocket wire format uses.
func frameToWireJSON(frame []byte) (map[string]any, error) {
	if len(frame) < 5 {
		return nil, protocolerr.New(protocolerr.InvalidFrame, "short frame")
	}
	length := binary.BigEndian.Uint32(frame[:4])
	if int(length)+4 > len(frame) {
		return nil, protocolerr.New(protocolerr.InvalidFrame, "truncated frame")
	}
	typ := protocol.Type(frame[4])
	payload := frame[5 : 4+length]

	out := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, protocolerr.Wrap(protocolerr.InvalidFrame, "invalid payload JSON", err)
		}
	}

	out["type"] = wireTypeName(typ)
	if typ == protocol.TypeServerMessage {
		if content, ok := out["content"]; ok {
			delete(out, "content")
			out["data"] = content
		}
	}
	return out, nil
}

func wireTypeName(t protocol.Type) string {
	switch t {
	case protocol.TypeAuthSuccess:
		return "auth_success"
	case protocol.TypeAuthError:
		return "auth_error"
	case protocol.TypeSubscribed:
		return "subscribed"
	case protocol.TypeUnsubscribed:
		return "unsubscribed"
	case protocol.TypeServerMessage:
		return "message"
	case protocol.TypePong:
		return "pong"
	case protocol.TypeError:
		return "error"
	default:
		return "unknown"
	}
}

// wireMessageToProtocol translates an inbound client->server JSON
// message into the internal protocol.Message shape the shared
// tcpserver.Handler dispatches on.
func wireMessageToProtocol(raw map[string]any) protocol.Message {
	typeName, _ := raw["type"].(string)
	switch typeName {
	case "auth":
		return protocol.Message{Type: protocol.TypeAuth, Data: map[string]any{"token": raw["token"]}}
	case "subscribe":
		return protocol.Message{Type: protocol.TypeSubscribe, Data: map[string]any{"topic": raw["topic"]}}
	case "unsubscribe":
		return protocol.Message{Type: protocol.TypeUnsubscribe, Data: map[string]any{"topic": raw["topic"]}}
	case "message":
		return protocol.Message{Type: protocol.TypeMessage, Data: map[string]any{
			"topic":   raw["topic"],
			"content": raw["data"],
		}}
	case "ping":
		return protocol.Message{Type: protocol.TypePing}
	default:
		// Not in the valid TCP type set, so the shared handler's
		// dispatch falls through to its "unknown type" branch.
		return protocol.Message{Type: protocol.Type(0x00)}
	}
}
