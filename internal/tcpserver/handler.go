// Package tcpserver implements the TCP Server accept loop (spec.md
// §4.7) and the TCP Message Handler state machine (spec.md §4.8).
package tcpserver

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rtmsg/broker/internal/auth"
	"github.com/rtmsg/broker/internal/domain"
	"github.com/rtmsg/broker/internal/protocol"
	"github.com/rtmsg/broker/internal/pubsub"
	"github.com/rtmsg/broker/internal/tcpconn"
)

// UserRepository is the collaborator the AUTH step uses to load the
// user record after token verification succeeds.
type UserRepository interface {
	GetByID(id string) (*domain.User, error)
}

// Counters are the global handler-level counters spec.md §4.8 requires.
type Counters struct {
	MessagesProcessed uint64
	AuthAttempts      uint64
	AuthSuccesses     uint64
	AuthFailures      uint64
	Subscriptions     uint64
	Unsubscriptions   uint64
	MessagesPublished uint64
	Errors            uint64
}

// Handler routes decoded messages by type, mutating the Connection
// Manager and Broker cooperatively per connection. One Handler instance
// is shared by every connection; all per-connection state lives in the
// Connection Manager, so the handler itself holds only its
// collaborators and monotonic counters.
type Handler struct {
	manager  *tcpconn.Manager
	broker   *pubsub.Broker
	codec    *protocol.Codec
	verifier auth.TokenVerifier
	users    UserRepository
	log      *zap.Logger

	messagesProcessed atomic.Uint64
	authAttempts      atomic.Uint64
	authSuccesses     atomic.Uint64
	authFailures      atomic.Uint64
	subscriptions     atomic.Uint64
	unsubscriptions   atomic.Uint64
	messagesPublished atomic.Uint64
	errors            atomic.Uint64
}

func NewHandler(manager *tcpconn.Manager, broker *pubsub.Broker, codec *protocol.Codec, verifier auth.TokenVerifier, users UserRepository, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{manager: manager, broker: broker, codec: codec, verifier: verifier, users: users, log: log}
}

// HandleMessage dispatches one decoded message for connId. PING/PONG
// advance activity; UpdateActivity itself is the caller's (server's)
// responsibility before this is invoked, for every frame type.
func (h *Handler) HandleMessage(connID string, msg protocol.Message) {
	h.messagesProcessed.Add(1)

	switch msg.Type {
	case protocol.TypeAuth:
		h.handleAuth(connID, msg)
	case protocol.TypeSubscribe:
		h.handleSubscribe(connID, msg)
	case protocol.TypeUnsubscribe:
		h.handleUnsubscribe(connID, msg)
	case protocol.TypeMessage:
		h.handlePublish(connID, msg)
	case protocol.TypePing:
		h.handlePing(connID)
	case protocol.TypePong:
		// Activity already bumped before dispatch; nothing else to do.
	default:
		h.errors.Add(1)
		h.sendError(connID, "INVALID_MESSAGE_TYPE", "Unknown message type")
	}
}

func (h *Handler) handleAuth(connID string, msg protocol.Message) {
	h.authAttempts.Add(1)

	conn, ok := h.manager.Get(connID)
	if !ok {
		return
	}
	if conn.IsAuthenticated() {
		h.authFailures.Add(1)
		h.sendError(connID, "CONFLICT", "Already authenticated")
		return
	}

	token, ok := stringField(msg.Data, "token")
	if !ok {
		h.authFailures.Add(1)
		h.sendError(connID, "INVALID_INPUT", "Missing token")
		return
	}

	claims, err := h.verifier.Verify(token)
	if err != nil {
		h.authFailures.Add(1)
		b, encErr := h.codec.EncodeAuthError("Authentication failed")
		if encErr == nil {
			h.manager.SendToConnection(connID, b)
		}
		return
	}

	user, err := h.users.GetByID(claims.UserID)
	if err != nil || user == nil {
		h.authFailures.Add(1)
		b, encErr := h.codec.EncodeAuthError("Authentication failed")
		if encErr == nil {
			h.manager.SendToConnection(connID, b)
		}
		return
	}

	h.manager.AuthenticateConnection(connID, claims.UserID, user)
	h.authSuccesses.Add(1)

	b, err := h.codec.EncodeAuthSuccess(claims.UserID, "Authenticated")
	if err != nil {
		h.log.Error("encode auth success failed", zap.Error(err))
		return
	}
	h.manager.SendToConnection(connID, b)
}

func (h *Handler) handleSubscribe(connID string, msg protocol.Message) {
	conn, ok := h.manager.Get(connID)
	if !ok {
		return
	}
	if !conn.IsAuthenticated() {
		h.sendError(connID, "UNAUTHORIZED", "Authentication required")
		return
	}

	topicName, ok := stringField(msg.Data, "topic")
	if !ok {
		h.sendError(connID, "INVALID_INPUT", "Missing topic")
		return
	}

	if _, already := conn.Topics()[topicName]; already {
		h.sendError(connID, "CONFLICT", "Already subscribed to topic")
		return
	}

	subID, err := h.broker.Subscribe(topicName, func(m pubsub.Message) {
		// Client publishes are wrapped as {data, userId} by handlePublish;
		// subscribers receive the original content.
		content := m.Data
		if wrapped, ok := m.Data.(map[string]any); ok {
			if inner, has := wrapped["data"]; has {
				content = inner
			}
		}
		b, err := h.codec.EncodeServerMessage(m.Topic, content, m.PublishedAt)
		if err != nil {
			h.log.Error("encode server message failed", zap.Error(err))
			return
		}
		h.manager.SendToConnection(connID, b)
	})
	if err != nil {
		h.errors.Add(1)
		h.sendError(connID, "DEPENDENCY_ERROR", "Subscribe failed")
		return
	}

	h.manager.AddSubscription(connID, topicName, subID)
	h.subscriptions.Add(1)

	b, err := h.codec.EncodeSubscribed(topicName, subID)
	if err != nil {
		h.log.Error("encode subscribed failed", zap.Error(err))
		return
	}
	h.manager.SendToConnection(connID, b)
}

func (h *Handler) handleUnsubscribe(connID string, msg protocol.Message) {
	conn, ok := h.manager.Get(connID)
	if !ok {
		return
	}
	if !conn.IsAuthenticated() {
		h.sendError(connID, "UNAUTHORIZED", "Authentication required")
		return
	}

	topicName, ok := stringField(msg.Data, "topic")
	if !ok {
		h.sendError(connID, "INVALID_INPUT", "Missing topic")
		return
	}

	subID, had := h.manager.RemoveSubscription(connID, topicName)
	if !had {
		h.sendError(connID, "NOT_FOUND", "Not subscribed to topic")
		return
	}

	if err := h.broker.Unsubscribe(subID); err != nil {
		h.log.Warn("unsubscribe failed during UNSUBSCRIBE", zap.Error(err))
	}
	h.unsubscriptions.Add(1)

	b, err := h.codec.EncodeUnsubscribed(topicName)
	if err != nil {
		h.log.Error("encode unsubscribed failed", zap.Error(err))
		return
	}
	h.manager.SendToConnection(connID, b)
}

func (h *Handler) handlePublish(connID string, msg protocol.Message) {
	conn, ok := h.manager.Get(connID)
	if !ok {
		return
	}
	if !conn.IsAuthenticated() {
		h.sendError(connID, "UNAUTHORIZED", "Authentication required")
		return
	}

	topicName, ok := stringField(msg.Data, "topic")
	if !ok {
		h.sendError(connID, "INVALID_INPUT", "Missing topic")
		return
	}
	content, ok := anyField(msg.Data, "content")
	if !ok {
		h.sendError(connID, "INVALID_INPUT", "Missing content")
		return
	}

	_, err := h.broker.Publish(topicName, map[string]any{"data": content, "userId": conn.UserID()}, nil)
	if err != nil {
		h.errors.Add(1)
		h.sendError(connID, "DEPENDENCY_ERROR", "Publish failed")
		return
	}
	h.messagesPublished.Add(1)
}

func (h *Handler) handlePing(connID string) {
	b, err := h.codec.EncodePong(time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		h.log.Error("encode pong failed", zap.Error(err))
		return
	}
	h.manager.SendToConnection(connID, b)
}

// Disconnect unsubscribes every topic the connection held, then removes
// it from the manager. Cleanup errors are logged, never surfaced — the
// connection is going away regardless (spec.md §4.8).
func (h *Handler) Disconnect(connID string) {
	conn, ok := h.manager.Get(connID)
	if !ok {
		return
	}
	for topicName, subID := range conn.Topics() {
		if _, had := h.manager.RemoveSubscription(connID, topicName); had {
			if err := h.broker.Unsubscribe(subID); err != nil {
				h.log.Warn("unsubscribe during disconnect failed", zap.String("topic", topicName), zap.Error(err))
			}
		}
	}
	h.manager.RemoveConnection(connID)
}

func (h *Handler) sendError(connID, code, message string) {
	b, err := h.codec.EncodeError(code, message)
	if err != nil {
		h.log.Error("encode error frame failed", zap.Error(err))
		return
	}
	h.manager.SendToConnection(connID, b)
}

// Stats returns a snapshot of the handler's monotonic counters.
func (h *Handler) Stats() Counters {
	return Counters{
		MessagesProcessed: h.messagesProcessed.Load(),
		AuthAttempts:      h.authAttempts.Load(),
		AuthSuccesses:     h.authSuccesses.Load(),
		AuthFailures:      h.authFailures.Load(),
		Subscriptions:     h.subscriptions.Load(),
		Unsubscriptions:   h.unsubscriptions.Load(),
		MessagesPublished: h.messagesPublished.Load(),
		Errors:            h.errors.Load(),
	}
}

func stringField(data any, key string) (string, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := m[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func anyField(data any, key string) (any, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}
