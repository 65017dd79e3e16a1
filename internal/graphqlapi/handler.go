package graphqlapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/graphql-go/graphql"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// graphql-transport-ws protocol message types, grounded on the
// teacher's own constant set for the same protocol.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

type wireMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:  func(r *http.Request) bool { return true },
	Subprotocols: []string{"graphql-transport-ws"},
}

// Handler serves both request/response GraphQL operations (POST /graphql)
// and subscription operations (ServeWS, mounted at /graphql/ws) over the
// schema.
type Handler struct {
	schema  graphql.Schema
	authCtx func(r *http.Request) context.Context
	log     *zap.Logger
}

func NewHandler(schema graphql.Schema, authCtx func(r *http.Request) context.Context, log *zap.Logger) *Handler {
	if authCtx == nil {
		authCtx = func(r *http.Request) context.Context { return r.Context() }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{schema: schema, authCtx: authCtx, log: log}
}

// ServeHTTP handles POST queries/mutations. Subscriptions go through
// ServeWS instead (they need a persistent connection).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query         string         `json:"query"`
		Variables     map[string]any `json:"variables"`
		OperationName string         `json:"operationName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        h.authCtx(r),
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// ServeWS upgrades the request and drives the graphql-transport-ws
// subset of messages needed for subscriptions: connection_init/ack,
// subscribe/next/complete.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("graphql ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(h.authCtx(r))
	defer cancel()

	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case msgConnectionInit:
			_ = conn.WriteJSON(wireMessage{Type: msgConnectionAck})

		case msgSubscribe:
			var payload subscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				_ = conn.WriteJSON(wireMessage{ID: msg.ID, Type: msgError})
				continue
			}
			go h.runSubscription(ctx, conn, msg.ID, payload)

		case "complete":
			// "complete" for any id closes the whole connection:
			// returning cancels ctx, which ends every subscription
			// started on this connection.
			return
		}
	}
}

func (h *Handler) runSubscription(ctx context.Context, conn *websocket.Conn, id string, payload subscribePayload) {
	results := graphql.Subscribe(graphql.Params{
		Schema:         h.schema,
		RequestString:  payload.Query,
		VariableValues: payload.Variables,
		OperationName:  payload.OperationName,
		Context:        ctx,
	})

	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-results:
			if !ok {
				_ = conn.WriteJSON(wireMessage{ID: id, Type: msgComplete})
				return
			}
			b, err := json.Marshal(result)
			if err != nil {
				continue
			}
			if err := conn.WriteJSON(wireMessage{ID: id, Type: msgNext, Payload: b}); err != nil {
				return
			}
		}
	}
}
