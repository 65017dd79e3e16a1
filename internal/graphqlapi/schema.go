package graphqlapi

import (
	"context"
	"fmt"

	"github.com/graphql-go/graphql"

	"github.com/rtmsg/broker/internal/domain"
	"github.com/rtmsg/broker/internal/protocolerr"
	"github.com/rtmsg/broker/internal/pubsub"
	"github.com/rtmsg/broker/internal/repo"
)

// subscriberKey is the context key under which the authenticated
// caller's user id is stored, set by the HTTP/WS transport before
// invoking graphql.Do.
type subscriberKey struct{}

// WithSubscriber attaches the authenticated caller's user id to ctx.
func WithSubscriber(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, subscriberKey{}, userID)
}

func subscriberID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(subscriberKey{}).(string)
	return id, ok && id != ""
}

var messageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Message",
	Fields: graphql.Fields{
		"id":          &graphql.Field{Type: graphql.String},
		"channelId":   &graphql.Field{Type: graphql.String},
		"senderId":    &graphql.Field{Type: graphql.String},
		"recipientId": &graphql.Field{Type: graphql.String},
		"content":     &graphql.Field{Type: graphql.String},
		"createdAt":   &graphql.Field{Type: graphql.String},
	},
})

var userType = graphql.NewObject(graphql.ObjectConfig{
	Name: "User",
	Fields: graphql.Fields{
		"id":          &graphql.Field{Type: graphql.String},
		"email":       &graphql.Field{Type: graphql.String},
		"displayName": &graphql.Field{Type: graphql.String},
	},
})

// NewSchema builds the GraphQL schema: a minimal Query root (users/
// messages lookups against the repositories) and a Subscription root
// exposing two broker-backed streams (spec.md §4.11).
func NewSchema(broker *pubsub.Broker, users repo.UserRepository, messages repo.MessageRepository) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"user": &graphql.Field{
				Type: userType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					id, _ := p.Args["id"].(string)
					return users.GetByID(id)
				},
			},
			"message": &graphql.Field{
				Type: messageType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					id, _ := p.Args["id"].(string)
					return messages.GetByID(id)
				},
			},
		},
	})

	subscription := graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			// messages(topic) streams every publication on the given
			// broker topic (pattern) to any authenticated caller.
			"messages": &graphql.Field{
				Type: messageType,
				Args: graphql.FieldConfigArgument{
					"topic": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Subscribe: func(p graphql.ResolveParams) (any, error) {
					topic, _ := p.Args["topic"].(string)

					if err := authorizeMessages(p.Context); err != nil {
						return nil, err
					}

					stream := NewStream(topic, broker, extractRaw)
					ch, err := stream.Start(p.Context)
					if err != nil {
						return nil, err
					}
					return ch, nil
				},
			},
			// messageToUser(userId) requires the caller's own id to
			// match the requested userId — authorization runs before
			// any broker subscribe, per spec.md §4.11.
			"messageToUser": &graphql.Field{
				Type: messageType,
				Args: graphql.FieldConfigArgument{
					"userId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Subscribe: func(p graphql.ResolveParams) (any, error) {
					requested, _ := p.Args["userId"].(string)

					if err := authorizeMessageToUser(p.Context, requested); err != nil {
						return nil, err
					}

					stream := NewStream(fmt.Sprintf("messages.user.%s", requested), broker, extractMessage)
					ch, err := stream.Start(p.Context)
					if err != nil {
						return nil, err
					}
					return ch, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:        query,
		Subscription: subscription,
	})
}

// authorizeMessages requires the caller to be authenticated; any
// authenticated caller may subscribe to an arbitrary topic pattern.
func authorizeMessages(ctx context.Context) error {
	if _, ok := subscriberID(ctx); !ok {
		return protocolerr.New(protocolerr.Unauthorized, "subscription requires authentication")
	}
	return nil
}

// authorizeMessageToUser requires the caller's own id to match the
// requested userId — run before any broker subscribe (spec.md §4.11).
func authorizeMessageToUser(ctx context.Context, requestedUserID string) error {
	caller, ok := subscriberID(ctx)
	if !ok {
		return protocolerr.New(protocolerr.Unauthorized, "subscription requires authentication")
	}
	if caller != requestedUserID {
		return protocolerr.New(protocolerr.Forbidden, "cannot subscribe to another user's messages")
	}
	return nil
}

func extractRaw(msg pubsub.Message) (any, error) {
	return msg.Data, nil
}

func extractMessage(msg pubsub.Message) (any, error) {
	if m, ok := msg.Data.(*domain.Message); ok {
		return m, nil
	}
	return msg.Data, nil
}
