package graphqlapi

import (
	"context"
	"testing"

	"github.com/rtmsg/broker/internal/protocolerr"
	"github.com/rtmsg/broker/internal/repo"
)

func TestWithSubscriberRoundTrip(t *testing.T) {
	ctx := WithSubscriber(context.Background(), "user-1")
	id, ok := subscriberID(ctx)
	if !ok || id != "user-1" {
		t.Fatalf("expected user-1, got %q (ok=%v)", id, ok)
	}
}

func TestSubscriberIDMissing(t *testing.T) {
	if _, ok := subscriberID(context.Background()); ok {
		t.Fatal("expected no subscriber on a bare context")
	}
}

func TestAuthorizeMessagesRequiresAuthentication(t *testing.T) {
	if err := authorizeMessages(context.Background()); err == nil {
		t.Fatal("expected unauthenticated caller to be rejected")
	} else if protocolerr.KindOf(err) != protocolerr.Unauthorized {
		t.Errorf("expected Unauthorized, got %v", protocolerr.KindOf(err))
	}

	ctx := WithSubscriber(context.Background(), "user-1")
	if err := authorizeMessages(ctx); err != nil {
		t.Errorf("expected authenticated caller to pass, got %v", err)
	}
}

func TestAuthorizeMessageToUserRequiresMatchingID(t *testing.T) {
	ctx := WithSubscriber(context.Background(), "user-1")

	if err := authorizeMessageToUser(ctx, "user-2"); err == nil {
		t.Fatal("expected mismatched userId to be forbidden")
	} else if protocolerr.KindOf(err) != protocolerr.Forbidden {
		t.Errorf("expected Forbidden, got %v", protocolerr.KindOf(err))
	}

	if err := authorizeMessageToUser(ctx, "user-1") ; err != nil {
		t.Errorf("expected matching userId to be authorized, got %v", err)
	}

	if err := authorizeMessageToUser(context.Background(), "user-1"); protocolerr.KindOf(err) != protocolerr.Unauthorized {
		t.Errorf("expected Unauthorized for unauthenticated caller, got %v", err)
	}
}

func TestNewSchemaBuildsSuccessfully(t *testing.T) {
	broker := newTestBroker(t)
	users := repo.NewMemoryUserRepository()
	messages := repo.NewMemoryMessageRepository()

	if _, err := NewSchema(broker, users, messages); err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
}
