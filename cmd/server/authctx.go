package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/rtmsg/broker/internal/auth"
	"github.com/rtmsg/broker/internal/graphqlapi"
)

// authContextFromRequest extracts a Bearer token from the Authorization
// header and, if it verifies, attaches the caller's user id to the
// request context so graphqlapi's authorizeMessages/authorizeMessageToUser
// can make their decision (spec.md §4.11).
func authContextFromRequest(r *http.Request, verifier auth.TokenVerifier) context.Context {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return r.Context()
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		return r.Context()
	}
	return graphqlapi.WithSubscriber(r.Context(), claims.UserID)
}
