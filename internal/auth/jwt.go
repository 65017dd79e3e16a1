// Package auth provides the two injected collaborators the messaging
// core consumes: a JWT TokenVerifier and a bcrypt PasswordService
// (spec.md §6 Ingress, §9 "module-global singletons... passed in as
// explicit dependencies").
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rtmsg/broker/internal/protocolerr"
)

// VerifiedClaims is the minimal result of a successful token verification.
type VerifiedClaims struct {
	UserID string
}

// TokenVerifier is the injected collaborator spec.md §6 names as
// `TokenVerifier.verify(token) -> {userId} or fail`.
type TokenVerifier interface {
	Verify(token string) (VerifiedClaims, error)
}

// JWTVerifier verifies HMAC-signed JWTs issued by some upstream identity
// component (issuance itself is out of scope — only verification is a
// core collaborator).
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: secret, issuer: issuer}
}

func (v *JWTVerifier) Verify(tokenString string) (VerifiedClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithIssuer(v.issuer))
	if err != nil || !token.Valid {
		return VerifiedClaims{}, protocolerr.Wrap(protocolerr.Unauthorized, "invalid or expired token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return VerifiedClaims{}, protocolerr.New(protocolerr.Unauthorized, "malformed token claims")
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return VerifiedClaims{}, protocolerr.New(protocolerr.Unauthorized, "token has no subject")
	}

	return VerifiedClaims{UserID: userID}, nil
}

// IssueToken mints a short-lived HS256 token for a user id. Used by test
// fixtures and any local dev-mode auth flow; production deployments may
// issue tokens from a separate identity service and only rely on Verify.
func (v *JWTVerifier) IssueToken(userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iss": v.issuer,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
