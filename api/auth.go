/*
auth.go - Bearer-token authentication middleware

PURPOSE:
  Resolves the current actor from a JWT bearer token. The core trusts
  this identity when recording createdBy/approvedBy/rejectedBy; handlers
  never accept a user id from the request body.

TOKEN SHAPE:
  HMAC-signed JWT with registered claims plus:
    uid:  user id (subject also accepted as fallback)
    name: display name
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/slateworks/prodledger/approval"
)

// Actor is the authenticated user attached to the request context.
type Actor struct {
	UserID      approval.UserID
	DisplayName string
}

type actorClaims struct {
	UserID      string `json:"uid"`
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

type contextKey int

const actorKey contextKey = iota

var errNoActor = errors.New("no authenticated actor in context")

// ActorFromContext returns the authenticated actor.
func ActorFromContext(ctx context.Context) (Actor, error) {
	a, ok := ctx.Value(actorKey).(Actor)
	if !ok {
		return Actor{}, errNoActor
	}
	return a, nil
}

// Authenticator validates the Authorization header and injects the
// actor into the request context. Requests without a valid token get
// 401 and never reach a handler.
func Authenticator(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			var claims actorClaims
			token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token", err)
				return
			}

			userID := claims.UserID
			if userID == "" {
				userID = claims.Subject
			}
			if userID == "" {
				writeError(w, http.StatusUnauthorized, "Token has no user id", nil)
				return
			}

			actor := Actor{
				UserID:      approval.UserID(userID),
				DisplayName: claims.DisplayName,
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
		})
	}
}

// NewToken mints a signed token for the given user. Used by tests and
// local tooling; production deployments terminate auth upstream.
func NewToken(secret []byte, userID approval.UserID, displayName string) (string, error) {
	claims := actorClaims{
		UserID:      string(userID),
		DisplayName: displayName,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
