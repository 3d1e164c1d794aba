package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const IdentityKey key = 1

// Identity is the authenticated caller. ContainerIDs are the channels and
// conversations the caller may read; retrieval scopes every query to them.
type Identity struct {
	UserID       string
	ContainerIDs []string
}

// Auth validates a Bearer JWT (HS256) and stores the caller's identity on the
// request context. Claims: "sub" is the user id, "containers" the visible
// container ids.
func Auth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(r.Context(), w, "missing bearer token")
				return
			}

			claims := jwt.MapClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !parsed.Valid {
				unauthorized(r.Context(), w, "invalid token")
				return
			}

			identity := Identity{}
			if sub, ok := claims["sub"].(string); ok {
				identity.UserID = sub
			}
			if raw, ok := claims["containers"].([]interface{}); ok {
				for _, c := range raw {
					if id, ok := c.(string); ok {
						identity.ContainerIDs = append(identity.ContainerIDs, id)
					}
				}
			}

			ctx := context.WithValue(r.Context(), IdentityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFrom returns the authenticated identity, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(Identity)
	return id, ok
}

func unauthorized(ctx context.Context, w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
		"correlationId": GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode unauthorized response", "error", err)
	}
}
