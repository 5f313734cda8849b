package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/openeld/journal/internal/journal"
	"github.com/openeld/journal/internal/middleware"
)

type actorContextKey struct{}

// WithActor returns a new context carrying the authenticated actor.
func WithActor(ctx context.Context, actor journal.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext retrieves the authenticated actor from the context.
func ActorFromContext(ctx context.Context) (journal.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(journal.Actor)
	return actor, ok
}

// Middleware validates the Authorization bearer token and stores the
// authenticated actor in the request context. Requests without a valid
// access token are rejected with 401.
func Middleware(svc *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			claims, err := svc.ValidateToken(token)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}
			if claims.Type != TokenTypeAccess {
				unauthorized(w, "token is not an access token")
				return
			}

			actor, err := claims.Actor()
			if err != nil {
				unauthorized(w, "unrecognized actor kind")
				return
			}

			ctx := WithActor(r.Context(), actor)
			ctx = middleware.SetActorID(ctx, actor.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireKind wraps a handler and rejects actors whose kind is not in the
// allowed set. Must run after Middleware.
func RequireKind(kinds ...journal.ActorKind) func(http.Handler) http.Handler {
	allowed := make(map[journal.ActorKind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}
			if _, ok := allowed[actor.Kind]; !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":{"code":"forbidden","message":"actor kind not permitted for this operation"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"code":"auth_failed","message":"` + message + `"}}`))
}
