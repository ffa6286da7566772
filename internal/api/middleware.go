package api

// Middleware for authentication and role-based authorization.

import (
	"context"
	"net/http"

	"github.com/Shenoy37/voicenotes/internal/models"
)

// contextKey is a private type to prevent collisions with other context keys.
type contextKey string

const userContextKey = contextKey("user")

// AuthMiddleware verifies a user's session. If the session is valid, the
// user's details are loaded from the database and injected into the
// request's context for downstream handlers.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("session_token")
		if err != nil {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized: No session token")
			return
		}

		user, err := s.store.GetUserFromSession(cookie.Value)
		if err != nil {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized: Invalid session")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnlyMiddleware ensures only users with the 'admin' role can access
// a route. It must be chained after AuthMiddleware.
func (s *Server) AdminOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := getUserFromContext(r)
		if user == nil {
			RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if user.Role != "admin" {
			RespondWithError(w, http.StatusForbidden, "Forbidden: Administrator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getUserFromContext retrieves the user object from the request context,
// or nil if the request is unauthenticated.
func getUserFromContext(r *http.Request) *models.User {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
