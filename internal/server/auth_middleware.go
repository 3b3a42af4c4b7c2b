// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/contracts-hub/internal/database"
)

// Identity headers sent with every API request
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

type contextKey string

const userContextKey contextKey = "user"

// UserFromContext returns the user resolved by AuthMiddleware
func UserFromContext(ctx context.Context) *database.User {
	u, _ := ctx.Value(userContextKey).(*database.User)
	return u
}

// AuthMiddleware resolves X-User-Id against the user store and rejects the
// request when the user is unknown or X-User-Role does not match the
// stored role
func AuthMiddleware(users *database.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idHeader := strings.TrimSpace(r.Header.Get(HeaderUserID))
			role := strings.TrimSpace(r.Header.Get(HeaderUserRole))
			if idHeader == "" || role == "" {
				writeError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			id, err := strconv.ParseInt(idHeader, 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid user id")
				return
			}

			user, err := users.GetUser(id)
			if errors.Is(err, database.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "Unknown user")
				return
			}
			if err != nil {
				log.Printf("Error loading user %d: %v", id, err)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if user.Role != role {
				writeError(w, http.StatusForbidden, "Role does not match user")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireRole writes 403 and returns false unless allowed(role) holds for
// the request's user
func requireRole(w http.ResponseWriter, r *http.Request, allowed func(role string) bool) (*database.User, bool) {
	user := UserFromContext(r.Context())
	if user == nil || !allowed(user.Role) {
		writeError(w, http.StatusForbidden, "Insufficient permissions")
		return nil, false
	}
	return user, true
}
