// Package middleware provides the HTTP middleware stack for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/onevisitor/onevisitor/internal/errors"
	"github.com/onevisitor/onevisitor/internal/httputil"
	"github.com/onevisitor/onevisitor/internal/logging"
	"github.com/onevisitor/onevisitor/internal/services/users"
)

// AuthMiddleware authenticates requests with the bearer tokens issued by the
// user service.
type AuthMiddleware struct {
	tokens       *users.TokenManager
	logger       *logging.Logger
	skipPaths    map[string]bool
	skipPrefixes []string
}

// NewAuthMiddleware creates the authentication middleware. skipPaths are
// matched exactly; entries ending in "/" match as prefixes, which covers the
// public tracker endpoints.
func NewAuthMiddleware(tokens *users.TokenManager, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	var prefixes []string
	for _, path := range skipPaths {
		if strings.HasSuffix(path, "/") {
			prefixes = append(prefixes, path)
			continue
		}
		skip[path] = true
	}

	return &AuthMiddleware{
		tokens:       tokens,
		logger:       logger,
		skipPaths:    skip,
		skipPrefixes: prefixes,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, errors.Unauthorized("missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondError(w, r, errors.Unauthorized("invalid Authorization header format"))
			return
		}

		claims, err := m.tokens.ParseAccessToken(parts[1])
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("token validation failed")
			m.respondError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), logging.UserIDKey, claims.UserID)
		if claims.IsStaff {
			ctx = context.WithValue(ctx, logging.RoleKey, "staff")
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) skip(path string) bool {
	if m.skipPaths[path] {
		return true
	}
	for _, prefix := range m.skipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("authentication failed", err)
	}
	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
}

// GetUserID extracts the authenticated user ID from context.
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// IsStaff reports whether the authenticated user carries the staff role.
func IsStaff(ctx context.Context) bool {
	return logging.GetRole(ctx) == "staff"
}

// RequireUserID ensures a user ID is present in context.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			httputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStaff ensures the caller is an authenticated staff user.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			httputil.Unauthorized(w, "")
			return
		}
		if !IsStaff(r.Context()) {
			serviceErr := errors.Forbidden("staff access required")
			httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
