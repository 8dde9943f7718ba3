package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/lorrc/issue-tracker-backend/internal/auth"
	apperrors "github.com/lorrc/issue-tracker-backend/internal/core/errors"
	"github.com/lorrc/issue-tracker-backend/internal/infrastructure/logging"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// UserClaimsKey is the key used to store user claims in the request context.
const UserClaimsKey contextKey = "userClaims"

// TokenQueryParam carries the bearer token for clients that cannot set
// headers (EventSource, browser WebSocket).
const TokenQueryParam = "token"

// JWTMiddleware validates the JWT token from the Authorization header.
func JWTMiddleware(tm *auth.TokenManager) func(http.Handler) http.Handler {
	return authenticate(tm, false)
}

// QueryTokenMiddleware accepts the token from the Authorization header or,
// failing that, from the token query parameter.
func QueryTokenMiddleware(tm *auth.TokenManager) func(http.Handler) http.Handler {
	return authenticate(tm, true)
}

func authenticate(tm *auth.TokenManager, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, msg := bearerToken(r)
			if tokenString == "" && allowQuery {
				tokenString = r.URL.Query().Get(TokenQueryParam)
			}
			if tokenString == "" {
				if msg == "" {
					msg = "Authentication token is required"
				}
				writeAppError(w, apperrors.NewUnauthorizedError(msg))
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				writeAppError(w, apperrors.NewUnauthorizedError("Invalid or expired token"))
				return
			}

			// Add the claims to the context for downstream handlers to use.
			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			ctx = logging.WithUserID(ctx, strconv.FormatInt(claims.UserID, 10))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the token of a well-formed Authorization header, or a
// message describing why the header was rejected.
func bearerToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "Authorization header format must be Bearer {token}"
	}
	return parts[1], ""
}

// GetClaims returns the claims stored by the auth middleware.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(UserClaimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// writeAppError renders err in the shape the HTTP error handler uses. The
// middleware runs before any handler, so it cannot reach that handler.
func writeAppError(w http.ResponseWriter, err *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Message,
		"code":  err.Code,
	})
}
