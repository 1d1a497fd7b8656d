package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"hegemony-server/internal/auth"
	"hegemony-server/internal/shared/errors"
	"hegemony-server/internal/shared/response"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthCookie is the cookie carrying the player token. An Authorization
// bearer header is accepted as well.
const AuthCookie = "auth_token"

type Auth struct {
	tokens *auth.Tokens
}

func NewAuth(tokens *auth.Tokens) *Auth {
	return &Auth{tokens: tokens}
}

func (a *Auth) JWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := slog.With(
			"middleware", "jwt",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		logger.Debug("Processing JWT authentication")

		token := tokenFromRequest(r)
		if token == "" {
			response.Error(w, r, logger, errors.Unauthorized("authentication required"))
			return
		}

		claims, err := a.tokens.Validate(token)
		if err != nil {
			response.Error(w, r, logger, errors.Unauthorized("invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		logger.Debug("JWT authentication successful",
			"player_id", claims.PlayerID,
			"username", claims.Username)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return a.JWT(AdminMiddleware(next))
}

// RequireScenario authenticates the player and restricts them to the
// scenario named in the path.
func (a *Auth) RequireScenario(next http.Handler) http.Handler {
	return a.JWT(ScenarioAccess(next))
}

func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(AuthCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Helper to get user from context
func GetUserFromContext(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(UserContextKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}
