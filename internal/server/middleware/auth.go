package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/trulo/meetup-presence/internal/auth"
)

// NewAuthMiddleware gates the websocket handshake. The bearer credential
// comes from the token query parameter (the mobile Socket client's style) or
// an Authorization header; it is validated, the user's existence confirmed,
// and the resolved user ID attached to the request metadata. Everything
// fails closed, and nothing here touches presence state.
func NewAuthMiddleware(logger *slog.Logger, validator auth.TokenValidator, users auth.UserStore, timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				// Metadata middleware did not run; chain misordered.
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := extractToken(r)
			if tokenString == "" {
				logger.Warn("Handshake missing credential", slog.String("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// The validator and user lookup may block on external calls;
			// bound them so a stalled handshake cannot hang the accept
			// path. No presence lock is held here.
			ctx := r.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			userID, err := validator.ValidateAndExtractUserID(ctx, tokenString)
			if err != nil {
				logger.Warn("Invalid credential presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			exists, err := users.UserExists(ctx, userID)
			if err != nil {
				logger.Error("User lookup failed", slog.String("userID", userID), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !exists {
				logger.Warn("Credential names unknown user", slog.String("userID", userID), slog.String("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = userID
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
