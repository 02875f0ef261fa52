package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/trulo/meetup-presence/internal/presence"
)

// UserConnLookup finds a user's current live connection, if any.
type UserConnLookup func(userID string) (*presence.Connection, bool)

// NewSessionCycler enforces the one-presence-per-user model at the door: when
// an authorized user already holds a live connection, the old one is closed
// before the new handshake proceeds. Must run after the auth middleware.
func NewSessionCycler(logger *slog.Logger, lookup UserConnLookup) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok || reqMeta.UserID == "" {
				logger.Error("Session cycler ran without an authenticated user. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if old, found := lookup(reqMeta.UserID); found {
				logger.Info("Cycling connection: closing previous session",
					slog.String("userID", reqMeta.UserID),
					slog.String("connID", old.ID.String()),
				)
				old.Sink.Close(errors.New("connection cycled by new connection"))
			}
			next.ServeHTTP(w, r)
		})
	}
}
