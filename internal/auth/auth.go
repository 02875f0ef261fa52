// Package auth holds the connection-authorization collaborators: validating
// the bearer credential presented during the websocket handshake and checking
// that the user it names exists in the backend.
package auth

import (
	"context"
	"errors"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// TokenValidator turns an opaque credential into a trusted user ID.
type TokenValidator interface {
	ValidateAndExtractUserID(ctx context.Context, token string) (string, error)
}

// UserStore answers whether a user ID exists in the external user store.
type UserStore interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}
