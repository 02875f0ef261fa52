package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPUserStore checks user existence against the backend's user endpoint
// (HEAD <baseURL>/<userID> → 200 exists, 404 not).
type HTTPUserStore struct {
	baseURL string
	client  *http.Client
}

func NewHTTPUserStore(baseURL string) *HTTPUserStore {
	return &HTTPUserStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 3 * time.Second},
	}
}

func (s *HTTPUserStore) UserExists(ctx context.Context, userID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.baseURL+"/"+userID, nil)
	if err != nil {
		return false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("user store returned status %d", resp.StatusCode)
	}
}

// AllowAllUserStore skips the existence check. Used when no user service URL
// is configured (the token signature is then the only gate).
type AllowAllUserStore struct{}

func (AllowAllUserStore) UserExists(context.Context, string) (bool, error) {
	return true, nil
}
