package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fileshare/fileshare/pkg/types"
)

// Upload is the result of a successful upload.
type Upload struct {
	SlotID   string    `json:"slot_id"`
	Key      string    `json:"key"`
	ExpireAt time.Time `json:"expire_at"`
}

// Status describes an entity as seen by the server. RemainingSeconds is -1
// and ExpireAt zero when the entity is not active.
type Status struct {
	Key              string    `json:"key"`
	Active           bool      `json:"active"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	ExpireAt         time.Time `json:"expire_at,omitempty"`
	Owner            string    `json:"owner,omitempty"`
}

// Health is the server's /healthz payload.
type Health struct {
	Status       string  `json:"status"`
	TTLSeconds   float64 `json:"ttl_seconds"`
	ActiveActors int     `json:"active_actors"`
}

type renewResponse struct {
	Key      string    `json:"key"`
	ExpireAt time.Time `json:"expire_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Is lets callers test API errors against the shared sentinels.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == types.ErrNotFound
	case http.StatusConflict:
		return target == types.ErrOccupied
	}
	return false
}

// retryable reports whether a failed request may be sent again.
func retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch apiErr.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
