package api

// UploadResponse is the payload for POST /upload/{namespace}.
type UploadResponse struct {
	SlotID   string `json:"slot_id"`
	Key      string `json:"key"`
	ExpireAt string `json:"expire_at"` // RFC3339
}

// StatusResponse is the payload for GET /status/{key}. RemainingSeconds is
// -1 and ExpireAt empty when the entity is not active.
type StatusResponse struct {
	Key              string `json:"key"`
	Active           bool   `json:"active"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	ExpireAt         string `json:"expire_at,omitempty"` // RFC3339
	Owner            string `json:"owner,omitempty"`
}

// RenewResponse is the payload for POST /renew/{key}.
type RenewResponse struct {
	Key      string `json:"key"`
	ExpireAt string `json:"expire_at"` // RFC3339
}

// DeleteResponse is the payload for DELETE /delete/{key}.
type DeleteResponse struct {
	OK bool `json:"ok"`
}

// HealthResponse is the payload for GET /healthz.
type HealthResponse struct {
	Status       string  `json:"status"`
	TTLSeconds   float64 `json:"ttl_seconds"`
	ActiveActors int     `json:"active_actors"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
