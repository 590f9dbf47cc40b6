package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fileshare/fileshare/pkg/types"
	"github.com/fileshare/fileshare/server/internal/alloc"
	"github.com/fileshare/fileshare/server/internal/entity"
)

// DefaultMaxPayloadBytes is the upload limit when none is configured.
const DefaultMaxPayloadBytes = 16 << 20

// HeaderOwnerTag carries the optional owner tag of an upload.
const HeaderOwnerTag = "X-Owner-Tag"

// HeaderRequestID is echoed on every response.
const HeaderRequestID = "X-Request-ID"

// Entities is the subset of entity.Manager the handler needs.
type Entities interface {
	Store(ctx context.Context, key string, content []byte, owner string) (time.Time, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Renew(ctx context.Context, key string) (time.Time, error)
	Delete(ctx context.Context, key string) error
	Status(ctx context.Context, key string) (entity.Status, error)
	TTL() time.Duration
	ActiveActors() int
	Now() time.Time
}

// Claimer reserves a fresh slot in a namespace. *alloc.Allocator implements it.
type Claimer interface {
	Claim(ctx context.Context, namespace string) (types.Key, error)
}

// Options tunes the handler.
type Options struct {
	MaxPayloadBytes int64
}

// Handler is the HTTP handler for the entity routes.
type Handler struct {
	entities   Entities
	claimer    Claimer
	maxPayload atomic.Int64
	mux        *http.ServeMux
}

// New creates a Handler over entities and claimer and registers all routes.
func New(entities Entities, claimer Claimer, opts Options) *Handler {
	h := &Handler{entities: entities, claimer: claimer, mux: http.NewServeMux()}
	h.SetMaxPayload(opts.MaxPayloadBytes)

	h.mux.HandleFunc("/upload/", h.upload)
	h.mux.HandleFunc("/download/", h.download)
	h.mux.HandleFunc("/status/", h.status)
	h.mux.HandleFunc("/renew/", h.renew)
	h.mux.HandleFunc("/delete/", h.delete)
	h.mux.HandleFunc("/healthz", h.health)

	return h
}

// SetMaxPayload changes the upload limit. Non-positive values restore the
// default.
func (h *Handler) SetMaxPayload(n int64) {
	if n <= 0 {
		n = DefaultMaxPayloadBytes
	}
	h.maxPayload.Store(n)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(HeaderRequestID)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, id)
	slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "request_id", id)
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// upload handles POST /upload/{namespace}: claim a slot, then store the body
// under it.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	namespace := strings.TrimPrefix(r.URL.Path, "/upload/")
	if namespace == "" {
		jsonErr(w, http.StatusBadRequest, "missing namespace")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxPayload.Load()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		jsonErr(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	key, err := h.claimer.Claim(r.Context(), namespace)
	if err != nil {
		writeError(w, "claim", namespace, err)
		return
	}
	expireAt, err := h.entities.Store(r.Context(), key.String(), body, r.Header.Get(HeaderOwnerTag))
	if err != nil {
		writeError(w, "store", key.String(), err)
		return
	}

	jsonResp(w, http.StatusOK, UploadResponse{
		SlotID:   key.SlotID,
		Key:      key.String(),
		ExpireAt: formatTime(expireAt),
	})
}

// download handles GET /download/{key}.
func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key, ok := keyFromPath(w, r, "/download/")
	if !ok {
		return
	}

	content, err := h.entities.Fetch(r.Context(), key)
	if err != nil {
		writeError(w, "fetch", key, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(content) //nolint:errcheck
}

// status handles GET /status/{key}. An inactive entity is a normal 200.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key, ok := keyFromPath(w, r, "/status/")
	if !ok {
		return
	}

	st, err := h.entities.Status(r.Context(), key)
	if err != nil {
		writeError(w, "status", key, err)
		return
	}
	resp := StatusResponse{
		Key:              key,
		Active:           st.Active,
		RemainingSeconds: st.Remaining(h.entities.Now()),
		Owner:            st.Owner,
	}
	if st.Active {
		resp.ExpireAt = formatTime(st.ExpireAt)
	}
	jsonResp(w, http.StatusOK, resp)
}

// renew handles POST /renew/{key}.
func (h *Handler) renew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key, ok := keyFromPath(w, r, "/renew/")
	if !ok {
		return
	}

	expireAt, err := h.entities.Renew(r.Context(), key)
	if err != nil {
		writeError(w, "renew", key, err)
		return
	}
	jsonResp(w, http.StatusOK, RenewResponse{Key: key, ExpireAt: formatTime(expireAt)})
}

// delete handles DELETE /delete/{key}. Deleting an empty entity succeeds.
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key, ok := keyFromPath(w, r, "/delete/")
	if !ok {
		return
	}

	if err := h.entities.Delete(r.Context(), key); err != nil {
		writeError(w, "delete", key, err)
		return
	}
	jsonResp(w, http.StatusOK, DeleteResponse{OK: true})
}

// health handles GET /healthz.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		TTLSeconds:   h.entities.TTL().Seconds(),
		ActiveActors: h.entities.ActiveActors(),
	})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// keyFromPath extracts and validates the composite key after prefix.
func keyFromPath(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	key := strings.TrimPrefix(r.URL.Path, prefix)
	if _, err := types.ParseKey(key); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return key, true
}

// StatusFor maps an error from the entity layer to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrOccupied), errors.Is(err, types.ErrRejected):
		return http.StatusConflict
	case errors.Is(err, alloc.ErrEmptyNamespace):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrAllocationExhausted),
		errors.Is(err, types.ErrStorage),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, op, subject string, err error) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error("http: "+op+" failed", "subject", subject, "err", err)
	}
	msg := http.StatusText(code)
	if code == http.StatusNotFound {
		msg = "not found"
	} else if code < http.StatusInternalServerError {
		msg = err.Error()
	}
	jsonErr(w, code, msg)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
