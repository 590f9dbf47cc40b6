package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fileshare/fileshare/pkg/types"
	"github.com/fileshare/fileshare/server/internal/alloc"
	"github.com/fileshare/fileshare/server/internal/api"
	"github.com/fileshare/fileshare/server/internal/entity"
	"github.com/fileshare/fileshare/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

type fixture struct {
	h     *api.Handler
	mgr   *entity.Manager
	clock clockwork.FakeClock
}

func newFixture(t *testing.T, opts api.Options) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	st := store.NewMemory(clock.Now)
	mgr := entity.NewManager(st, nil, entity.Options{TTL: 300 * time.Second, Clock: clock})
	t.Cleanup(func() { mgr.Shutdown(context.Background()) }) //nolint:errcheck
	a := alloc.New(mgr, st, alloc.DefaultOptions())
	return &fixture{h: api.New(mgr, a, opts), mgr: mgr, clock: clock}
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func upload(t *testing.T, f *fixture, namespace string, body []byte) api.UploadResponse {
	t.Helper()
	rr := do(t, f.h, http.MethodPost, "/upload/"+namespace, body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("upload status: got %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	var resp api.UploadResponse
	decode(t, rr, &resp)
	return resp
}

// --- /upload ----------------------------------------------------------------

func TestUpload_ThenDownload(t *testing.T) {
	f := newFixture(t, api.Options{})
	up := upload(t, f, "abc", []byte("hello"))

	if len(up.SlotID) != 9 {
		t.Errorf("slot_id: got %q, want 9 digits", up.SlotID)
	}
	if up.Key != types.FormatKey("abc", up.SlotID) {
		t.Errorf("key: got %q", up.Key)
	}
	exp, err := time.Parse(time.RFC3339Nano, up.ExpireAt)
	if err != nil {
		t.Fatalf("expire_at %q: %v", up.ExpireAt, err)
	}
	if want := f.clock.Now().Add(300 * time.Second); !exp.Equal(want) {
		t.Errorf("expire_at: got %v, want %v", exp, want)
	}

	rr := do(t, f.h, http.MethodGet, "/download/"+up.Key, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("download status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Content-Type: got %q", ct)
	}
	if rr.Body.String() != "hello" {
		t.Errorf("body: got %q, want hello", rr.Body.String())
	}
}

func TestUpload_EmptyBody(t *testing.T) {
	f := newFixture(t, api.Options{})
	up := upload(t, f, "abc", nil)

	rr := do(t, f.h, http.MethodGet, "/download/"+up.Key, nil, nil)
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Errorf("download: got %d with %d bytes, want 200 empty", rr.Code, rr.Body.Len())
	}
}

func TestUpload_DistinctSlots(t *testing.T) {
	f := newFixture(t, api.Options{})
	a := upload(t, f, "abc", []byte("1"))
	b := upload(t, f, "abc", []byte("2"))
	if a.Key == b.Key {
		t.Fatalf("two uploads share key %s", a.Key)
	}
}

func TestUpload_OwnerTag(t *testing.T) {
	f := newFixture(t, api.Options{})
	rr := do(t, f.h, http.MethodPost, "/upload/abc", []byte("x"), map[string]string{api.HeaderOwnerTag: "alice"})
	var up api.UploadResponse
	decode(t, rr, &up)

	rr = do(t, f.h, http.MethodGet, "/status/"+up.Key, nil, nil)
	var st api.StatusResponse
	decode(t, rr, &st)
	if st.Owner != "alice" {
		t.Errorf("owner: got %q, want alice", st.Owner)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	f := newFixture(t, api.Options{MaxPayloadBytes: 4})
	rr := do(t, f.h, http.MethodPost, "/upload/abc", []byte("hello"), nil)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", rr.Code)
	}
}

func TestUpload_MissingNamespace(t *testing.T) {
	f := newFixture(t, api.Options{})
	rr := do(t, f.h, http.MethodPost, "/upload/", []byte("x"), nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}

// --- /download, /status -----------------------------------------------------

func TestDownload_AfterExpiry_404(t *testing.T) {
	f := newFixture(t, api.Options{})
	up := upload(t, f, "abc", []byte("hello"))

	f.clock.Advance(301 * time.Second)
	rr := do(t, f.h, http.MethodGet, "/download/"+up.Key, nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestDownload_BadKey_400(t *testing.T) {
	f := newFixture(t, api.Options{})
	rr := do(t, f.h, http.MethodGet, "/download/no-separator", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}

func TestStatus_ActiveAndInactive(t *testing.T) {
	f := newFixture(t, api.Options{})
	up := upload(t, f, "abc", []byte("hello"))
	f.clock.Advance(100 * time.Second)

	rr := do(t, f.h, http.MethodGet, "/status/"+up.Key, nil, nil)
	var st api.StatusResponse
	decode(t, rr, &st)
	if !st.Active || st.RemainingSeconds != 200 || st.Owner != up.Key {
		t.Errorf("status: got %+v, want active 200s owned by key", st)
	}

	rr = do(t, f.h, http.MethodGet, "/status/abc:::100000000", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("unknown key status: got %d, want 200", rr.Code)
	}
	var none api.StatusResponse
	decode(t, rr, &none)
	if none.Active || none.RemainingSeconds != -1 || none.ExpireAt != "" {
		t.Errorf("unknown key: got %+v, want inactive -1", none)
	}
}

// --- /renew, /delete --------------------------------------------------------

func TestRenew(t *testing.T) {
	f := newFixture(t, api.Options{})
	up := upload(t, f, "abc", []byte("hello"))
	f.clock.Advance(100 * time.Second)

	rr := do(t, f.h, http.MethodPost, "/renew/"+up.Key, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("renew status: got %d", rr.Code)
	}
	var resp api.RenewResponse
	decode(t, rr, &resp)
	exp, _ := time.Parse(time.RFC3339Nano, resp.ExpireAt)
	if want := f.clock.Now().Add(300 * time.Second); !exp.Equal(want) {
		t.Errorf("expire_at: got %v, want %v", exp, want)
	}

	rr = do(t, f.h, http.MethodPost, "/renew/abc:::100000000", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("renew unknown: got %d, want 404", rr.Code)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t, api.Options{})
	up := upload(t, f, "abc", []byte("hello"))

	for i := 0; i < 2; i++ {
		rr := do(t, f.h, http.MethodDelete, "/delete/"+up.Key, nil, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("delete #%d: got %d, want 200", i+1, rr.Code)
		}
	}
	rr := do(t, f.h, http.MethodGet, "/download/"+up.Key, nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("download after delete: got %d, want 404", rr.Code)
	}
}

// --- misc -------------------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, api.Options{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/upload/abc"},
		{http.MethodPost, "/download/abc:::100000000"},
		{http.MethodPost, "/status/abc:::100000000"},
		{http.MethodGet, "/renew/abc:::100000000"},
		{http.MethodGet, "/delete/abc:::100000000"},
		{http.MethodPost, "/healthz"},
	} {
		rr := do(t, f.h, tc.method, tc.path, nil, nil)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: got %d, want 405", tc.method, tc.path, rr.Code)
		}
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, api.Options{})
	rr := do(t, f.h, http.MethodGet, "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.TTLSeconds != 300 {
		t.Errorf("healthz: got %+v", resp)
	}
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, api.Options{})
	rr := do(t, f.h, http.MethodGet, "/healthz", nil, nil)
	if rr.Header().Get(api.HeaderRequestID) == "" {
		t.Error("X-Request-ID: missing")
	}
	rr = do(t, f.h, http.MethodGet, "/healthz", nil, map[string]string{api.HeaderRequestID: "abc"})
	if got := rr.Header().Get(api.HeaderRequestID); got != "abc" {
		t.Errorf("X-Request-ID: got %q, want abc", got)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		types.ErrNotFound:            http.StatusNotFound,
		types.ErrOccupied:            http.StatusConflict,
		types.ErrAllocationExhausted: http.StatusServiceUnavailable,
		types.ErrStorage:             http.StatusServiceUnavailable,
		alloc.ErrEmptyNamespace:      http.StatusBadRequest,
	}
	for err, want := range cases {
		if got := api.StatusFor(err); got != want {
			t.Errorf("StatusFor(%v): got %d, want %d", err, got, want)
		}
	}
	if !strings.Contains(http.StatusText(api.StatusFor(context.Canceled)), "Unavailable") {
		t.Error("canceled requests should map to 503")
	}
}
