package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fileshare/fileshare/pkg/types"
	"github.com/fileshare/fileshare/server/internal/entity"
	"github.com/fileshare/fileshare/server/internal/store"
	wsHub "github.com/fileshare/fileshare/server/internal/ws"
)

const testKey = "abc:::123456789"

// --- helpers ----------------------------------------------------------------

func newManager(t *testing.T) *entity.Manager {
	t.Helper()
	mgr := entity.NewManager(store.NewMemory(nil), nil, entity.Options{TTL: 5 * time.Minute})
	t.Cleanup(func() { mgr.Shutdown(context.Background()) }) //nolint:errcheck
	return mgr
}

func mustStore(t *testing.T, mgr *entity.Manager, key string) {
	t.Helper()
	if _, err := mgr.Store(context.Background(), key, []byte("hello"), ""); err != nil {
		t.Fatalf("Store: %v", err)
	}
}

// startHub starts a test HTTP server with the hub mounted at its prefix.
// Returns the ws:// base URL, the hub, and a func cancelling its Run loop.
func startHub(t *testing.T, mgr *entity.Manager) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(mgr)
	ctx, cancelFn := context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.Handle(wsHub.PathPrefix, hub)
	srv := httptest.NewServer(mux)
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http") + wsHub.PathPrefix
	return wsURL, hub, cancelFn
}

// dial connects a WebSocket client to the entity key and returns the connection.
func dial(t *testing.T, wsURL, key string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+key, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", key, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readExpiry reads one expiry message from conn with a short deadline.
func readExpiry(t *testing.T, conn *websocket.Conn) types.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m types.Message
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", msg, err)
	}
	return m
}

// readClose reads until the server closes conn and returns the close error.
func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("ReadMessage: %v, want close frame", err)
		}
		return ce
	}
}

func waitForCount(t *testing.T, hub *wsHub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Count: got %d, want %d", hub.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateExpiry(t *testing.T) {
	mgr := newManager(t)
	mustStore(t, mgr, testKey)
	wsURL, _, _ := startHub(t, mgr)

	conn := dial(t, wsURL, testKey)
	m := readExpiry(t, conn)

	if m.Event != types.EventExpiry {
		t.Errorf("event: got %q, want expiry", m.Event)
	}
	if m.Data.Key != testKey {
		t.Errorf("key: got %q, want %q", m.Data.Key, testKey)
	}
	if m.Data.RemainingSeconds < 299 || m.Data.RemainingSeconds > 300 {
		t.Errorf("remaining_seconds: got %d, want ~300", m.Data.RemainingSeconds)
	}
	if m.Data.ExpireAtUnix == 0 {
		t.Error("expire_at_unix: missing")
	}
}

func TestHub_InboundMessageIsEchoed(t *testing.T) {
	mgr := newManager(t)
	mustStore(t, mgr, testKey)
	wsURL, _, _ := startHub(t, mgr)

	conn := dial(t, wsURL, testKey)
	first := readExpiry(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	echo := readExpiry(t, conn)
	if !echo.Data.ExpireAt.Equal(first.Data.ExpireAt) {
		t.Errorf("echo expire_at: got %v, want %v", echo.Data.ExpireAt, first.Data.ExpireAt)
	}
}

func TestHub_RenewIsBroadcast(t *testing.T) {
	mgr := newManager(t)
	mustStore(t, mgr, testKey)
	wsURL, hub, _ := startHub(t, mgr)

	conns := []*websocket.Conn{dial(t, wsURL, testKey), dial(t, wsURL, testKey)}
	for _, c := range conns {
		readExpiry(t, c)
	}
	waitForCount(t, hub, 2)

	renewed, err := mgr.Renew(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	for i, c := range conns {
		m := readExpiry(t, c)
		if !m.Data.ExpireAt.Equal(renewed) {
			t.Errorf("client %d: expire_at got %v, want %v", i, m.Data.ExpireAt, renewed)
		}
	}
}

func TestHub_DeleteClosesWithNormalClosure(t *testing.T) {
	mgr := newManager(t)
	mustStore(t, mgr, testKey)
	wsURL, hub, _ := startHub(t, mgr)

	conn := dial(t, wsURL, testKey)
	readExpiry(t, conn)

	if err := mgr.Delete(context.Background(), testKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ce := readClose(t, conn)
	if ce.Code != types.CloseExpired || ce.Text != types.CloseReasonDeleted {
		t.Errorf("close: got %d %q, want %d %q", ce.Code, ce.Text, types.CloseExpired, types.CloseReasonDeleted)
	}
	waitForCount(t, hub, 0)
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	mgr := newManager(t)
	mustStore(t, mgr, testKey)
	wsURL, hub, _ := startHub(t, mgr)

	conn := dial(t, wsURL, testKey)
	readExpiry(t, conn)
	waitForCount(t, hub, 1)

	conn.Close()
	waitForCount(t, hub, 0)
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	mgr := newManager(t)
	mustStore(t, mgr, testKey)
	wsURL, hub, cancel := startHub(t, mgr)

	conn := dial(t, wsURL, testKey)
	readExpiry(t, conn)
	waitForCount(t, hub, 1)

	cancel() // signal shutdown

	ce := readClose(t, conn)
	if ce.Code != websocket.CloseGoingAway {
		t.Errorf("close code: got %d, want %d", ce.Code, websocket.CloseGoingAway)
	}
	waitForCount(t, hub, 0)
}

func TestHub_UnknownKey_Returns404(t *testing.T) {
	wsURL, _, _ := startHub(t, newManager(t))

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"abc:::999999999", nil)
	if err == nil {
		t.Fatal("dial succeeded for an entity that was never stored")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response: %+v, want 404", resp)
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	mgr := newManager(t)
	mustStore(t, mgr, testKey)
	hub := wsHub.New(mgr)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	// Plain HTTP GET without WebSocket upgrade headers -> 400
	resp, err := http.Get(srv.URL + wsHub.PathPrefix + testKey)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

// unavailable reports every liveness check as a storage failure.
type unavailable struct{ *entity.Manager }

func (unavailable) Observable(context.Context, string) (types.Liveness, error) {
	return types.Liveness{}, errors.New("storage down")
}

func TestHub_LivenessFailure_Returns503(t *testing.T) {
	mgr := newManager(t)
	mustStore(t, mgr, testKey)
	srv := httptest.NewServer(wsHub.New(unavailable{mgr}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + wsHub.PathPrefix
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+testKey, nil)
	if err == nil {
		t.Fatal("dial succeeded while storage was failing")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("response: %+v, want 503", resp)
	}
}
