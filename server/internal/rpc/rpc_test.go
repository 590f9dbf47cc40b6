package rpc_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fileshare/fileshare/pkg/types"
	"github.com/fileshare/fileshare/server/internal/alloc"
	"github.com/fileshare/fileshare/server/internal/entity"
	"github.com/fileshare/fileshare/server/internal/rpc"
	"github.com/fileshare/fileshare/server/internal/store"
)

// startServer starts the entity service on an in-memory listener and returns
// a connected client and the manager behind it.
func startServer(t *testing.T) (*rpc.Client, *entity.Manager) {
	t.Helper()

	st := store.NewMemory(nil)
	mgr := entity.NewManager(st, nil, entity.Options{TTL: 5 * time.Minute})
	t.Cleanup(func() { mgr.Shutdown(context.Background()) }) //nolint:errcheck
	a := alloc.New(mgr, st, alloc.DefaultOptions())

	srv := grpc.NewServer(grpc.UnaryInterceptor(rpc.LoggingInterceptor()))
	rpc.Register(srv, rpc.New(mgr, a))

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis) //nolint:errcheck
	t.Cleanup(srv.Stop)

	client, err := rpc.Dial("bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, mgr
}

func TestClaimStoreFetch(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()

	key, err := client.Claim(ctx, "abc")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if key.Namespace != "abc" || len(key.SlotID) != 9 {
		t.Fatalf("Claim: got %+v", key)
	}

	exp, err := client.Store(ctx, key.String(), []byte("hello"), "alice")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if d := time.Until(exp); d < 4*time.Minute || d > 5*time.Minute {
		t.Errorf("expire_at %v is not ~5m ahead", exp)
	}

	got, err := client.Fetch(ctx, key.String())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Fetch: got %q, want hello", got)
	}
}

func TestStore_Occupied(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()
	key := "abc:::123456789"

	if _, err := client.Store(ctx, key, []byte("a"), ""); err != nil {
		t.Fatalf("Store: %v", err)
	}
	_, err := client.Store(ctx, key, []byte("b"), "")
	if !errors.Is(err, types.ErrOccupied) {
		t.Fatalf("second Store: got %v, want FailedPrecondition", err)
	}
}

func TestStore_MissingKeyMetadata(t *testing.T) {
	client, _ := startServer(t)
	_, err := client.Store(context.Background(), "", []byte("a"), "")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Store without key: got %v, want InvalidArgument", err)
	}
}

func TestFetch_NotFound(t *testing.T) {
	client, _ := startServer(t)
	_, err := client.Fetch(context.Background(), "abc:::123456789")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("Fetch: got %v, want ErrNotFound", err)
	}
}

func TestProbe(t *testing.T) {
	client, mgr := startServer(t)
	ctx := context.Background()
	key := "abc:::123456789"

	l, err := client.Probe(ctx, key)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if l.Active {
		t.Errorf("Probe before store: got active")
	}

	if _, err := mgr.Store(ctx, key, []byte("x"), ""); err != nil {
		t.Fatalf("Store: %v", err)
	}
	l, err = client.Probe(ctx, key)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !l.Active || l.Remaining(time.Now()) < 299 {
		t.Errorf("Probe after store: got %+v", l)
	}
}

func TestRenewAndDelete(t *testing.T) {
	client, mgr := startServer(t)
	ctx := context.Background()
	key := "abc:::123456789"

	if _, err := client.Renew(ctx, key); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Renew empty: got %v, want ErrNotFound", err)
	}
	first, err := mgr.Store(ctx, key, []byte("x"), "")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	renewed, err := client.Renew(ctx, key)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if renewed.Before(first) {
		t.Errorf("Renew moved expiry backwards: %v -> %v", first, renewed)
	}

	if err := client.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := client.Fetch(ctx, key); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Fetch after delete: got %v", err)
	}
}

func TestClaim_EmptyNamespace(t *testing.T) {
	client, _ := startServer(t)
	_, err := client.Claim(context.Background(), "")
	if !errors.Is(err, alloc.ErrEmptyNamespace) {
		t.Fatalf("Claim: got %v, want ErrEmptyNamespace", err)
	}
}

// The remote client can stand in as the allocator's prober.
func TestClient_AsRemoteProber(t *testing.T) {
	client, mgr := startServer(t)
	ctx := context.Background()

	taken := types.FormatKey("abc", "100000000")
	if _, err := mgr.Store(ctx, taken, []byte("x"), ""); err != nil {
		t.Fatalf("Store: %v", err)
	}

	offsets := []int{0, 1}
	opts := alloc.DefaultOptions()
	opts.IntN = func(int) int {
		v := offsets[0]
		if len(offsets) > 1 {
			offsets = offsets[1:]
		}
		return v
	}
	a := alloc.New(client, store.NewMemory(nil), opts)

	key, err := a.Claim(ctx, "abc")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if key.String() == taken {
		t.Fatalf("remote claim returned live slot %s", taken)
	}
}

// --- interceptor ------------------------------------------------------------

func passHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "ok", nil
}

func TestLoggingInterceptor_PassesThrough(t *testing.T) {
	i := rpc.LoggingInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/" + rpc.ServiceName + "/Probe"}

	res, err := i(context.Background(), wrapperspb.String("k"), info, passHandler)
	if err != nil || res != "ok" {
		t.Fatalf("got %v, %v; want ok, nil", res, err)
	}

	failing := func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "down")
	}
	if _, err := i(context.Background(), nil, info, failing); status.Code(err) != codes.Unavailable {
		t.Errorf("code: got %v, want Unavailable", status.Code(err))
	}
}
