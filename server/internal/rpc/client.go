package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fileshare/fileshare/pkg/types"
)

// Client calls fileshare.v1.EntityService on a remote server.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
	now  func() time.Time
}

// NewClient wraps an existing connection. Close is a no-op for it.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc, now: time.Now}
}

// Dial connects to addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.Dial(addr, opts...) //nolint:staticcheck
	if err != nil {
		return nil, err
	}
	return &Client{cc: conn, conn: conn, now: time.Now}, nil
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out interface{}) error {
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return fromStatus(err)
	}
	return nil
}

// Claim reserves a slot in namespace on the server.
func (c *Client) Claim(ctx context.Context, namespace string) (types.Key, error) {
	out := new(wrapperspb.StringValue)
	if err := c.invoke(ctx, "Claim", wrapperspb.String(namespace), out); err != nil {
		return types.Key{}, err
	}
	return types.Key{Namespace: namespace, SlotID: out.GetValue()}, nil
}

// Store populates key with content.
func (c *Client) Store(ctx context.Context, key string, content []byte, owner string) (time.Time, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, MDEntityKey, key)
	if owner != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, MDOwnerTag, owner)
	}
	out := new(timestamppb.Timestamp)
	if err := c.invoke(ctx, "Store", wrapperspb.Bytes(content), out); err != nil {
		return time.Time{}, err
	}
	return out.AsTime(), nil
}

// Fetch returns the content stored under key.
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.invoke(ctx, "Fetch", wrapperspb.String(key), out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

// Probe implements alloc.Prober. The expiry is reconstructed from the
// remaining seconds, so it is accurate to one second.
func (c *Client) Probe(ctx context.Context, key string) (types.Liveness, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.invoke(ctx, "Probe", wrapperspb.String(key), out); err != nil {
		return types.Liveness{}, err
	}
	if out.GetValue() < 0 {
		return types.Inactive, nil
	}
	return types.Liveness{
		Active:   true,
		ExpireAt: c.now().Add(time.Duration(out.GetValue()) * time.Second),
	}, nil
}

// Renew extends the lifetime of key.
func (c *Client) Renew(ctx context.Context, key string) (time.Time, error) {
	out := new(timestamppb.Timestamp)
	if err := c.invoke(ctx, "Renew", wrapperspb.String(key), out); err != nil {
		return time.Time{}, err
	}
	return out.AsTime(), nil
}

// Delete purges key.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.invoke(ctx, "Delete", wrapperspb.String(key), new(emptypb.Empty))
}
