package rpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fileshare/fileshare/pkg/types"
	"github.com/fileshare/fileshare/server/internal/alloc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "fileshare.v1.EntityService"

// Metadata keys carried by Store.
const (
	MDEntityKey = "x-entity-key"
	MDOwnerTag  = "x-owner-tag"
)

// EntityServiceServer is the server API of fileshare.v1.EntityService.
type EntityServiceServer interface {
	Claim(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Store(context.Context, *wrapperspb.BytesValue) (*timestamppb.Timestamp, error)
	Fetch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Probe(context.Context, *wrapperspb.StringValue) (*wrapperspb.Int64Value, error)
	Renew(context.Context, *wrapperspb.StringValue) (*timestamppb.Timestamp, error)
	Delete(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// Entities is the subset of entity.Manager the service needs.
type Entities interface {
	Store(ctx context.Context, key string, content []byte, owner string) (time.Time, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Renew(ctx context.Context, key string) (time.Time, error)
	Delete(ctx context.Context, key string) error
	Probe(ctx context.Context, key string) (types.Liveness, error)
	Now() time.Time
}

// Claimer reserves a fresh slot in a namespace.
type Claimer interface {
	Claim(ctx context.Context, namespace string) (types.Key, error)
}

// Service implements EntityServiceServer over the entity manager.
type Service struct {
	entities Entities
	claimer  Claimer
}

// New creates a Service.
func New(entities Entities, claimer Claimer) *Service {
	return &Service{entities: entities, claimer: claimer}
}

// Register adds the service to srv.
func Register(srv grpc.ServiceRegistrar, s EntityServiceServer) {
	srv.RegisterService(&ServiceDesc, s)
}

// Claim reserves a slot in the namespace and returns its slot id.
func (s *Service) Claim(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	key, err := s.claimer.Claim(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(key.SlotID), nil
}

// Store populates the entity named by the x-entity-key metadata.
func (s *Service) Store(ctx context.Context, in *wrapperspb.BytesValue) (*timestamppb.Timestamp, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	key := first(md.Get(MDEntityKey))
	if _, err := types.ParseKey(key); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s: %v", MDEntityKey, err)
	}
	at, err := s.entities.Store(ctx, key, in.GetValue(), first(md.Get(MDOwnerTag)))
	if err != nil {
		return nil, toStatus(err)
	}
	slog.Debug("rpc: stored", "key", key, "size", len(in.GetValue()))
	return timestamppb.New(at), nil
}

// Fetch returns the stored content.
func (s *Service) Fetch(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	content, err := s.entities.Fetch(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(content), nil
}

// Probe returns the remaining seconds, or -1 when the entity is not active.
func (s *Service) Probe(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	l, err := s.entities.Probe(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Int64(l.Remaining(s.entities.Now())), nil
}

// Renew extends the entity's lifetime.
func (s *Service) Renew(ctx context.Context, in *wrapperspb.StringValue) (*timestamppb.Timestamp, error) {
	at, err := s.entities.Renew(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return timestamppb.New(at), nil
}

// Delete purges the entity.
func (s *Service) Delete(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.entities.Delete(ctx, in.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// toStatus maps an entity-layer error to a gRPC status.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, types.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, types.ErrOccupied), errors.Is(err, types.ErrRejected):
		code = codes.FailedPrecondition
	case errors.Is(err, alloc.ErrEmptyNamespace):
		code = codes.InvalidArgument
	case errors.Is(err, types.ErrAllocationExhausted):
		code = codes.ResourceExhausted
	case errors.Is(err, types.ErrStorage):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// fromStatus maps a gRPC status back to the error taxonomy so callers on the
// far side of Client can use errors.Is.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = types.ErrNotFound
	case codes.FailedPrecondition:
		sentinel = types.ErrOccupied
	case codes.InvalidArgument:
		sentinel = alloc.ErrEmptyNamespace
	case codes.ResourceExhausted:
		sentinel = types.ErrAllocationExhausted
	case codes.Unavailable:
		sentinel = types.ErrStorage
	default:
		return err
	}
	return errors.Join(sentinel, err)
}

// --- service descriptor -----------------------------------------------------

// unary builds the MethodDesc for one RPC. newIn allocates the request and
// call invokes the server method on it.
func unary(name string, newIn func() proto.Message, call func(EntityServiceServer, context.Context, proto.Message) (proto.Message, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newIn()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(EntityServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(EntityServiceServer), ctx, req.(proto.Message))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func newString() proto.Message { return new(wrapperspb.StringValue) }

// ServiceDesc is the grpc.ServiceDesc for fileshare.v1.EntityService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EntityServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Claim", newString, func(s EntityServiceServer, ctx context.Context, in proto.Message) (proto.Message, error) {
			return s.Claim(ctx, in.(*wrapperspb.StringValue))
		}),
		unary("Store", func() proto.Message { return new(wrapperspb.BytesValue) }, func(s EntityServiceServer, ctx context.Context, in proto.Message) (proto.Message, error) {
			return s.Store(ctx, in.(*wrapperspb.BytesValue))
		}),
		unary("Fetch", newString, func(s EntityServiceServer, ctx context.Context, in proto.Message) (proto.Message, error) {
			return s.Fetch(ctx, in.(*wrapperspb.StringValue))
		}),
		unary("Probe", newString, func(s EntityServiceServer, ctx context.Context, in proto.Message) (proto.Message, error) {
			return s.Probe(ctx, in.(*wrapperspb.StringValue))
		}),
		unary("Renew", newString, func(s EntityServiceServer, ctx context.Context, in proto.Message) (proto.Message, error) {
			return s.Renew(ctx, in.(*wrapperspb.StringValue))
		}),
		unary("Delete", newString, func(s EntityServiceServer, ctx context.Context, in proto.Message) (proto.Message, error) {
			return s.Delete(ctx, in.(*wrapperspb.StringValue))
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fileshare/v1/entity.proto",
}
