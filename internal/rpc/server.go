// Package rpc exposes the room directory over gRPC for operator tooling.
//
// The service uses well-known protobuf types for its messages, so no
// generated code is needed on either side:
//
//	service RoomDirectory {
//	  rpc GetRoom(google.protobuf.StringValue) returns (google.protobuf.Struct);
//	  rpc ListRooms(google.protobuf.Empty) returns (google.protobuf.ListValue);
//	  rpc DashboardCounts(google.protobuf.Empty) returns (google.protobuf.Struct);
//	}
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/vkyc-desk/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "vkyc.v1.RoomDirectory"

const (
	methodGetRoom         = "/" + ServiceName + "/GetRoom"
	methodListRooms       = "/" + ServiceName + "/ListRooms"
	methodDashboardCounts = "/" + ServiceName + "/DashboardCounts"
)

// Directory is the read side the service exposes.
type Directory interface {
	Get(ctx context.Context, id string) (*domain.Room, error)
	List(ctx context.Context) ([]*domain.Room, error)
	DashboardCounts(ctx context.Context) (domain.DashboardCounts, error)
}

// RoomDirectoryServer is the server API for the RoomDirectory service.
type RoomDirectoryServer interface {
	GetRoom(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListRooms(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	DashboardCounts(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RoomDirectoryServiceDesc describes the RoomDirectory service.
var RoomDirectoryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RoomDirectoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRoom", Handler: getRoomHandler},
		{MethodName: "ListRooms", Handler: listRoomsHandler},
		{MethodName: "DashboardCounts", Handler: dashboardCountsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vkyc/v1/directory.proto",
}

// Server implements RoomDirectoryServer over a Directory.
type Server struct {
	dir Directory
}

var _ RoomDirectoryServer = (*Server)(nil)

// NewServer creates a RoomDirectory server.
func NewServer(dir Directory) *Server {
	return &Server{dir: dir}
}

// Register adds the service to s.
func Register(s *grpc.Server, srv RoomDirectoryServer) {
	s.RegisterService(&RoomDirectoryServiceDesc, srv)
}

// GetRoom returns one room with its recordings.
func (s *Server) GetRoom(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "room id is required")
	}
	room, err := s.dir.Get(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(room)
}

// ListRooms returns every room, newest first.
func (s *Server) ListRooms(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	rooms, err := s.dir.List(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if rooms == nil {
		rooms = []*domain.Room{}
	}
	var items []any
	if err := roundTrip(rooms, &items); err != nil {
		return nil, status.Errorf(codes.Internal, "encode rooms: %v", err)
	}
	list, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode rooms: %v", err)
	}
	return list, nil
}

// DashboardCounts returns the aggregate dashboard tiles.
func (s *Server) DashboardCounts(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	counts, err := s.dir.DashboardCounts(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(counts)
}

// toStatus maps error kinds onto gRPC codes.
func toStatus(err error) error {
	var code codes.Code
	switch domain.Kind(err) {
	case domain.ErrNotFound:
		code = codes.NotFound
	case domain.ErrInvalidInput:
		code = codes.InvalidArgument
	case domain.ErrInvalidTransition, domain.ErrInvalidState:
		code = codes.FailedPrecondition
	case domain.ErrConflict:
		code = codes.Aborted
	case domain.ErrUnavailable:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// toStruct converts v through its JSON form so the wire shape matches the
// HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	var fields map[string]any
	if err := roundTrip(v, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func roundTrip(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return json.Unmarshal(data, out)
}

// LoggingInterceptor logs each unary call with its outcome.
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	slog.Info("gRPC request",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	)
	return resp, err
}

func getRoomHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoomDirectoryServer).GetRoom(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetRoom}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RoomDirectoryServer).GetRoom(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listRoomsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoomDirectoryServer).ListRooms(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListRooms}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RoomDirectoryServer).ListRooms(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func dashboardCountsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RoomDirectoryServer).DashboardCounts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDashboardCounts}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RoomDirectoryServer).DashboardCounts(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
