// Package rpc exposes the flight command surface over gRPC. The service is
// described by hand on top of the protobuf well-known types, so no generated
// code is needed on either side:
//
//	coax.v1.FlightControl/SetMode            Int32Value -> Int32Value
//	coax.v1.FlightControl/SetTrajectoryType  Int32Value -> Int32Value
//	coax.v1.FlightControl/SetTargetPose      Struct{x,y,z,yaw} -> Struct
//	coax.v1.FlightControl/GetStatus          Empty -> Struct
//
// Rejected commands fail with codes.FailedPrecondition and out-of-range
// codes with codes.InvalidArgument.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/flight/trajectory"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "coax.v1.FlightControl"

// Controller is the part of the flight controller served over gRPC.
type Controller interface {
	SetMode(ctx context.Context, req flight.ModeRequest) error
	SetTrajectoryType(id int) error
	SetTargetPose(x, y, z, yaw float64) trajectory.Pose
	Status() flight.Status
}

// FlightControlServer is the server side of the service.
type FlightControlServer interface {
	SetMode(context.Context, *wrapperspb.Int32Value) (*wrapperspb.Int32Value, error)
	SetTrajectoryType(context.Context, *wrapperspb.Int32Value) (*wrapperspb.Int32Value, error)
	SetTargetPose(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var _ FlightControlServer = (*Service)(nil)

// Service implements FlightControlServer on top of a Controller.
type Service struct {
	ctl Controller
}

func NewService(ctl Controller) *Service {
	return &Service{ctl: ctl}
}

// Register adds the service to s.
func (svc *Service) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&serviceDesc, svc)
}

// commandStatus maps a controller error to a gRPC status error.
func commandStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, flight.ErrUnknownMode), errors.Is(err, flight.ErrUnknownManeuver):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, flight.ErrRejected):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func (svc *Service) SetMode(ctx context.Context, in *wrapperspb.Int32Value) (*wrapperspb.Int32Value, error) {
	if err := svc.ctl.SetMode(ctx, flight.ModeRequest(in.GetValue())); err != nil {
		return nil, commandStatus(err)
	}
	return wrapperspb.Int32(0), nil
}

func (svc *Service) SetTrajectoryType(_ context.Context, in *wrapperspb.Int32Value) (*wrapperspb.Int32Value, error) {
	if err := svc.ctl.SetTrajectoryType(int(in.GetValue())); err != nil {
		return nil, commandStatus(err)
	}
	return wrapperspb.Int32(0), nil
}

// SetTargetPose reads x, y, z and yaw from in (missing fields are zero) and
// answers with the pose after workspace clamping.
func (svc *Service) SetTargetPose(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	for name, v := range fields {
		switch name {
		case "x", "y", "z", "yaw":
			if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
				return nil, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
			}
		default:
			return nil, status.Errorf(codes.InvalidArgument, "unknown field %q", name)
		}
	}
	p := svc.ctl.SetTargetPose(
		fields["x"].GetNumberValue(),
		fields["y"].GetNumberValue(),
		fields["z"].GetNumberValue(),
		fields["yaw"].GetNumberValue(),
	)
	return poseStruct(p), nil
}

func (svc *Service) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	s, err := statusStruct(svc.ctl.Status())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

func poseStruct(p trajectory.Pose) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"x":   structpb.NewNumberValue(p.Position.X),
		"y":   structpb.NewNumberValue(p.Position.Y),
		"z":   structpb.NewNumberValue(p.Position.Z),
		"yaw": structpb.NewNumberValue(p.Yaw),
	}}
}

// statusStruct carries the status through its JSON form so the field names
// match /api/status.
func statusStruct(st flight.Status) (*structpb.Struct, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return structpb.NewStruct(m)
}

// unary builds a method descriptor for a request/response pair of proto
// messages.
func unary[Req, Resp any](name string, call func(FlightControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(FlightControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(FlightControlServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FlightControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SetMode", FlightControlServer.SetMode),
		unary("SetTrajectoryType", FlightControlServer.SetTrajectoryType),
		unary("SetTargetPose", FlightControlServer.SetTargetPose),
		unary("GetStatus", FlightControlServer.GetStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coax/v1/flight_control.proto",
}
