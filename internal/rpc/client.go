package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/flight/trajectory"
)

// Client calls the flight service over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
}

// SetMode sends a mode request and returns the wire result code alongside
// the error, so callers can print 0 or -1 the way the service reports it.
func (c *Client) SetMode(ctx context.Context, req flight.ModeRequest) (int, error) {
	out := new(wrapperspb.Int32Value)
	err := c.invoke(ctx, "SetMode", wrapperspb.Int32(int32(req)), out)
	if err != nil {
		return flight.ResultCode(err), err
	}
	return int(out.GetValue()), nil
}

func (c *Client) SetTrajectoryType(ctx context.Context, id int) (int, error) {
	out := new(wrapperspb.Int32Value)
	err := c.invoke(ctx, "SetTrajectoryType", wrapperspb.Int32(int32(id)), out)
	if err != nil {
		return flight.ResultCode(err), err
	}
	return int(out.GetValue()), nil
}

// SetTargetPose returns the target as clamped by the controller.
func (c *Client) SetTargetPose(ctx context.Context, x, y, z, yaw float64) (trajectory.Pose, error) {
	out := new(structpb.Struct)
	in := poseStruct(trajectory.Pose{Position: r3.Vec{X: x, Y: y, Z: z}, Yaw: yaw})
	if err := c.invoke(ctx, "SetTargetPose", in, out); err != nil {
		return trajectory.Pose{}, err
	}
	f := out.GetFields()
	return trajectory.Pose{
		Position: r3.Vec{X: f["x"].GetNumberValue(), Y: f["y"].GetNumberValue(), Z: f["z"].GetNumberValue()},
		Yaw:      f["yaw"].GetNumberValue(),
	}, nil
}

func (c *Client) Status(ctx context.Context) (flight.Status, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "GetStatus", &emptypb.Empty{}, out); err != nil {
		return flight.Status{}, err
	}
	raw, err := json.Marshal(out.AsMap())
	if err != nil {
		return flight.Status{}, fmt.Errorf("failed to encode status: %w", err)
	}
	var st flight.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return flight.Status{}, fmt.Errorf("failed to decode status: %w", err)
	}
	return st, nil
}
