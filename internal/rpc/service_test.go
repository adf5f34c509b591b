package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/flight/trajectory"
	"github.com/banshee-data/coaxctl/internal/testutil"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeController struct {
	mu       sync.Mutex
	modes    []flight.ModeRequest
	modeErr  error
	maneuver int
}

func (f *fakeController) SetMode(_ context.Context, req flight.ModeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, req)
	return f.modeErr
}

func (f *fakeController) SetTrajectoryType(id int) error {
	if id < 0 || id > 6 {
		return fmt.Errorf("%w: %d", flight.ErrUnknownManeuver, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maneuver = id
	return nil
}

func (f *fakeController) SetTargetPose(x, y, z, yaw float64) trajectory.Pose {
	return trajectory.Pose{Position: r3.Vec{X: min(x, 2), Y: y, Z: max(z, 0.1)}, Yaw: yaw}
}

func (f *fakeController) Status() flight.Status {
	return flight.Status{
		Mode:      "HOVER",
		ModeCode:  int(flight.ModeHover),
		Nav:       "raw",
		Volts:     12.1,
		Target:    [4]float64{0, 0, 1, 0},
		Command:   flight.ActuatorCommand{Upper: 0.5, Lower: 0.52},
		UpdatedAt: t0,
	}
}

func startServer(t *testing.T, ctl Controller) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewServer(ctl)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, s, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func TestSetMode(t *testing.T) {
	ctl := &fakeController{}
	c := startServer(t, ctl)
	ctx := context.Background()

	res, err := c.SetMode(ctx, flight.RequestStart)
	require.NoError(t, err)
	assert.Equal(t, 0, res)
	assert.Equal(t, []flight.ModeRequest{flight.RequestStart}, ctl.modes)

	ctl.modeErr = fmt.Errorf("%w: start requires LANDED", flight.ErrRejected)
	res, err = c.SetMode(ctx, flight.RequestStart)
	assert.Equal(t, -1, res)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "start requires LANDED")

	ctl.modeErr = fmt.Errorf("%w: 42", flight.ErrUnknownMode)
	res, err = c.SetMode(ctx, 42)
	assert.Equal(t, -1, res)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSetTrajectoryType(t *testing.T) {
	ctl := &fakeController{}
	c := startServer(t, ctl)

	res, err := c.SetTrajectoryType(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 0, res)
	assert.Equal(t, 4, ctl.maneuver)

	res, err = c.SetTrajectoryType(context.Background(), 9)
	assert.Equal(t, -1, res)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSetTargetPose(t *testing.T) {
	c := startServer(t, &fakeController{})
	p, err := c.SetTargetPose(context.Background(), 5, 1, 0, 0.5)
	require.NoError(t, err)
	assert.Equal(t, trajectory.Pose{Position: r3.Vec{X: 2, Y: 1, Z: 0.1}, Yaw: 0.5}, p)
}

func TestSetTargetPoseValidatesFields(t *testing.T) {
	svc := NewService(&fakeController{})
	ctx := context.Background()

	_, err := svc.SetTargetPose(ctx, &structpb.Struct{Fields: map[string]*structpb.Value{
		"x": structpb.NewStringValue("far"),
	}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.SetTargetPose(ctx, &structpb.Struct{Fields: map[string]*structpb.Value{
		"roll": structpb.NewNumberValue(1),
	}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	out, err := svc.SetTargetPose(ctx, &structpb.Struct{})
	require.NoError(t, err)
	assert.Equal(t, 0.1, out.GetFields()["z"].GetNumberValue(), "missing fields are zero before clamping")
}

func TestGetStatus(t *testing.T) {
	ctl := &fakeController{}
	c := startServer(t, ctl)
	got, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ctl.Status(), got)
}

func TestCallsAreLogged(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	c := startServer(t, &fakeController{})
	_, _ = c.SetTrajectoryType(context.Background(), 9)

	assert.Eventually(t, func() bool {
		return testutil.CountContaining(logs(), "/coax.v1.FlightControl/SetTrajectoryType InvalidArgument") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCommandStatus(t *testing.T) {
	assert.NoError(t, commandStatus(nil))
	assert.Equal(t, codes.Internal, status.Code(commandStatus(fmt.Errorf("nav link down"))))
}
