package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/serialmux"
	"github.com/banshee-data/coaxctl/internal/testutil"
	"github.com/banshee-data/coaxctl/internal/timeutil"
)

type fakeHandler struct {
	mu       sync.Mutex
	odometry []flight.Odometry
	status   []flight.VehicleStatus
}

func (f *fakeHandler) HandleOdometry(_ context.Context, o flight.Odometry) flight.ActuatorCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.odometry = append(f.odometry, o)
	return flight.ActuatorCommand{}
}

func (f *fakeHandler) HandleStatus(st flight.VehicleStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = append(f.status, st)
}

func (f *fakeHandler) Odometry() []flight.Odometry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]flight.Odometry(nil), f.odometry...)
}

const (
	odomLineText  = `{"type":"odom","pos":[0,0,0.3],"vel":[0,0,0],"quat":[1,0,0,0],"rate":[0,0,0]}`
	stateLineText = `{"type":"state","battery":12,"gyro":[0,0,0.1],"nav":"IDLE"}`
)

func TestDispatcherRoutesLines(t *testing.T) {
	h := &fakeHandler{}
	link := NewSerialLink(&recordingCommander{})
	d := NewDispatcher(h, link, timeutil.NewMockClock(t0))
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, odomLineText, t0))
	require.NoError(t, d.Dispatch(ctx, stateLineText, t0))
	require.NoError(t, d.Dispatch(ctx, `{"type":"ack","cmd":"NAV","ok":true,"nav":"RAW"}`, t0))
	require.NoError(t, d.Dispatch(ctx, `hello`, t0))
	assert.Error(t, d.Dispatch(ctx, `{"type":"odom","quat":[0,0,0,0]}`, t0))

	require.Len(t, h.Odometry(), 1)
	assert.Equal(t, t0, h.Odometry()[0].Time)
	assert.Equal(t, 0.3, h.Odometry()[0].Position.Z)
	require.Len(t, h.status, 1)
	assert.Equal(t, flight.NavIdle, h.status[0].Nav)

	nav, known := link.NavState()
	assert.True(t, known)
	assert.Equal(t, flight.NavRaw, nav, "ack after status wins")

	assert.Equal(t, Stats{Odometry: 1, Status: 1, Acks: 1, Ignored: 1, Errors: 1}, d.Stats())
}

func TestDispatcherLogsRefusedCommands(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	d := NewDispatcher(&fakeHandler{}, nil, nil)
	require.NoError(t, d.Dispatch(context.Background(), `{"type":"ack","cmd":"RAW","ok":false,"error":"nav not raw"}`, t0))
	assert.Contains(t, logs(), "telemetry: bridge refused RAW: nav not raw")
}

func TestFollowStampsWithClock(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	h := &fakeHandler{}
	clock := timeutil.NewMockClock(t0.Add(time.Minute))
	d := NewDispatcher(h, nil, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)
	done := make(chan error, 1)
	go func() { done <- Follow(ctx, mux, d) }()

	// lines sent before Follow subscribes are lost, so keep feeding
	require.Eventually(t, func() bool {
		port.AddReadData([]byte(odomLineText + "\n"))
		return len(h.Odometry()) > 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, t0.Add(time.Minute), h.Odometry()[0].Time)

	require.NoError(t, mux.Close())
	select {
	case err := <-done:
		assert.NoError(t, err, "closed source ends Follow")
	case <-time.After(time.Second):
		t.Fatal("Follow did not return")
	}
}
