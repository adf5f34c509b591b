package telemetry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/coaxctl/internal/timeutil"
)

func TestUDPSourceDispatchesDatagrams(t *testing.T) {
	src, err := ListenUDP(UDPSourceConfig{Address: "127.0.0.1:0", RcvBuf: 1 << 16})
	require.NoError(t, err)

	h := &fakeHandler{}
	d := NewDispatcher(h, nil, timeutil.NewMockClock(t0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, d) }()

	conn, err := net.Dial("udp", src.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(odomLineText + "\n" + stateLineText + "\n\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return d.Stats().Status == 1 }, time.Second, time.Millisecond)
	assert.Len(t, h.Odometry(), 1)
	assert.Equal(t, t0, h.Odometry()[0].Time)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestListenUDPBadAddress(t *testing.T) {
	_, err := ListenUDP(UDPSourceConfig{Address: "not-an-address"})
	assert.Error(t, err)
}
