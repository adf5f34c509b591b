package telemetry

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedDatagram struct {
	at      time.Time
	dstPort uint16
	payload string
}

// buildCapture writes an Ethernet/IPv4/UDP pcap stream in memory.
func buildCapture(t *testing.T, datagrams []capturedDatagram) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))

	for _, dg := range datagrams {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(10, 0, 0, 2),
			DstIP:    net.IPv4(10, 0, 0, 1),
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dg.dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(sb, opts, eth, ip, udp, gopacket.Payload(dg.payload)))

		data := sb.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: dg.at, CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return &buf
}

func TestReplayPCAPUsesCaptureTime(t *testing.T) {
	capture := buildCapture(t, []capturedDatagram{
		{at: t0, dstPort: 7400, payload: stateLineText},
		{at: t0.Add(10 * time.Millisecond), dstPort: 7400, payload: odomLineText},
		{at: t0.Add(15 * time.Millisecond), dstPort: 9999, payload: odomLineText},
		{at: t0.Add(20 * time.Millisecond), dstPort: 7400, payload: odomLineText + "\n" + odomLineText},
	})

	h := &fakeHandler{}
	d := NewDispatcher(h, nil, nil)
	stats, err := ReplayPCAP(context.Background(), capture, 7400, d)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Packets)
	assert.Equal(t, 3, stats.Datagrams)
	assert.WithinDuration(t, t0, stats.First, 0)
	assert.WithinDuration(t, t0.Add(20*time.Millisecond), stats.Last, 0)

	odo := h.Odometry()
	require.Len(t, odo, 3)
	assert.True(t, odo[0].Time.Equal(t0.Add(10*time.Millisecond)))
	assert.True(t, odo[2].Time.Equal(t0.Add(20*time.Millisecond)))
	assert.Len(t, h.status, 1)
}

func TestReplayPCAPAnyPort(t *testing.T) {
	capture := buildCapture(t, []capturedDatagram{
		{at: t0, dstPort: 1, payload: odomLineText},
		{at: t0, dstPort: 2, payload: odomLineText},
	})
	h := &fakeHandler{}
	_, err := ReplayPCAP(context.Background(), capture, 0, NewDispatcher(h, nil, nil))
	require.NoError(t, err)
	assert.Len(t, h.Odometry(), 2)
}

func TestReplayPCAPErrors(t *testing.T) {
	_, err := ReplayPCAP(context.Background(), bytes.NewReader([]byte("not a capture")), 0, NewDispatcher(&fakeHandler{}, nil, nil))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	capture := buildCapture(t, []capturedDatagram{{at: t0, dstPort: 7400, payload: odomLineText}})
	_, err = ReplayPCAP(ctx, capture, 7400, NewDispatcher(&fakeHandler{}, nil, nil))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = ReplayPCAPFile(context.Background(), "/nonexistent/flight.pcap", 7400, NewDispatcher(&fakeHandler{}, nil, nil))
	assert.Error(t, err)
}
