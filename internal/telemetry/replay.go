package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/coaxctl/internal/monitoring"
)

// ReplayStats summarizes a capture replay.
type ReplayStats struct {
	Packets   int
	Datagrams int
	First     time.Time
	Last      time.Time
}

// ReplayPCAPFile opens path and replays it with ReplayPCAP.
func ReplayPCAPFile(ctx context.Context, path string, udpPort int, d *Dispatcher) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	defer f.Close()
	return ReplayPCAP(ctx, f, udpPort, d)
}

// ReplayPCAP dispatches the UDP payloads addressed to udpPort found in a
// pcap stream. Capture timestamps become the controller's clock, so a
// recorded flight replays deterministically and as fast as it can be read.
// A udpPort of zero accepts every UDP datagram.
func ReplayPCAP(ctx context.Context, r io.Reader, udpPort int, d *Dispatcher) (ReplayStats, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to read capture header: %w", err)
	}

	var stats ReplayStats
	src := gopacket.NewPacketSource(reader, reader.LinkType())
	src.NoCopy = true
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		packet, err := src.NextPacket()
		if err == io.EOF {
			monitoring.Logf("telemetry: replay complete: %d packets, %d telemetry datagrams", stats.Packets, stats.Datagrams)
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if udpPort != 0 && int(udp.DstPort) != udpPort {
			continue
		}

		at := packet.Metadata().Timestamp
		if stats.Datagrams == 0 {
			stats.First = at
		}
		stats.Last = at
		stats.Datagrams++
		dispatchLines(ctx, d, udp.Payload, at, fmt.Sprintf("packet %d", stats.Packets))
	}
}
