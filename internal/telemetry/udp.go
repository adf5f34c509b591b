package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/coaxctl/internal/monitoring"
)

// UDPSourceConfig configures a UDPSource.
type UDPSourceConfig struct {
	// Address is the host:port to listen on, for example ":7400".
	Address string
	// RcvBuf sets the socket receive buffer when positive.
	RcvBuf int
}

// UDPSource receives bridge lines over UDP, as sent by a motion-capture
// relay. A datagram may carry several newline-separated lines.
type UDPSource struct {
	cfg  UDPSourceConfig
	conn *net.UDPConn
}

// ListenUDP binds the socket. Call Run to start dispatching.
func ListenUDP(cfg UDPSourceConfig) (*UDPSource, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(cfg.RcvBuf); err != nil {
			monitoring.Logf("telemetry: failed to set UDP receive buffer to %d: %v", cfg.RcvBuf, err)
		}
	}
	return &UDPSource{cfg: cfg, conn: conn}, nil
}

// LocalAddr returns the bound address.
func (u *UDPSource) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// Run reads datagrams and dispatches their lines until ctx is done. The
// socket is closed on return.
func (u *UDPSource) Run(ctx context.Context, d *Dispatcher) error {
	defer u.conn.Close()
	monitoring.Logf("telemetry: UDP source listening on %s", u.conn.LocalAddr())

	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// short deadline so cancellation is noticed
		u.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("UDP read: %w", err)
		}
		at := d.clock.Now()
		dispatchLines(ctx, d, buf[:n], at, from.String())
	}
}

func dispatchLines(ctx context.Context, d *Dispatcher, payload []byte, at time.Time, origin string) {
	for _, line := range bytes.Split(payload, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := d.Dispatch(ctx, string(line), at); err != nil {
			d.logDropped(origin, err)
		}
	}
}
