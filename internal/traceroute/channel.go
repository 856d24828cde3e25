// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/hoptrace/hoptrace/internal/logger"
	"golang.org/x/net/icmp"
	"golang.org/x/sys/unix"
)

// probeChannel owns the two transports of a trace run: per-probe sending
// with an explicit TTL, and deadline-bounded receiving of raw ICMP packets.
// Sending and receiving are decoupled because the reply to a probe arrives
// asynchronously on the shared raw socket and must be matched back to the
// probe by identity, not by arrival order.
type probeChannel interface {
	// send transmits one probe at the given TTL. It never blocks waiting
	// for a reply.
	send(ctx context.Context, ttl int) (sentProbe, error)
	// receive blocks until a raw packet arrives or the deadline elapses.
	// Deadline expiry returns errTimeout, the expected no-response signal.
	receive(deadline time.Time) (rawPacket, error)
	Close() error
}

// sentProbe is one transmitted probe: the identity its reply will carry
// and the send timestamp latency is measured from.
type sentProbe struct {
	id     probeIdentity
	sentAt time.Time
}

// rawPacket is one packet read off the raw ICMP socket, still unclassified.
type rawPacket struct {
	buf    []byte
	src    net.Addr
	recvAt time.Time
}

var _ probeChannel = (*udpChannel)(nil)

// udpChannel sends UDP probes from short-lived per-probe sockets and
// receives ICMP errors on a single raw socket shared across the run.
type udpChannel struct {
	cfg  Config
	conn *icmp.PacketConn
}

// newChannel creates the probe channel for one run. Creating the raw
// receiving socket is the privileged operation, so this is where a run
// without CAP_NET_RAW fails fast with ErrPrivilege.
func newChannel(cfg Config) (probeChannel, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		if errors.Is(err, unix.EPERM) {
			return nil, ErrPrivilege
		}
		return nil, &TransportError{Op: "listen", Err: err}
	}
	return &udpChannel{cfg: cfg, conn: conn}, nil
}

func (c *udpChannel) send(ctx context.Context, ttl int) (sentProbe, error) {
	log := logger.FromContext(ctx)

	payload, err := encodeProbe(c.cfg.PayloadSize)
	if err != nil {
		return sentProbe{}, err
	}

	conn, port, err := dialUDP(ctx, c.cfg, ttl)
	if err != nil {
		return sentProbe{}, &TransportError{Op: "dial", Err: err}
	}
	// The reply arrives on the raw socket, not here, so the sending socket
	// can be released as soon as the datagram is out. Its local port lives
	// on as the probe identity inside the echoed original datagram.
	defer func() { _ = conn.Close() }()

	sentAt := time.Now()
	if _, werr := conn.Write(payload); werr != nil {
		return sentProbe{}, &TransportError{Op: "send", Err: werr}
	}

	log.DebugContext(ctx, "Probe sent", "ttl", ttl, "srcPort", port, "payloadSize", len(payload))
	return sentProbe{
		id: probeIdentity{
			dst:     c.cfg.Destination,
			srcPort: port,
			dstPort: c.cfg.Port,
		},
		sentAt: sentAt,
	}, nil
}

func (c *udpChannel) receive(deadline time.Time) (rawPacket, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return rawPacket{}, &TransportError{Op: "set deadline", Err: err}
	}

	buf := make([]byte, mtuSize)
	n, src, err := c.conn.ReadFrom(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return rawPacket{}, errTimeout
		}
		return rawPacket{}, &TransportError{Op: "receive", Err: err}
	}

	return rawPacket{buf: buf[:n], src: src, recvAt: time.Now()}, nil
}

func (c *udpChannel) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// dialUDP connects a UDP socket to the destination with the given TTL on
// the outer IP header and a random local port as the probe identity.
func dialUDP(ctx context.Context, cfg Config, ttl int) (net.Conn, int, error) {
	port := randomPort()

	// Dialer with control function to set IP_TTL
	dialer := net.Dialer{
		LocalAddr: &net.UDPAddr{
			Port: port,
		},
		Timeout: cfg.Timeout,
		ControlContext: func(_ context.Context, _, _ string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, ttl) // #nosec G115 // The net package is safe to use
			}); err != nil {
				return err
			}
			return opErr
		},
	}

	addr := net.JoinHostPort(cfg.Destination.String(), strconv.Itoa(cfg.Port))
	conn, err := dialer.DialContext(ctx, "udp4", addr)
	switch {
	case err == nil:
		return conn, port, nil
	case errors.Is(err, unix.EADDRINUSE):
		// If the local port is already in use,
		// we just retry with a new random port.
		return dialUDP(ctx, cfg, ttl)
	default:
		return nil, 0, err
	}
}
