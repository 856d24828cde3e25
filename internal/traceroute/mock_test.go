// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// probeChannelMock implements probeChannel with injectable functions.
type probeChannelMock struct {
	sendFunc    func(ctx context.Context, ttl int) (sentProbe, error)
	receiveFunc func(deadline time.Time) (rawPacket, error)
	closed      bool
}

func (m *probeChannelMock) send(ctx context.Context, ttl int) (sentProbe, error) {
	return m.sendFunc(ctx, ttl)
}

func (m *probeChannelMock) receive(deadline time.Time) (rawPacket, error) {
	return m.receiveFunc(deadline)
}

func (m *probeChannelMock) Close() error {
	m.closed = true
	return nil
}

// testIdentity is the probe identity scripted replies are built against.
func testIdentity(cfg Config) probeIdentity {
	return probeIdentity{dst: cfg.Destination, srcPort: 31337, dstPort: cfg.Port}
}

// embeddedDatagram builds the echoed original datagram fragment an ICMP
// error carries: an IPv4 header plus the first bytes of the UDP header.
func embeddedDatagram(id probeIdentity) []byte {
	b := make([]byte, ipv4.HeaderLen+udpHeaderLen)
	b[0] = 0x45
	b[9] = protocolUDP
	copy(b[16:20], id.dst.To4())
	binary.BigEndian.PutUint16(b[ipv4.HeaderLen:], uint16(id.srcPort))
	binary.BigEndian.PutUint16(b[ipv4.HeaderLen+2:], uint16(id.dstPort))
	return b
}

// buildICMPReply marshals a real ICMP error message embedding the given
// probe identity, as a router or destination host would produce it.
func buildICMPReply(t *testing.T, typ icmp.Type, code int, id probeIdentity) []byte {
	t.Helper()

	msg := icmp.Message{Type: typ, Code: code}
	switch typ {
	case ipv4.ICMPTypeTimeExceeded:
		msg.Body = &icmp.TimeExceeded{Data: embeddedDatagram(id)}
	case ipv4.ICMPTypeDestinationUnreachable:
		msg.Body = &icmp.DstUnreach{Data: embeddedDatagram(id)}
	default:
		t.Fatalf("unsupported ICMP type for test reply: %v", typ)
	}

	buf, err := msg.Marshal(nil)
	require.NoError(t, err)
	return buf
}

// replyEvent is one scripted answer on the receive transport: either a
// packet or a timeout.
type replyEvent struct {
	timeout bool
	buf     []byte
	src     net.Addr
}

func packetFrom(buf []byte, ip string) replyEvent {
	return replyEvent{buf: buf, src: &net.IPAddr{IP: net.ParseIP(ip)}}
}

func timeoutEvent() replyEvent {
	return replyEvent{timeout: true}
}

// scriptedChannel replays per-probe reply scripts keyed by (ttl, attempt).
// Each receive call pops one event; an exhausted script times out, which
// matches how a silent network behaves.
type scriptedChannel struct {
	id       probeIdentity
	events   map[[2]int][]replyEvent
	attempts map[int]int
	ttl      int
	closed   bool
}

func newScriptedChannel(cfg Config) *scriptedChannel {
	return &scriptedChannel{
		id:       testIdentity(cfg),
		events:   make(map[[2]int][]replyEvent),
		attempts: make(map[int]int),
	}
}

// on scripts the replies for one probe attempt (1-based) at the given TTL.
func (s *scriptedChannel) on(ttl, attempt int, evs ...replyEvent) {
	s.events[[2]int{ttl, attempt}] = evs
}

func (s *scriptedChannel) send(_ context.Context, ttl int) (sentProbe, error) {
	s.ttl = ttl
	s.attempts[ttl]++
	return sentProbe{id: s.id, sentAt: time.Now()}, nil
}

func (s *scriptedChannel) receive(_ time.Time) (rawPacket, error) {
	key := [2]int{s.ttl, s.attempts[s.ttl]}
	evs := s.events[key]
	if len(evs) == 0 {
		return rawPacket{}, errTimeout
	}
	ev := evs[0]
	s.events[key] = evs[1:]
	if ev.timeout {
		return rawPacket{}, errTimeout
	}
	return rawPacket{buf: ev.buf, src: ev.src, recvAt: time.Now()}, nil
}

func (s *scriptedChannel) Close() error {
	s.closed = true
	return nil
}
