// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"bytes"
	"encoding/binary"
	"net"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	// protocolICMP is the IPv4 protocol number for ICMP.
	protocolICMP = 1
	// protocolUDP is the IPv4 protocol number for UDP.
	protocolUDP = 17
	// udpHeaderLen is the fixed size of a UDP header.
	udpHeaderLen = 8
	// maxPayloadSize is the largest probe payload that still fits in a
	// single unfragmented datagram.
	maxPayloadSize = mtuSize - ipv4.HeaderLen - udpHeaderLen
	// payloadFill is the byte the probe payload is padded with.
	payloadFill byte = 'x'
)

// probeIdentity ties an inbound ICMP error back to the probe that caused
// it. The kernel echoes the original IP header plus the first bytes of the
// UDP header inside time-exceeded and destination-unreachable messages, so
// the tuple (destination, source port, destination port) is enough to
// demultiplex replies on the shared raw socket.
type probeIdentity struct {
	dst     net.IP
	srcPort int
	dstPort int
}

// classification is the decoded verdict for one inbound packet.
type classification int

const (
	// classUnrelated marks packets that cannot be attributed to the probe
	// in flight. Callers discard them and keep waiting.
	classUnrelated classification = iota
	classTimeExceeded
	classPortUnreachable
	classOther
)

// kind maps a classification onto the public ResponseKind. Only valid for
// classifications other than classUnrelated.
func (c classification) kind() ResponseKind {
	switch c {
	case classTimeExceeded:
		return KindTimeExceeded
	case classPortUnreachable:
		return KindPortUnreachable
	default:
		return KindOther
	}
}

// validatePayloadSize bounds a probe payload. Shared by Config.Validate
// and encodeProbe so a bad size is caught before any socket is opened.
func validatePayloadSize(size int) error {
	if size < 0 {
		return &EncodingError{Size: size, Reason: "size is negative"}
	}
	if size > maxPayloadSize {
		return &EncodingError{Size: size, Reason: "exceeds a single unfragmented datagram"}
	}
	return nil
}

// encodeProbe builds the probe payload: exactly size bytes of filler. The
// surrounding UDP and IP headers are built by the kernel; the TTL is set
// per-socket by the probe channel.
func encodeProbe(size int) ([]byte, error) {
	if err := validatePayloadSize(size); err != nil {
		return nil, err
	}
	return bytes.Repeat([]byte{payloadFill}, size), nil
}

// decodeResponse classifies a raw inbound ICMP-bearing packet against the
// probe identified by id. Packets that do not embed our probe classify as
// classUnrelated; buffers too short to parse fail with MalformedPacketError.
func decodeResponse(buf []byte, id probeIdentity) (classification, error) {
	msg, err := icmp.ParseMessage(protocolICMP, buf)
	if err != nil {
		return classUnrelated, &MalformedPacketError{Length: len(buf)}
	}

	// Only time-exceeded and destination-unreachable embed the original
	// datagram we can correlate on. Everything else on the shared raw
	// socket (echo replies, redirects, ...) is noise for this trace.
	var embedded []byte
	switch body := msg.Body.(type) {
	case *icmp.TimeExceeded:
		embedded = body.Data
	case *icmp.DstUnreach:
		embedded = body.Data
	default:
		return classUnrelated, nil
	}

	if !matchesIdentity(embedded, id) {
		return classUnrelated, nil
	}

	switch {
	case msg.Type == ipv4.ICMPTypeTimeExceeded:
		return classTimeExceeded, nil
	case msg.Type == ipv4.ICMPTypeDestinationUnreachable && msg.Code == icmpUnreachablePort:
		return classPortUnreachable, nil
	default:
		return classOther, nil
	}
}

// icmpUnreachablePort is the ICMP code for Destination Unreachable -
// "Port Unreachable" messages. See:
// https://www.iana.org/assignments/icmp-parameters/icmp-parameters.xhtml#icmp-parameters-codes-3
const icmpUnreachablePort = 3

// matchesIdentity checks whether the echoed original datagram inside an
// ICMP error belongs to the probe identified by id.
func matchesIdentity(data []byte, id probeIdentity) bool {
	if len(data) < ipv4.HeaderLen+4 {
		return false
	}
	if data[0]>>4 != 4 {
		return false
	}

	ihl := int(data[0]&0x0f) * 4
	if ihl < ipv4.HeaderLen || len(data) < ihl+4 {
		return false
	}
	if data[9] != protocolUDP {
		return false
	}
	if !net.IP(data[16:20]).Equal(id.dst.To4()) {
		return false
	}

	l4 := data[ihl:]
	srcPort := int(binary.BigEndian.Uint16(l4[0:2]))
	dstPort := int(binary.BigEndian.Uint16(l4[2:4]))
	return srcPort == id.srcPort && dstPort == id.dstPort
}
