// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

func TestEncodeProbe(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"default size", 40, false},
		{"empty payload", 0, false},
		{"largest unfragmented payload", maxPayloadSize, false},
		{"negative size", -1, true},
		{"exceeds datagram", maxPayloadSize + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := encodeProbe(tt.size)
			if tt.wantErr {
				require.Error(t, err)
				var eerr *EncodingError
				assert.ErrorAs(t, err, &eerr)
				assert.Equal(t, tt.size, eerr.Size)
				return
			}
			require.NoError(t, err)
			assert.Len(t, payload, tt.size)
			assert.Equal(t, bytes.Repeat([]byte{payloadFill}, tt.size), payload)
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	id := probeIdentity{dst: net.ParseIP("192.0.2.10"), srcPort: 31337, dstPort: 32456}
	otherPort := probeIdentity{dst: id.dst, srcPort: 31338, dstPort: id.dstPort}
	otherDst := probeIdentity{dst: net.ParseIP("198.51.100.1"), srcPort: id.srcPort, dstPort: id.dstPort}

	echoReply, err := (&icmp.Message{
		Type: ipv4.ICMPTypeEchoReply,
		Body: &icmp.Echo{ID: 1, Seq: 1},
	}).Marshal(nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		buf  []byte
		want classification
	}{
		{
			name: "time exceeded from matching probe",
			buf:  buildICMPReply(t, ipv4.ICMPTypeTimeExceeded, 0, id),
			want: classTimeExceeded,
		},
		{
			name: "port unreachable from matching probe",
			buf:  buildICMPReply(t, ipv4.ICMPTypeDestinationUnreachable, icmpUnreachablePort, id),
			want: classPortUnreachable,
		},
		{
			name: "host unreachable from matching probe",
			buf:  buildICMPReply(t, ipv4.ICMPTypeDestinationUnreachable, 1, id),
			want: classOther,
		},
		{
			name: "different source port",
			buf:  buildICMPReply(t, ipv4.ICMPTypeTimeExceeded, 0, otherPort),
			want: classUnrelated,
		},
		{
			name: "different destination",
			buf:  buildICMPReply(t, ipv4.ICMPTypeTimeExceeded, 0, otherDst),
			want: classUnrelated,
		},
		{
			name: "echo reply carries no probe",
			buf:  echoReply,
			want: classUnrelated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, derr := decodeResponse(tt.buf, id)
			require.NoError(t, derr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeResponse_Deterministic(t *testing.T) {
	id := probeIdentity{dst: net.ParseIP("192.0.2.10"), srcPort: 31337, dstPort: 32456}
	buf := buildICMPReply(t, ipv4.ICMPTypeTimeExceeded, 0, id)

	first, err := decodeResponse(buf, id)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		got, derr := decodeResponse(buf, id)
		require.NoError(t, derr)
		assert.Equal(t, first, got, "identical input must yield an identical classification")
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	id := probeIdentity{dst: net.ParseIP("192.0.2.10"), srcPort: 31337, dstPort: 32456}

	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty buffer", nil},
		{"too short for ICMP header", []byte{11, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeResponse(tt.buf, id)
			require.Error(t, err)
			var merr *MalformedPacketError
			assert.ErrorAs(t, err, &merr)
			assert.Equal(t, len(tt.buf), merr.Length)
			assert.Equal(t, classUnrelated, got)
		})
	}
}

func TestMatchesIdentity_TruncatedEmbeds(t *testing.T) {
	id := probeIdentity{dst: net.ParseIP("192.0.2.10"), srcPort: 31337, dstPort: 32456}
	full := embeddedDatagram(id)

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"full embed matches", full, true},
		{"empty embed", nil, false},
		{"header only, no ports", full[:ipv4.HeaderLen], false},
		{"not IPv4", append([]byte{0x60}, full[1:]...), false},
		{"wrong protocol", func() []byte {
			b := append([]byte(nil), full...)
			b[9] = 6 // TCP
			return b
		}(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesIdentity(tt.data, id))
		})
	}
}

func TestClassificationKind(t *testing.T) {
	assert.Equal(t, KindTimeExceeded, classTimeExceeded.kind())
	assert.Equal(t, KindPortUnreachable, classPortUnreachable.kind())
	assert.Equal(t, KindOther, classOther.kind())
}
