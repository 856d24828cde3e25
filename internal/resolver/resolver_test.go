// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupIPv4_Literals(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		want    net.IP
		wantErr bool
	}{
		{"IPv4 literal", "192.0.2.1", net.ParseIP("192.0.2.1").To4(), false},
		{"loopback literal", "127.0.0.1", net.ParseIP("127.0.0.1").To4(), false},
		{"IPv6 literal rejected", "2001:db8::1", nil, true},
	}

	r := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.LookupIPv4(context.Background(), tt.host)
			if tt.wantErr {
				require.Error(t, err)
				var rerr *ResolutionError
				assert.ErrorAs(t, err, &rerr)
				assert.Equal(t, tt.host, rerr.Host)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupIPv4_Localhost(t *testing.T) {
	r := New()
	ip, err := r.LookupIPv4(context.Background(), "localhost")
	require.NoError(t, err)
	require.NotNil(t, ip.To4(), "expected an IPv4 address for localhost, got %v", ip)
}

func TestLookupIPv4_Unresolvable(t *testing.T) {
	r := New()
	_, err := r.LookupIPv4(context.Background(), "host.invalid")
	require.Error(t, err)

	var rerr *ResolutionError
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, "host.invalid", rerr.Host)
}

func TestResolutionError(t *testing.T) {
	cause := errors.New("no such host")
	err := &ResolutionError{Host: "example.invalid", Err: cause}

	assert.Contains(t, err.Error(), "example.invalid")
	assert.ErrorIs(t, fmt.Errorf("wrap: %w", err), cause)
}
