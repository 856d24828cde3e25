// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"errors"
	"fmt"
)

// ErrPrivilege is returned when the raw ICMP listener cannot be created
// due to missing privileges. This typically occurs when the process lacks
// CAP_NET_RAW, e.g. when running unprivileged or in a restricted container.
// It is distinct from TransportError so the operator can be told to elevate.
var ErrPrivilege = errors.New("opening the raw ICMP socket requires elevated privileges (CAP_NET_RAW)")

// errTimeout signals that the receive deadline elapsed without a matching
// response. It is the expected "hop did not respond" signal and is recorded
// as a timed-out outcome, never surfaced as a failure.
var errTimeout = errors.New("probe response timed out")

// TransportError wraps a fatal socket failure with the operation that
// caused it. Any TransportError aborts the whole run.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// EncodingError is returned when a probe payload cannot be built.
type EncodingError struct {
	Size   int
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode a %d byte probe payload: %s", e.Size, e.Reason)
}

// MalformedPacketError is returned when an inbound packet is too short to
// contain a valid ICMP header. The packet is discarded and the caller
// keeps waiting; it is never fatal.
type MalformedPacketError struct {
	Length int
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed ICMP packet of %d bytes", e.Length)
}
