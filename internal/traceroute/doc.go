// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

// Package traceroute discovers the routers between the local host and an
// IPv4 destination by sending UDP probes with incrementing TTLs and
// classifying the ICMP errors they elicit.
//
// It exposes a [Client] for running a trace against a resolved destination
// with an immutable [Config]. Under the hood it sends each probe from a
// per-probe UDP socket with IP_TTL set via x/sys/unix, listens for ICMP
// time-exceeded and destination-unreachable messages on a single shared
// raw socket, and correlates each reply to the probe that caused it via
// the original datagram echoed in the ICMP payload.
//
// Key features:
//   - Pure-Go UDP dialing with IP_TTL control via x/sys/unix (no external
//     traceroute binary required)
//   - Raw-socket ICMP listener created once per run; EPERM surfaces as a
//     distinct [ErrPrivilege] before any probe is sent
//   - Three probes per hop with per-probe timeouts; a timed-out probe is a
//     first-class outcome, not an error
//   - Built-in OpenTelemetry spans and events for tracing the run and each hop
//   - Progressive hop delivery through a [Callback] so results can be
//     printed as soon as each hop is finalized
//
// Typical usage:
//
//	cfg := traceroute.NewConfig(destIP)
//	client := traceroute.NewClient()
//	res, err := client.Run(ctx, cfg, func(hop traceroute.Hop) { fmt.Println(hop) })
//	// res holds the ordered hops and the terminal state
package traceroute
