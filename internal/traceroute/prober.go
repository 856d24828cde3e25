// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/hoptrace/hoptrace/internal/logger"
)

// hopProber fires the fixed number of probes for one TTL over the probe
// channel and reduces their outcomes into a single Hop record.
type hopProber struct {
	ch  probeChannel
	cfg Config
	// resolve does the reverse DNS lookup for a responder address.
	// Injectable so tests stay off the network.
	resolve func(net.Addr) string
}

func newHopProber(ch probeChannel, cfg Config) *hopProber {
	return &hopProber{
		ch:      ch,
		cfg:     cfg,
		resolve: resolveName,
	}
}

// probe runs the probe/response cycles for the given TTL. The attempts are
// strictly sequential and independent: a timeout on one never aborts the
// rest. Only transport failures return an error.
func (p *hopProber) probe(ctx context.Context, ttl int) (Hop, error) {
	log := logger.FromContext(ctx)
	hop := Hop{
		TTL:      ttl,
		Outcomes: make([]ProbeOutcome, 0, probesPerHop),
	}

	for attempt := 1; attempt <= probesPerHop; attempt++ {
		select {
		case <-ctx.Done():
			return Hop{}, ctx.Err()
		default:
		}

		sent, err := p.ch.send(ctx, ttl)
		if err != nil {
			return Hop{}, wrapError(ctx, err, "failed to send probe")
		}

		outcome, src, err := p.await(ctx, sent)
		if err != nil {
			return Hop{}, wrapError(ctx, err, "failed to receive probe response")
		}
		hop.Outcomes = append(hop.Outcomes, outcome)

		if outcome.TimedOut {
			log.DebugContext(ctx, "Probe timed out", "ttl", ttl, "attempt", attempt)
			continue
		}

		log.DebugContext(ctx, "Probe answered",
			"ttl", ttl,
			"attempt", attempt,
			"routerAddr", outcome.Addr,
			"kind", outcome.Kind,
			"latency", outcome.Latency,
		)

		// All probes of a hop target the same TTL, but load-balanced paths
		// can answer from different routers. The first responder wins.
		if !hop.Responded() {
			hop.Addr = outcome.Addr
			hop.Name = p.resolve(src)
		}
		if outcome.Kind == KindPortUnreachable {
			hop.Reached = true
		}
	}

	return hop, nil
}

// await waits for the response to one sent probe, discarding packets that
// do not belong to it, until a matching classification arrives or the
// probe's deadline is exhausted.
func (p *hopProber) await(ctx context.Context, sent sentProbe) (ProbeOutcome, net.Addr, error) {
	log := logger.FromContext(ctx)
	deadline := sent.sentAt.Add(p.cfg.Timeout)

	for {
		pkt, err := p.ch.receive(deadline)
		if errors.Is(err, errTimeout) {
			return ProbeOutcome{TimedOut: true}, nil, nil
		}
		if err != nil {
			return ProbeOutcome{}, nil, err
		}

		class, derr := decodeResponse(pkt.buf, sent.id)
		if derr != nil {
			log.DebugContext(ctx, "Discarding malformed packet", "error", derr)
			continue
		}
		if class == classUnrelated {
			log.DebugContext(ctx, "Discarding unrelated packet", "srcAddr", pkt.src)
			continue
		}

		return ProbeOutcome{
			Kind:    class.kind(),
			Addr:    newHopAddress(pkt.src),
			Latency: clampLatency(pkt.recvAt.Sub(sent.sentAt), p.cfg.Timeout),
		}, pkt.src, nil
	}
}

// clampLatency keeps a recorded latency within [0, timeout]. Scheduler
// jitter between the socket read and the timestamp can otherwise push a
// value slightly past the configured bound.
func clampLatency(d, timeout time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > timeout {
		return timeout
	}
	return d
}
