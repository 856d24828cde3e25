// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"context"
	"net"

	"github.com/hoptrace/hoptrace/internal/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ Client = (*controller)(nil)

// Callback receives each hop as soon as it is finalized, enabling
// progressive printing while the sweep is still running. May be nil.
type Callback func(Hop)

// Client is able to run a traceroute against a resolved destination.
type Client interface {
	// Run executes the trace for the given config. Each finalized hop is
	// handed to cb before the next TTL is probed. Returns the full Result,
	// or an error if the trace cannot run or a transport fails mid-sweep.
	Run(ctx context.Context, cfg Config, cb Callback) (Result, error)
}

// controller drives the TTL sweep from 1 to cfg.MaxTTL and decides
// termination: a hop with a port-unreachable outcome ends the sweep as
// reached, running out of TTLs ends it as exhausted.
type controller struct {
	// newChannel abstracts transport creation so tests can inject a
	// synthetic channel.
	newChannel func(Config) (probeChannel, error)
	// resolve overrides the prober's reverse DNS lookup when set.
	resolve func(net.Addr) string
}

// NewClient creates a new traceroute client.
func NewClient() Client {
	return &controller{
		newChannel: newChannel,
	}
}

func (c *controller) Run(ctx context.Context, cfg Config, cb Callback) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer("traceroute.controller")
	ctx, sp := tracer.Start(ctx, "Run", trace.WithAttributes(
		attribute.String("traceroute.destination", cfg.Destination.String()),
		attribute.Int("traceroute.options.max_ttl", cfg.MaxTTL),
		attribute.Int("traceroute.options.port", cfg.Port),
		attribute.Stringer("traceroute.options.timeout", cfg.Timeout),
	))
	defer sp.End()
	log := logger.FromContext(ctx)

	ch, err := c.newChannel(cfg)
	if err != nil {
		return Result{}, wrapError(ctx, err, "failed to create probe channel")
	}
	defer func() { _ = ch.Close() }()

	prober := newHopProber(ch, cfg)
	if c.resolve != nil {
		prober.resolve = c.resolve
	}
	res := Result{
		Destination: cfg.Destination.String(),
		Hops:        make([]Hop, 0, cfg.MaxTTL),
		State:       StateExhausted,
	}

	for ttl := 1; ttl <= cfg.MaxTTL; ttl++ {
		hopCtx, hopSpan := tracer.Start(ctx, cfg.Destination.String(), trace.WithAttributes(
			attribute.String("traceroute.destination", cfg.Destination.String()),
			attribute.Int("traceroute.hop.ttl", ttl),
		))

		hop, err := prober.probe(hopCtx, ttl)
		if err != nil {
			hopSpan.End()
			return Result{}, wrapError(ctx, err, "failed to probe hop")
		}
		hopSpan.AddEvent("Hop finalized", trace.WithAttributes(
			attribute.Stringer("traceroute.hop", hop),
			attribute.Bool("traceroute.hop.reached", hop.Reached),
		))
		hopSpan.End()

		log.DebugContext(ctx, hop.String())
		res.Hops = append(res.Hops, hop)
		if cb != nil {
			cb(hop)
		}

		if hop.Reached {
			res.State = StateReached
			break
		}
	}

	return res, nil
}
