// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

// Package resolver turns a destination name into the IPv4 address the
// trace core probes. It lives outside the core on purpose: the probe
// engine only ever sees an already-resolved address.
package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hoptrace/hoptrace/internal/helper"
	"github.com/hoptrace/hoptrace/internal/logger"
)

// Resolver resolves a destination host name to a single IPv4 address.
type Resolver interface {
	// LookupIPv4 resolves host to an IPv4 address. A host that is already
	// a literal IPv4 address is returned as-is without a DNS query.
	LookupIPv4(ctx context.Context, host string) (net.IP, error)
}

// ResolutionError is returned when the destination cannot be resolved
// to an IPv4 address. It is fatal before the trace ever starts.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve destination %q: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

type resolver struct {
	*net.Resolver
	retry helper.RetryConfig
}

// New creates a Resolver backed by the system resolver with a small
// retry budget for transient lookup failures.
func New() Resolver {
	return &resolver{
		Resolver: &net.Resolver{
			// Use the pure Go resolver so lookups honor the context deadline
			PreferGo: true,
		},
		retry: helper.RetryConfig{Count: 2, Delay: 500 * time.Millisecond},
	}
}

func (r *resolver) LookupIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, &ResolutionError{Host: host, Err: fmt.Errorf("not an IPv4 address")}
	}

	log := logger.FromContext(ctx)
	var addrs []net.IP
	lookup := func(ctx context.Context) error {
		ips, err := r.LookupIP(ctx, "ip4", host)
		if err != nil {
			log.WarnContext(ctx, "DNS lookup failed", "host", host, "error", err)
			return err
		}
		addrs = ips
		return nil
	}

	if err := helper.Retry(lookup, r.retry)(ctx); err != nil {
		return nil, &ResolutionError{Host: host, Err: err}
	}

	for _, ip := range addrs {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, &ResolutionError{Host: host, Err: fmt.Errorf("no A record found")}
}
