// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	// probesPerHop is the fixed number of probes sent for each TTL.
	probesPerHop = 3
	// mtuSize bounds a single receive buffer and, together with the IP and
	// UDP header sizes, the largest unfragmented probe payload.
	mtuSize = 1500
)

// Defaults for Config; see NewConfig.
const (
	defaultMaxTTL      = 64
	defaultPort        = 32456
	defaultPayloadSize = 40
	defaultTimeout     = 2 * time.Second
)

// Config is the immutable configuration for one trace run.
// Create it with NewConfig and validate it once; it is never mutated.
type Config struct {
	// Destination is the resolved IPv4 address to trace to.
	Destination net.IP `json:"destination" yaml:"destination"`
	// MaxTTL is the TTL at which the sweep gives up.
	MaxTTL int `json:"maxHops" yaml:"maxHops"`
	// Port is the UDP destination port, ideally one nothing listens on
	// so the destination answers with port-unreachable.
	Port int `json:"port" yaml:"port"`
	// PayloadSize is the probe payload size in bytes.
	PayloadSize int `json:"payloadSize" yaml:"payloadSize"`
	// Timeout is the per-probe wait for an ICMP response.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// NewConfig returns a Config for the given destination with defaults applied.
func NewConfig(dest net.IP) Config {
	return Config{
		Destination: dest,
		MaxTTL:      defaultMaxTTL,
		Port:        defaultPort,
		PayloadSize: defaultPayloadSize,
		Timeout:     defaultTimeout,
	}
}

func (c Config) Validate() error {
	if c.Destination == nil {
		return errors.New("destination cannot be empty")
	}
	if c.Destination.To4() == nil {
		return fmt.Errorf("destination %s is not an IPv4 address", c.Destination)
	}
	if c.MaxTTL <= 0 {
		return fmt.Errorf("invalid max TTL: %d, must be greater than 0", c.MaxTTL)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d, must be between 0 and 65535", c.Port)
	}
	if err := validatePayloadSize(c.PayloadSize); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid timeout: %v, must be greater than 0", c.Timeout)
	}
	return nil
}

// ResponseKind classifies the ICMP message that answered a probe.
type ResponseKind string

const (
	// KindTimeExceeded means a router in transit reported TTL expiry.
	KindTimeExceeded ResponseKind = "time-exceeded"
	// KindPortUnreachable means the destination rejected the probe's port,
	// the signal that the trace reached its destination.
	KindPortUnreachable ResponseKind = "port-unreachable"
	// KindOther is any other ICMP error that still matched our probe.
	KindOther ResponseKind = "other"
)

func (k ResponseKind) String() string {
	return string(k)
}

// ProbeOutcome is the result of a single probe: either a classified
// response from some address, or a timeout.
type ProbeOutcome struct {
	Kind     ResponseKind  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Addr     HopAddress    `json:"addr,omitempty" yaml:"addr,omitempty"`
	Latency  time.Duration `json:"-" yaml:"-"`
	TimedOut bool          `json:"timedOut" yaml:"timedOut"`
}

func (o ProbeOutcome) MarshalJSON() ([]byte, error) {
	type alias ProbeOutcome
	return json.Marshal(&struct {
		Latency string `json:"latency,omitempty"`
		alias
	}{
		Latency: o.latencyString(),
		alias:   alias(o),
	})
}

func (o ProbeOutcome) String() string {
	if o.TimedOut {
		return "*"
	}
	return o.Latency.Truncate(100 * time.Microsecond).String()
}

func (o ProbeOutcome) latencyString() string {
	if o.TimedOut {
		return ""
	}
	return o.Latency.String()
}

// Hop is the reduced record for one TTL: the outcomes of its probes in
// probe order and the address of the first responder.
type Hop struct {
	TTL      int            `json:"ttl" yaml:"ttl"`
	Outcomes []ProbeOutcome `json:"probes" yaml:"probes"`
	Addr     HopAddress     `json:"addr" yaml:"addr"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Reached  bool           `json:"reached" yaml:"reached"`
}

// Responded reports whether any probe for this hop got an answer.
func (h Hop) Responded() bool {
	return h.Addr.IP != ""
}

func (h Hop) String() string {
	reached := ""
	if h.Reached {
		reached = "  (reached)"
	}

	const maxNameLength = 45
	name := h.Name
	if name == "" || len(name) > maxNameLength {
		name = h.Addr.String()
	}

	outcomes := make([]string, 0, len(h.Outcomes))
	for _, o := range h.Outcomes {
		outcomes = append(outcomes, o.String())
	}

	return fmt.Sprintf("%-2d  %-45.45s  %s%s",
		h.TTL, name, strings.Join(outcomes, "  "), reached)
}

// HopAddress is the source address of the router that answered a probe.
type HopAddress struct {
	IP string `json:"ip" yaml:"ip"`
}

func newHopAddress(addr net.Addr) HopAddress {
	if ip := ipFromAddr(addr); ip != nil {
		return HopAddress{IP: ip.String()}
	}
	return HopAddress{}
}

func (a HopAddress) String() string {
	if a.IP == "" {
		return "*"
	}
	return a.IP
}

// State is the terminal state of a trace run.
type State string

const (
	// StateReached means a hop answered with port-unreachable.
	StateReached State = "reached"
	// StateExhausted means the sweep hit MaxTTL without reaching the destination.
	StateExhausted State = "exhausted"
)

// Result is the full ordered sequence of hops plus the terminal state.
type Result struct {
	Destination string `json:"destination" yaml:"destination"`
	Hops        []Hop  `json:"hops" yaml:"hops"`
	State       State  `json:"state" yaml:"state"`
}

// Reached reports whether the destination answered during the sweep.
func (r Result) Reached() bool {
	return r.State == StateReached
}
