// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/hoptrace/hoptrace/internal/logger"
	"github.com/hoptrace/hoptrace/internal/resolver"
	"github.com/hoptrace/hoptrace/internal/traceroute"
)

// Output formats for the final result.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// NewCmdTrace creates the trace command, the one command this tool exists for.
func NewCmdTrace() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <destination>",
		Short: "Trace the route to a destination",
		Long: "Trace sends UDP probes with increasing TTLs towards the destination and\n" +
			"prints one line per hop as soon as its probes are answered or time out.\n" +
			"The raw ICMP listener requires elevated privileges (CAP_NET_RAW).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, args[0])
		},
	}

	cmd.Flags().Int("max-ttl", 64, "maximum TTL before the trace gives up")
	cmd.Flags().Int("port", 32456, "UDP destination port, ideally one nothing listens on")
	cmd.Flags().Int("payload-size", 40, "probe payload size in bytes")
	cmd.Flags().Duration("timeout", 2*time.Second, "per-probe timeout")
	cmd.Flags().StringP("output", "o", outputText, "output format: text, json or yaml")
	cmd.Flags().Bool("tracing", false, "emit OpenTelemetry spans for the run to stdout")

	_ = viper.BindPFlags(cmd.Flags())

	return cmd
}

func runTrace(cmd *cobra.Command, destination string) error {
	ctx, cancel := logger.NewContextWithLogger(cmd.Context())
	defer cancel()

	// An interactive interrupt aborts the run between probes; the only
	// cleanup needed is releasing the transports, which Run defers.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	log := logger.FromContext(ctx)
	out := cmd.OutOrStdout()

	if viper.GetBool("tracing") {
		tp, err := newTracerProvider(out)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() {
			if serr := tp.Shutdown(context.Background()); serr != nil {
				log.ErrorContext(ctx, "Failed to shut down tracer provider", "error", serr)
			}
		}()

		var span trace.Span
		ctx, span = tp.Tracer("hoptrace").Start(ctx, "trace")
		defer span.End()
	}

	ip, err := resolver.New().LookupIPv4(ctx, destination)
	if err != nil {
		return err
	}

	cfg := traceroute.NewConfig(ip)
	cfg.MaxTTL = viper.GetInt("max-ttl")
	cfg.Port = viper.GetInt("port")
	cfg.PayloadSize = viper.GetInt("payload-size")
	cfg.Timeout = viper.GetDuration("timeout")

	format := viper.GetString("output")
	if format != outputText && format != outputJSON && format != outputYAML {
		return fmt.Errorf("unknown output format %q", format)
	}

	fmt.Fprintf(out, "Tracing route to %s (%s) with %d byte probes, at most %d hops\n",
		destination, ip, cfg.PayloadSize, cfg.MaxTTL)

	var cb traceroute.Callback
	if format == outputText {
		cb = func(hop traceroute.Hop) {
			fmt.Fprintln(out, hop.String())
		}
	}

	res, err := traceroute.NewClient().Run(ctx, cfg, cb)
	if err != nil {
		if errors.Is(err, traceroute.ErrPrivilege) {
			return fmt.Errorf("%w\nplease re-run with elevated privileges, e.g.: sudo hoptrace trace %s", err, destination)
		}
		return err
	}

	return renderResult(out, res, format)
}

// renderResult writes the final result in the requested format. In text
// mode the hops were already printed progressively, so only the terminal
// status is added.
func renderResult(w io.Writer, res traceroute.Result, format string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case outputYAML:
		return yaml.NewEncoder(w).Encode(res)
	default:
		if res.Reached() {
			fmt.Fprintf(w, "Destination %s reached after %d hops\n", res.Destination, len(res.Hops))
		} else {
			fmt.Fprintln(w, "Reached max TTL without reaching the destination")
		}
		return nil
	}
}

// newTracerProvider builds an SDK tracer provider that prints spans to w.
// An interactive one-shot tool has no collector to ship spans to, so the
// stdout exporter is the whole pipeline.
func newTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp)), nil
}
