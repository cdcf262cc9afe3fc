package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ncolesummers/replysight/pkg/api"
	"github.com/ncolesummers/replysight/pkg/config"
	"github.com/ncolesummers/replysight/pkg/domain"
	"github.com/ncolesummers/replysight/pkg/observability"
	"github.com/ncolesummers/replysight/pkg/workflow"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type respondOptions struct {
	customerID string
	priority   string
	asJSON     bool
}

func newRespondCommand(root *rootOptions) *cobra.Command {
	opts := &respondOptions{}

	cmd := &cobra.Command{
		Use:   "respond [complaint]",
		Short: "Draft a reply to one complaint (reads stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			complaint := ""
			if len(args) == 1 {
				complaint = args[0]
			} else {
				text, err := readComplaint(cmd.InOrStdin())
				if err != nil {
					return err
				}
				complaint = text
			}
			return runRespond(cmd, root.configPath, opts, complaint)
		},
	}

	cmd.Flags().StringVar(&opts.customerID, "customer-id", "", "Customer identifier")
	cmd.Flags().StringVar(&opts.priority, "priority", string(domain.PriorityNormal), "Complaint priority (normal|high)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the full outcome as JSON")
	return cmd
}

func readComplaint(r io.Reader) (string, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return "", fmt.Errorf("failed to read complaint from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func runRespond(cmd *cobra.Command, configPath string, opts *respondOptions, complaint string) error {
	cfg := loadConfig(configPath)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := initObservability(ctx, cfg); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer shutdownObservability(context.Background())

	ctx, span := tracer.Start(ctx, "main",
		trace.WithAttributes(
			attribute.String("version", Version),
			attribute.String("mode", "cli"),
		),
	)
	defer span.End()

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		return err
	}

	request := &domain.ReplyRequest{
		ID:         fmt.Sprintf("req_%d", time.Now().UnixNano()),
		Complaint:  complaint,
		CustomerID: opts.customerID,
		Priority:   domain.Priority(strings.ToLower(opts.priority)),
		ReceivedAt: time.Now(),
	}

	outcome, err := c.engine.Run(ctx, request)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("reply failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}
	printOutcome(out, outcome)
	return nil
}

func printOutcome(out io.Writer, outcome *workflow.Outcome) {
	resp := outcome.Response()
	fmt.Fprintln(out, "\n=== Reply ===")
	fmt.Fprintln(out, resp.Reply)

	if len(resp.Citations) > 0 {
		fmt.Fprintln(out, "\nCitations:")
		for i, citation := range resp.Citations {
			fmt.Fprintf(out, "%d. %s\n", i+1, citation)
		}
	}

	score := "unverified"
	if outcome.Scored {
		score = fmt.Sprintf("%.2f", outcome.Score)
	}
	fmt.Fprintf(out, "\nStatus: %s (%s)\n", outcome.Status, outcome.Reason)
	fmt.Fprintf(out, "Helpfulness: %s\n", score)
	fmt.Fprintf(out, "Cycles: %d  Evidence: %d\n", outcome.Cycles, len(outcome.Evidence))
	fmt.Fprintf(out, "Duration: %s\n", outcome.Latency.Round(time.Millisecond))
}

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root.configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	cfg := loadConfig(configPath)
	logger := observability.NewStructuredLogger("main")

	ctx, cancel := signalContext(parent)
	defer cancel()

	if err := initObservability(ctx, cfg); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer shutdownObservability(context.Background())

	logger.Info(ctx, "Starting ReplySight", map[string]interface{}{
		"version":    Version,
		"build_time": BuildTime,
		"config":     configPath,
	})

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}

	server, err := api.NewServer(api.ServerConfigFrom(cfg), c.engine, telemetry, c.health)
	if err != nil {
		return fmt.Errorf("failed to create api server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info(context.Background(), "Received shutdown signal")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down api server: %w", err)
	}
	return <-errCh
}

func newGraphCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the reply workflow graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			topology := workflow.Describe()
			out := cmd.OutOrStdout()
			switch format {
			case "mermaid":
				_, err := fmt.Fprint(out, topology.Mermaid())
				return err
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(topology)
			default:
				return fmt.Errorf("unsupported format %q (want json or mermaid)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "mermaid", "Output format (json|mermaid)")
	return cmd
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or generate configuration files",
	}

	var out string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("%s already exists", out)
			}
			if err := config.Default().Save(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&out, "out", "o", "configs/default.yaml", "Destination file")

	cmd.AddCommand(initCmd)
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
