package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wslabel/wslabel/internal/config"
	"github.com/wslabel/wslabel/internal/control/client"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	keyColor     = color.New(color.FgYellow)
	dimColor     = color.New(color.Faint)
)

// errSilent marks failures already reported to the user.
var errSilent = errors.New("command failed")

type globalOptions struct {
	socketPath string
	timeout    time.Duration
	jsonOutput bool
	noColor    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errSilent) {
			errorColor.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "wslabelctl",
		Short:         "Inspect and drive a running wslabel daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.socketPath, "socket", "", "control socket path (defaults to $WSLABEL_CONTROL_SOCKET or $XDG_RUNTIME_DIR/wslabel/control.sock)")
	flags.DurationVar(&opts.timeout, "timeout", 3*time.Second, "request timeout")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print raw JSON")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		statusCmd(opts),
		planCmd(opts),
		relabelCmd(opts),
		labelsCmd(opts),
		checkCmd(),
	)
	return cmd
}

func (o *globalOptions) client() (*client.Client, error) {
	return client.New(o.socketPath)
}

func (o *globalOptions) context(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if o.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.timeout)
}

func statusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show actor state, counters, and the last plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			status, err := cli.Status(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, status)
			}
			printField(out, "Actor", status.ActorState)
			printField(out, "Labels", fmt.Sprintf("%d window class(es)", status.LookupSize))
			if status.DryRun {
				printField(out, "Mode", "dry-run")
			}
			totals := status.Metrics.Totals
			printField(out, "Events", fmt.Sprintf("%d seen, %d triggered a replan", totals.Events, totals.Triggers))
			printField(out, "Replans", fmt.Sprintf("%d (%d failed)", totals.Replans, totals.ReplanFailures))
			printField(out, "Renames", fmt.Sprintf("%d applied, %d rejected", totals.RenamesApplied, totals.RenamesRejected))
			if status.Metrics.LastError != "" {
				printField(out, "Last error", status.Metrics.LastError)
			}
			if plan := status.LastPlan; plan != nil {
				printField(out, "Last plan", fmt.Sprintf("%s at %s", plan.Reason, plan.ComputedAt.Format(time.RFC3339)))
				for _, d := range plan.Directives {
					fmt.Fprintf(out, "  %d: %q -> %q\n", d.Num, d.OldName, d.NewName)
				}
			}
			return nil
		},
	}
}

func planCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Preview the renames the daemon would issue now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			plan, err := cli.Plan(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, plan)
			}
			if len(plan.Directives) == 0 {
				successColor.Fprintln(out, "Workspace names are up to date")
				return nil
			}
			for _, d := range plan.Directives {
				fmt.Fprintln(out, d.Command)
			}
			return nil
		},
	}
}

func relabelCmd(opts *globalOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "relabel",
		Short: "Recompute and apply workspace names immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			result, err := cli.Relabel(ctx, reason)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, result)
			}
			if result.Plan == nil || len(result.Plan.Directives) == 0 {
				successColor.Fprintln(out, "Workspace names are up to date")
				return nil
			}
			verb := "Renamed"
			if result.Plan.DryRun {
				verb = "Would rename (dry-run)"
			}
			successColor.Fprintf(out, "%s %d workspace(s)\n", verb, len(result.Plan.Directives))
			for _, d := range result.Plan.Directives {
				fmt.Fprintf(out, "  %q -> %q\n", d.OldName, d.NewName)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "wslabelctl", "reason recorded with the replan")
	return cmd
}

func labelsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List the window class labels loaded by the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			labels, err := cli.Labels(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, labels)
			}
			classes := make([]string, 0, len(labels.Entries))
			for class := range labels.Entries {
				classes = append(classes, class)
			}
			sort.Strings(classes)
			for _, class := range classes {
				printField(out, class, labels.Entries[class])
			}
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file without contacting the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(configPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "path to configuration file")
	return cmd
}

func runCheck(configPath string, stdout, stderr io.Writer) error {
	if configPath == "" {
		return fmt.Errorf("check requires --config <path>")
	}
	lintErrs, err := config.LintFile(configPath)
	if err != nil {
		return err
	}
	if len(lintErrs) == 0 {
		successColor.Fprintln(stdout, "Configuration OK")
		return nil
	}

	errorColor.Fprintf(stderr, "Configuration has %d issue(s):\n", len(lintErrs))
	for _, lintErr := range lintErrs {
		fmt.Fprintf(stderr, "- %s\n", lintErr.Error())
	}
	return errSilent
}

func printField(w io.Writer, key, value string) {
	keyColor.Fprintf(w, "%s: ", key)
	if value == "" {
		dimColor.Fprintln(w, "(none)")
		return
	}
	fmt.Fprintln(w, value)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
