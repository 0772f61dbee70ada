package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/builder"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultWaitTimeout    = 5 * time.Minute
)

var ErrInputConflict = errors.New("--input and --input-file are exclusive")

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tartanctl",
		Short:         "Start and inspect tartan runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("TARTAN_URL")
	if server == "" {
		server = builder.DefaultEngineURL
	}
	rootCmd.PersistentFlags().String("server", server, "Engine API base URL")
	rootCmd.PersistentFlags().Duration(
		"timeout", defaultRequestTimeout, "Per-request timeout",
	)

	rootCmd.AddCommand(
		flowsCmd(),
		runsCmd(),
		startCmd(),
		getCmd(),
		stepsCmd(),
		pagesCmd(),
		waitCmd(),
	)
	return rootCmd
}

func flowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List registered flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := clientFor(cmd).ListFlows(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func runsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List runs that have not finished",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := clientFor(cmd).ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <flow>",
		Short: "Start a run of a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd)
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("id")
			if prefix, _ := cmd.Flags().GetString("id-prefix"); id == "" &&
				prefix != "" {
				id = string(builder.NewRunID(prefix))
			}

			rc, err := clientFor(cmd).StartRunWithRequest(cmd.Context(),
				api.StartRunRequest{
					ID:    api.RunID(id),
					Flow:  api.FlowName(args[0]),
					Input: input,
				},
			)
			if err != nil {
				return err
			}

			if wait, _ := cmd.Flags().GetBool("wait"); wait {
				return waitAndPrint(cmd, rc)
			}
			return printJSON(cmd.OutOrStdout(), api.RunStartedResponse{
				Message: "run started",
				RunID:   rc.ID(),
			})
		},
	}
	cmd.Flags().String("input", "", "Run input as JSON or YAML")
	cmd.Flags().String("input-file", "", "File holding the run input")
	cmd.Flags().String("id", "", "Run ID to use")
	cmd.Flags().String("id-prefix", "", "Generate a run ID with this prefix")
	cmd.Flags().Bool("wait", false, "Wait for the run to finish")
	addWaitFlags(cmd)
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show a run's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := clientFor(cmd).Run(api.RunID(args[0]))
			st, err := rc.GetState(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func stepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "steps <run-id> [step]",
		Short: "Show a run's steps, or a single step",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := clientFor(cmd).Run(api.RunID(args[0]))
			if len(args) == 2 {
				rec, err := rc.GetStep(cmd.Context(), api.StepName(args[1]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			}
			res, err := rc.ListSteps(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func pagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pages <run-id>",
		Short: "Show the pages a run has emitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := clientFor(cmd).Run(api.RunID(args[0]))
			res, err := rc.ListPages(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func waitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait <run-id>",
		Short: "Wait for a run to finish and show its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return waitAndPrint(cmd, clientFor(cmd).Run(api.RunID(args[0])))
		},
	}
	addWaitFlags(cmd)
	return cmd
}

func addWaitFlags(cmd *cobra.Command) {
	cmd.Flags().Duration(
		"interval", builder.DefaultPollInterval, "Polling interval",
	)
	cmd.Flags().Duration(
		"wait-timeout", defaultWaitTimeout, "Give up waiting after",
	)
}

func waitAndPrint(cmd *cobra.Command, rc *builder.RunClient) error {
	interval, _ := cmd.Flags().GetDuration("interval")
	limit, _ := cmd.Flags().GetDuration("wait-timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), limit)
	defer cancel()

	st, err := rc.Wait(ctx, interval)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), st); err != nil {
		return err
	}
	if st.Status == api.RunFailed {
		return fmt.Errorf("run %s failed: %s", st.ID, st.Error)
	}
	return nil
}

func clientFor(cmd *cobra.Command) *builder.Client {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return builder.NewClient(server, timeout)
}

// readInput parses the run input from --input or --input-file. YAML is
// accepted, and JSON parses as YAML
func readInput(cmd *cobra.Command) (api.Value, error) {
	raw, _ := cmd.Flags().GetString("input")
	path, _ := cmd.Flags().GetString("input-file")
	if raw != "" && path != "" {
		return nil, ErrInputConflict
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = string(data)
	}
	if raw == "" {
		return nil, nil
	}

	var doc any
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	return api.NewValue(doc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
