package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"serverwatch/internal/output"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every registered target once and print the result",
	Long: `Run a single probe round against the registry, record any state changes in
the event log and print the resulting table.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout()*4)
	defer cancel()

	eng, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("shutdown engine", "error", err)
		}
	}()

	if _, err := eng.monitor.RunRound(ctx); err != nil {
		return fmt.Errorf("probe round: %w", err)
	}
	return output.New(outputFmt, cmd.OutOrStdout()).RenderTargets(eng.monitor.Snapshot())
}
