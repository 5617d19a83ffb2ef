package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"serverwatch/internal/eventlog"
	"serverwatch/internal/models"
	"serverwatch/internal/output"
	"serverwatch/internal/registry"
)

var addCmd = &cobra.Command{
	Use:   "add NAME ADDRESS",
	Short: "Register a new target",
	Long: `Register a target in the registry file. Names are unique ignoring case.

Examples:
  serverwatch add api 10.0.0.5
  serverwatch add "Build Box" build.internal`,
	Args: cobra.ExactArgs(2),
	RunE: runAdd,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered targets",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print today's event log",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(addCmd, listCmd, eventsCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	reg := registry.New(cfg.RegistryPath(), logger)
	if _, err := reg.Load(); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	target, err := reg.Add(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", target.Name, target.Address)
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	targets, err := registry.New(cfg.RegistryPath(), logger).Load()
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	statuses := make([]models.TargetStatus, 0, len(targets))
	for _, t := range targets {
		statuses = append(statuses, models.TargetStatus{Name: t.Name, Address: t.Address, State: models.StateUnknown})
	}
	return output.New(outputFmt, cmd.OutOrStdout()).RenderTargets(statuses)
}

func runEvents(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	log, err := eventlog.Open(cfg.LogPath(), eventlog.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	return output.New(outputFmt, cmd.OutOrStdout()).RenderEvents(log.Entries())
}
