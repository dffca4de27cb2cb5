package main

import (
	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/pkg/models"
)

// buildServeCmd creates the serve command that runs the full platform:
// the processing queue, proactive scanner, sweeps, scheduler, and metrics.
func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent platform",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath(cmd))
		},
	}
}

func buildPruneArchivesCmd() *cobra.Command {
	var (
		days      int
		chunkSize int
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "prune-prompt-archives",
		Short: "Delete prompt archives past the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPruneArchives(cmd.Context(), configPath(cmd), days, chunkSize, dryRun)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (0 uses the configured value)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Rows deleted per batch (0 uses the configured value)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting")
	return cmd
}

func buildRunEvalsCmd() *cobra.Command {
	var (
		suites   []string
		scenario string
		agentID  string
		strategy string
		runType  string
		sync     bool
		official bool
	)
	cmd := &cobra.Command{
		Use:   "run-evals",
		Short: "Dispatch eval suites and wait for results",
		Long: `Dispatch eval suites against real agents and wait for every task to
reach a terminal state. Exit code 0 means all scenarios passed, 1 means
at least one failed or errored, 2 means the arguments were invalid.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvals(cmd.Context(), configPath(cmd), evalFlags{
				suites:   suites,
				scenario: scenario,
				agentID:  agentID,
				strategy: strategy,
				runType:  runType,
				sync:     sync,
				official: official,
			})
		},
	}
	cmd.Flags().StringSliceVar(&suites, "suite", nil, "Suite slug (repeatable)")
	cmd.Flags().StringVar(&scenario, "scenario", "", "Run only this scenario slug")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Agent to reuse (requires --agent-strategy reuse_agent)")
	cmd.Flags().StringVar(&strategy, "agent-strategy", string(models.AgentEphemeralPerScenario), "ephemeral_per_scenario or reuse_agent")
	cmd.Flags().StringVar(&runType, "run-type", string(models.EvalRunOneOff), "one_off or official")
	cmd.Flags().BoolVar(&sync, "sync", true, "Run scenarios sequentially")
	cmd.Flags().BoolVar(&official, "official", false, "Shorthand for --run-type official")
	return cmd
}

func buildSoftExpireCmd() *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "soft-expire-agents",
		Short: "Run one soft-expiration pass over quiet free-plan agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSoftExpire(cmd.Context(), configPath(cmd), async)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Return immediately after starting the pass")
	return cmd
}

func buildSyncSchedulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-schedules",
		Short: "Reconcile cron entries with stored agent schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSyncSchedules(cmd.Context(), configPath(cmd))
		},
	}
}

func buildSuperuserCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "create-initial-superuser",
		Short: "Create the bootstrap admin agent (idempotent)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCreateSuperuser(cmd.Context(), configPath(cmd), email)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Admin contact email for the bootstrap agent")
	return cmd
}
