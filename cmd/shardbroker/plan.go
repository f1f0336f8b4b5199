package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/shardbroker/pkg/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan [query]",
	Short: "Compile a query string into a plan and print it as JSON, without dispatching it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noCompact, _ := cmd.Flags().GetBool("no-compact")

		plan, err := planner.BuildPlan(args[0])
		if err != nil {
			return fmt.Errorf("plan_query failed: %w", err)
		}

		if !noCompact {
			plan.Steps = planner.CompactLookups(plan.Steps)
		}

		out, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	planCmd.Flags().Bool("no-compact", false, "Skip batch-lookup compaction and print the raw plan")
}
