package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var resetBreakersCmd = &cobra.Command{
	Use:   "reset-breakers",
	Short: "Clear all circuit breaker state on a running broker process (spec §6 reset_circuit_breakers)",
	Long: `reset-breakers calls the admin endpoint on a running shardbroker
process to clear all per-shard circuit breaker state. The spec
describes this as a test-oriented hook; this command is the
equivalent for driving a live process rather than an in-process
Go caller.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		resp, err := http.Post(fmt.Sprintf("http://%s/admin/reset-breakers", addr), "application/json", nil)
		if err != nil {
			return fmt.Errorf("failed to reach broker at %s: %w", addr, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("reset-breakers failed: broker returned %s", resp.Status)
		}

		fmt.Println("circuit breakers reset")
		return nil
	},
}

func init() {
	resetBreakersCmd.Flags().String("addr", "127.0.0.1:9090", "Address of the running broker's health/metrics server")
}
