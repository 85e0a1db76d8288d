package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfig = `version: 1

global:
  db_path: headwatch.db
  poll_interval: 1s

chain:
  id: mainnet
  rpc_url: ${RPC_URL}
  # How much history to backfill on first start.
  initial_block_count: 100
  # Trailing blocks re-verified every cycle.
  check_depth: 20
  max_reorg_resolution_attempts: 10
  reorg_wait_seconds: 5

sinks: []
`

var flagForce bool

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite an existing config file")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagForce {
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists, use --force to overwrite", cfgPath)
			}
		}
		if err := os.WriteFile(cfgPath, []byte(sampleConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
		return nil
	},
}
