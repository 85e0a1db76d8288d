package main

import (
	"fmt"

	"github.com/devblac/headwatch/internal/config"
	"github.com/devblac/headwatch/internal/logging"
	"github.com/devblac/headwatch/internal/source/rpc"
	"github.com/devblac/headwatch/internal/storage"
	"github.com/spf13/cobra"
)

var flagNoRPC bool

func init() {
	stateCmd.Flags().BoolVar(&flagNoRPC, "no-rpc", false, "Skip the live chain tip lookup")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the stored header range and lag behind the chain tip",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		lowest, highest, count, ok, err := store.Range(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "no headers stored")
			return nil
		}
		fmt.Fprintf(out, "stored headers: %d (blocks %d - %d)\n", count, lowest, highest)

		if flagNoRPC {
			return nil
		}

		cli, err := rpc.Dial(cfg.Chain.RPCURL, logging.New())
		if err != nil {
			return fmt.Errorf("dial rpc: %w", err)
		}
		tip, err := cli.ChainTip(cmd.Context())
		if err != nil {
			return fmt.Errorf("chain tip: %w", err)
		}
		fmt.Fprintf(out, "chain tip: %d, lag: %d blocks\n", tip, int64(tip)-int64(highest))
		return nil
	},
}
