package main

import (
	"fmt"
	"sort"

	"github.com/devblac/headwatch/internal/config"
	"github.com/devblac/headwatch/internal/monitor"
	"github.com/devblac/headwatch/internal/storage"
	"github.com/spf13/cobra"
)

var flagOut string

func init() {
	exportCmd.Flags().StringVar(&flagOut, "out", "headers.csv", "Output CSV path")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored block headers to CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		byNumber, err := store.LoadHeaders(cmd.Context())
		if err != nil {
			return err
		}
		if len(byNumber) == 0 {
			return fmt.Errorf("no headers stored in %s", cfg.Global.DBPath)
		}

		headers := make([]monitor.Header, 0, len(byNumber))
		for _, h := range byNumber {
			headers = append(headers, h)
		}
		sort.Slice(headers, func(i, j int) bool { return headers[i].Number < headers[j].Number })

		if err := storage.WriteCSV(flagOut, headers); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d headers to %s\n", len(headers), flagOut)
		return nil
	},
}
