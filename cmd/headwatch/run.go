package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/devblac/headwatch/internal/config"
	"github.com/devblac/headwatch/internal/engine"
	"github.com/devblac/headwatch/internal/health"
	"github.com/devblac/headwatch/internal/logging"
	"github.com/devblac/headwatch/internal/metrics"
	"github.com/devblac/headwatch/internal/monitor"
	"github.com/devblac/headwatch/internal/sink"
	"github.com/devblac/headwatch/internal/source/rpc"
	"github.com/devblac/headwatch/internal/source/sim"
	"github.com/devblac/headwatch/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagOnce     bool
	flagSimulate bool
	flagRestore  string
	flagHealth   string
	flagMetrics  string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Process one duty cycle and exit")
	runCmd.Flags().BoolVar(&flagSimulate, "simulate", false, "Track a simulated chain instead of the RPC endpoint")
	runCmd.Flags().StringVar(&flagRestore, "restore", "", "Restore the header buffer from a CSV export instead of the database")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track the chain tip and resolve reorganisations",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			logLevel = "info"
		}
		log := logging.NewWithLevel(logLevel)
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		var (
			source    monitor.HeaderSource
			simulated *sim.Chain
		)
		if flagSimulate {
			simulated = sim.New()
			count := cfg.Chain.InitialBlockCount
			if count == 0 {
				count = 100
			}
			simulated.ProduceBlocks(int(count))
			source = simulated
		} else {
			cli, err := rpc.Dial(cfg.Chain.RPCURL, log)
			if err != nil {
				return err
			}
			source = cli
		}

		opts := monitor.Options{
			CheckDepth:    cfg.Chain.CheckDepth,
			MaxCycleTries: cfg.Chain.MaxReorgResolutionAttempts,
			ReorgWait:     time.Duration(cfg.Chain.ReorgWaitSeconds) * time.Second,
		}
		if flagSimulate {
			// The simulated chain settles instantly.
			opts.Sleep = func(time.Duration) {}
		}
		mon := monitor.New(source, log, opts)

		switch {
		case flagSimulate:
			// Persisted state belongs to a real chain, not this run.
		case flagRestore != "":
			headers, err := storage.ReadCSV(flagRestore)
			if err != nil {
				return fmt.Errorf("restore from csv: %w", err)
			}
			if err := mon.Restore(headers); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			if err := store.SaveHeaders(ctx, mon.Export()); err != nil {
				return fmt.Errorf("seed storage from csv: %w", err)
			}
			log.Info("restored header buffer from csv", "path", flagRestore, "last_block", mon.LastBlockRead())
		default:
			headers, err := store.LoadHeaders(ctx)
			if err != nil {
				return fmt.Errorf("load stored headers: %w", err)
			}
			if len(headers) > 0 {
				if err := mon.Restore(headers); err != nil {
					return fmt.Errorf("restore: %w", err)
				}
				log.Info("restored header buffer from storage", "last_block", mon.LastBlockRead())
			}
		}

		var loaded, start, end uint64
		start, end, err = mon.LoadInitialHeaders(ctx, monitor.LoadOptions{
			BlockCount: cfg.Chain.InitialBlockCount,
			StartBlock: cfg.Chain.StartBlock,
			Save: func(h monitor.Header) error {
				return store.UpsertHeader(ctx, h)
			},
			Progress: func(number uint64) {
				loaded++
				if loaded%1000 == 0 {
					log.Info("downloading block headers", "block", number, "loaded", loaded)
				}
			},
		})
		if err != nil {
			return fmt.Errorf("load initial headers: %w", err)
		}
		log.Info("initial headers loaded", "start", start, "end", end, "last_block", mon.LastBlockRead())

		sinks := map[string]sink.Sender{}
		for _, s := range cfg.Sinks {
			switch s.Type {
			case "slack":
				sender, err := sink.NewSlackSender(s.WebhookURL, s.Template)
				if err != nil {
					return err
				}
				sinks[s.ID] = sender
			case "teams":
				sender, err := sink.NewTeamsSender(s.WebhookURL, s.Template)
				if err != nil {
					return err
				}
				sinks[s.ID] = sender
			case "webhook":
				sender, err := sink.NewWebhookSender(s.URL, s.Method, s.Template, nil)
				if err != nil {
					return err
				}
				sinks[s.ID] = sender
			default:
				continue
			}
		}

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				srv := &http.Server{Addr: flagMetrics, Handler: mux}
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
		}

		if flagHealth != "" {
			rpcChecker := health.NewRPCChecker(source)
			healthSrv := health.Serve(flagHealth, health.Checker{
				DBPing:  store.Ping,
				RPCPing: rpcChecker.Ping,
			})
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		runner := engine.NewRunner(mon, store, sinks, mtr, log, cfg.Chain.ID)

		for {
			if simulated != nil {
				simulated.ProduceBlocks(1)
			}
			res, err := runner.RunOnce(ctx)
			if err != nil {
				log.Error("duty cycle failed", "error", err)
				return err
			}
			log.Info("tick complete",
				"last_block", res.LastLiveBlock,
				"reorg_detected", res.ReorgDetected,
			)
			if flagOnce {
				break
			}
			time.Sleep(cfg.PollInterval())
		}
		return nil
	},
}
