package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fleet-safety/monitor/internal/advisory"
	"fleet-safety/monitor/internal/auth"
	"fleet-safety/monitor/internal/compliance"
	"fleet-safety/monitor/internal/config"
	"fleet-safety/monitor/internal/pipeline"
	"fleet-safety/monitor/internal/rules"
	"fleet-safety/monitor/internal/sim"
	"fleet-safety/monitor/internal/state"
	"fleet-safety/monitor/internal/store"
	transport "fleet-safety/monitor/internal/transport/http"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Vehicle safety monitor - telemetry ingestion and rule evaluation",
		Long: `Ingests vehicle telemetry, evaluates speed, driver-risk, and cargo
compliance rules per vehicle, and dispatches alerts and compliance records
to Postgres and Redis sinks.`,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(simulateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(json bool) *slog.Logger {
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	return slog.New(handler)
}

func loadChecker(cfg *config.Config) (*compliance.Checker, error) {
	snap := compliance.DefaultSnapshot()
	if cfg.RegulatorySnapshotPath != "" {
		loaded, err := compliance.LoadSnapshot(cfg.RegulatorySnapshotPath)
		if err != nil {
			return nil, err
		}
		snap = loaded
	}
	return compliance.NewChecker(snap), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion pipeline and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				fmt.Println("No .env file found - using system environment variables")
			}
			cfg := config.Load()
			log := newLogger(true)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pg, err := store.NewPostgresStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer pg.Close()

			rdb, err := store.NewRedisStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			defer rdb.Close()

			checker, err := loadChecker(cfg)
			if err != nil {
				return err
			}

			var classifier advisory.Classifier
			if cfg.AdvisoryURL != "" {
				classifier = advisory.NewBridge(cfg, log)
			} else {
				log.Warn("ADVISORY_API_URL not set - driver-risk runs in degraded local mode")
			}

			states := state.NewStore(rules.New(cfg.Policy, classifier, checker))
			disp := pipeline.NewDispatcher(cfg.AlertQueueSize, cfg.RecordQueueSize, cfg.StateQueueSize)
			pipe := pipeline.New(states, disp, log)

			var wg sync.WaitGroup
			runSink := func(run func(context.Context)) {
				wg.Add(1)
				go func() {
					defer wg.Done()
					run(ctx)
				}()
			}
			runSink(pipeline.NewAlertSink(disp.AlertQ, pg, rdb, log).Run)
			runSink(pipeline.NewRecordSink(disp.RecordQ, pg, cfg.RecordBatchSize, cfg.RecordFlushIntervalMS, log).Run)
			runSink(pipeline.NewStateSink(disp.StateQ, rdb, log).Run)

			authMW := transport.NewAuthMiddleware(auth.NewAuthenticator(cfg, rdb))
			server, err := transport.NewServer(pipe, states, checker, disp.RecordQ, authMW, log)
			if err != nil {
				return err
			}

			httpServer := &http.Server{
				Addr:              ":" + cfg.HTTPPort,
				Handler:           server.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(shutdownCtx)
			}()

			log.Info("monitor listening", "port", cfg.HTTPPort)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}

			disp.Close()
			wg.Wait()
			return nil
		},
	}
}

func simulateCmd() *cobra.Command {
	var vehicles int
	var intervalMS int
	var durationS int
	var seed int64

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the pipeline against simulated vehicle feeds (no external stores)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			log := newLogger(false)

			ctx := context.Background()
			if durationS > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(durationS)*time.Second)
				defer cancel()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			checker, err := loadChecker(cfg)
			if err != nil {
				return err
			}

			states := state.NewStore(rules.New(cfg.Policy, nil, checker))
			disp := pipeline.NewDispatcher(cfg.AlertQueueSize, cfg.RecordQueueSize, cfg.StateQueueSize)
			pipe := pipeline.New(states, disp, log)

			var wg sync.WaitGroup
			wg.Add(3)
			go func() { defer wg.Done(); pipeline.NewAlertSink(disp.AlertQ, nil, nil, log).Run(ctx) }()
			go func() {
				defer wg.Done()
				pipeline.NewRecordSink(disp.RecordQ, nil, cfg.RecordBatchSize, cfg.RecordFlushIntervalMS, log).Run(ctx)
			}()
			go func() { defer wg.Done(); pipeline.NewStateSink(disp.StateQ, nil, log).Run(ctx) }()

			log.Info("simulation started", "vehicles", vehicles, "interval_ms", intervalMS)
			sim.New(pipe, vehicles, time.Duration(intervalMS)*time.Millisecond, seed, log).Run(ctx)

			disp.Close()
			wg.Wait()
			return nil
		},
	}

	cmd.Flags().IntVarP(&vehicles, "vehicles", "n", 5, "Number of simulated vehicles")
	cmd.Flags().IntVarP(&intervalMS, "interval", "i", 500, "Milliseconds between events per vehicle")
	cmd.Flags().IntVarP(&durationS, "duration", "d", 30, "Run duration in seconds (0 = until interrupted)")
	cmd.Flags().Int64VarP(&seed, "seed", "s", 1, "Random seed")
	return cmd
}
