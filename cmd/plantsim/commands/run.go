package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var (
		speedup     float64
		duration    time.Duration
		metricsAddr string
		snapshots   float64
		scenario    string
		watch       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the plant simulation",
		Long: `Run the physics loop against the plant's tag state until interrupted.

Each tick reads the actuator and command tags, advances the model by dt and
writes the sensor outputs back. A status report is logged every status
interval of simulated time. With a store configured, finished attacks, events
and periodic tag snapshots are persisted.`,
		Example: `  # Run the bottle line with the default map
  plantsim run

  # Run the refinery from a config file at 10x speed
  plantsim run -c configs/refinery.cue --speedup 10

  # Run for five minutes with a scenario active
  plantsim run -c configs/bottle.cue --for 5m --scenario bottle_chaos`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("speedup") {
				cfg.Loop.Speedup = speedup
			}
			if cmd.Flags().Changed("snapshot-interval") {
				cfg.Loop.SnapshotInterval = snapshots
			}
			if metricsAddr != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Listen = metricsAddr
			}
			if watch {
				cfg.Scenarios.Watch = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			p, err := buildPlant(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Close(context.Background())

			p.serveMetrics()

			if scenario != "" {
				if _, err := p.manager.RunScenario(ctx, scenario); err != nil {
					return err
				}
			}

			if err := p.loop.Run(ctx); err != nil {
				return err
			}
			return printReport(cmd, p.loop.Report())
		},
	}

	cmd.Flags().Float64Var(&speedup, "speedup", 1, "wall-clock speedup factor")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this much wall time (0 runs until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	cmd.Flags().Float64Var(&snapshots, "snapshot-interval", 0, "store tag snapshots every N simulated seconds")
	cmd.Flags().StringVar(&scenario, "scenario", "", "start this attack scenario with the simulation")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload scenario scripts when they change")

	return cmd
}
