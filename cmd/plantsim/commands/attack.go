package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

func newAttackCommand() *cobra.Command {
	var (
		scenario  string
		runFor    time.Duration
		duration  float64
		intensity float64
		targets   []string
		values    map[string]string
	)

	cmd := &cobra.Command{
		Use:   "attack [kind]",
		Short: "Run the plant with an attack or scenario injected",
		Long: `Start the simulation, inject one attack or a whole scenario, and run until
the attacks finish or --for elapses, whichever comes first. The outcome of
every attack is printed at the end.

Attack kinds:
  never_stop, stop_all, constant_running, nothing_runs, move_and_fill,
  stop_and_fill, run_no_spill, sensor_spoofing, actuator_override,
  random_noise, timing_attack`,
		Example: `  # Force every actuator off for 20 seconds
  plantsim attack stop_all --duration 20

  # Spoof one refinery sensor with a literal value
  plantsim attack sensor_spoofing -p refinery --target SENSOR_TANK_LEVEL --value SENSOR_TANK_LEVEL=5

  # Run a scenario against the configured plant
  plantsim attack -c configs/bottle.cue --scenario bottle_chaos --for 1m`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (scenario == "") {
				return fmt.Errorf("give either an attack kind or --scenario")
			}

			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			var ac attack.Config
			if len(args) == 1 {
				kind, err := attack.ParseKind(args[0])
				if err != nil {
					return err
				}
				ac = attack.NewConfig(kind, cfg.Plant)
				ac.Duration = duration
				ac.Intensity = intensity
				ac.TargetTags = targets
				if ac.Values, err = parseValues(values); err != nil {
					return err
				}
				if err := ac.Validate(); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), runFor)
			defer cancel()

			p, err := buildPlant(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Close(context.Background())

			loopDone := make(chan error, 1)
			go func() { loopDone <- p.loop.Run(ctx) }()

			if scenario != "" {
				ids, err := p.manager.RunScenario(ctx, scenario)
				if err != nil {
					cancel()
					<-loopDone
					return err
				}
				if len(ids) == 0 {
					cancel()
					<-loopDone
					return fmt.Errorf("scenario %s has no attacks for plant %s", scenario, cfg.Plant)
				}
			} else if _, err := p.injector.StartAttack(ctx, ac); err != nil {
				cancel()
				<-loopDone
				return err
			}

			go func() {
				p.injector.Wait()
				cancel()
			}()

			if err := <-loopDone; err != nil {
				return err
			}
			// The loop may stop on --for before the workers notice
			p.injector.StopAllAttacks()
			p.injector.Wait()

			return printAttacks(cmd, p.injector.History())
		},
	}

	cmd.Flags().StringVar(&scenario, "scenario", "", "run this scenario instead of a single attack")
	cmd.Flags().DurationVar(&runFor, "for", 2*time.Minute, "upper bound on wall time")
	cmd.Flags().Float64Var(&duration, "duration", attack.DefaultDuration, "attack duration in seconds")
	cmd.Flags().Float64Var(&intensity, "intensity", attack.DefaultIntensity, "probability scale for probabilistic patterns (0-1)")
	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "tags the attack targets")
	cmd.Flags().StringToStringVar(&values, "value", nil, "literal tag values (TAG=value)")

	return cmd
}

// parseValues converts TAG=value flags into tag values. Integers are
// recognised before booleans so that 1 and 0 stay numeric.
func parseValues(raw map[string]string) (map[string]tags.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]tags.Value, len(raw))
	for name, s := range raw {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			out[name] = tags.Int(i)
			continue
		}
		if b, err := strconv.ParseBool(s); err == nil {
			out[name] = tags.Bool(b)
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("value for %s: %q is not a bool or number", name, s)
		}
		out[name] = tags.Float(f)
	}
	return out, nil
}
