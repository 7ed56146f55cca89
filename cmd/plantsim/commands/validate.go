package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/virtuaplant/virtuaplant/pkg/engine"
	"github.com/virtuaplant/virtuaplant/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	var (
		strict    bool
		rules     string
		roundtrip bool
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "validate [map]",
		Short: "Validate a tag map",
		Long: `Validate a tag map CSV and report every finding.

This command checks:
  - CSV syntax, types, tables and address overlaps
  - Role prefixes (SENSOR_, ACT_, CMD_) against their tables
  - Coverage against the cross-PLC reference model
  - Naming, type and table policies (OPA/rego)

With --roundtrip it also drives every tag through the plant state, runs a few
physics steps and one attack, and fails when the pass ratio is below
--threshold.`,
		Example: `  # Validate the default bottle map
  plantsim validate

  # Validate a map against a reference model, failing on policy errors
  plantsim validate maps/refinery/modbus_map.csv -p refinery --reference ir/refinery_crossplc.json --strict

  # Round-trip acceptance test
  plantsim validate -c configs/bottle.cue --roundtrip --threshold 0.8`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Map = args[0]
			}
			if rules != "" {
				cfg.Policy.Rules = rules
			}

			tel, err := newTelemetry(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.Background()) }()
			logger := tel.Logger.WithPlant(string(cfg.Plant)).Zerolog()

			op := telemetry.StartOperation(tel.WithContext(cmd.Context()), string(cfg.Plant), "validate")
			defer func() { op.End(err) }()
			ctx := op.Ctx

			logger.Info().
				Str("map", cfg.Map).
				Str("reference", cfg.Reference).
				Bool("strict", strict || cfg.Policy.Strict).
				Msg("Validating tag map")

			pe, err := newPolicyEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			reg, report, err := loadRegistry(ctx, cfg, tel, pe, strict)
			if err != nil {
				if report != nil {
					_ = printLoadReport(cmd, report)
				}
				return err
			}

			var rt *engine.RoundTripResult
			if roundtrip {
				rt = engine.RoundTrip(ctx, reg, cfg.Plant)
			}

			if err := printValidation(cmd, report, rt, threshold); err != nil {
				return err
			}
			if rt != nil && !rt.OK(threshold) {
				return fmt.Errorf("round trip passed %d of %d checks (%.0f%%), below threshold %.0f%%",
					rt.Passed(), len(rt.Checks), rt.Ratio()*100, threshold*100)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat policy errors as fatal")
	cmd.Flags().StringVar(&rules, "rules", "", "policy rules file (overrides the config)")
	cmd.Flags().BoolVar(&roundtrip, "roundtrip", false, "run the round-trip acceptance checks")
	cmd.Flags().Float64Var(&threshold, "threshold", engine.DefaultRoundTripThreshold, "minimum round-trip pass ratio")

	return cmd
}
