package commands

import (
	"context"
	"sort"

	"github.com/spf13/cobra"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
	"github.com/virtuaplant/virtuaplant/pkg/config"
)

func newScenariosCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List attack scenarios",
		Long: `List the built-in attack scenarios and those declared in Starlark scripts.

Scripts are read from --dir, or from the scenarios directory of the config
file. A script that fails to load is an error.`,
		Example: `  # List built-in scenarios
  plantsim scenarios

  # Include the shipped scenario scripts
  plantsim scenarios --dir scenarios`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Scenarios.Dir
			}

			tel, err := newTelemetry(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(context.Background()) }()
			logger := tel.Logger.Zerolog()

			list := attack.DefaultScenarios()
			scripted := make(map[string]bool)
			if dir != "" {
				loaded, err := config.NewScriptLoader(nil, 0, logger).LoadDir(cmd.Context(), dir)
				if err != nil {
					return err
				}
				for _, sc := range loaded {
					scripted[sc.Name] = true
				}
				list = append(list, loaded...)
			}

			// Registering through a manager rejects names that clash with
			// the built-ins.
			m := attack.NewManager(nil, logger)
			if err := m.SetScenarios(list); err != nil {
				return err
			}

			sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })
			return printScenarios(cmd, list, scripted)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory of scenario scripts (overrides the config)")

	return cmd
}
