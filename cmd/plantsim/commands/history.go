package commands

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
	"github.com/virtuaplant/virtuaplant/pkg/engine"
	"github.com/virtuaplant/virtuaplant/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		kind      string
		status    string
		limit     int
		offset    int
		events    bool
		eventType string
		attackID  string
		level     string
		snapshots int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show stored attacks, events and snapshots",
		Long: `Query the SQLite store written by run and attack.

By default the attack history is listed, newest first. The plant filter
applies only when --plant or --config is given. Use --events for the event
log and --snapshots for the latest tag snapshots of the plant.`,
		Example: `  # Attacks recorded against the refinery
  plantsim history --store plantsim.db -p refinery

  # Failed attacks of one kind
  plantsim history --store plantsim.db --kind stop_all --status failed

  # Event log of one attack
  plantsim history --store plantsim.db --events --attack 1b2c3d4e-...

  # The last three snapshots of the bottle line
  plantsim history --store plantsim.db -p bottle --snapshots 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return errors.New("no store configured, pass --store or a config with a store path")
			}
			var st attack.Status
			if status != "" {
				st = attack.Status(status)
				if err := st.Validate(); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg.Store.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			plantFilter := ""
			if configPath != "" || cmd.Flag("plant").Changed {
				plantFilter = string(cfg.Plant)
			}

			switch {
			case snapshots > 0:
				snaps, err := store.ListSnapshots(ctx, string(cfg.Plant), snapshots)
				if err != nil {
					return err
				}
				return printSnapshots(cmd, snaps)
			case events:
				list, err := store.ListEvents(ctx, stores.EventFilter{
					Type:     eventType,
					AttackID: attackID,
					Level:    level,
					Limit:    limit,
					Offset:   offset,
				})
				if err != nil {
					return err
				}
				return printEvents(cmd, list)
			default:
				records, err := store.ListAttacks(ctx, stores.AttackFilter{
					Plant:  plantFilter,
					Kind:   kind,
					Status: st,
					Limit:  limit,
					Offset: offset,
				})
				if err != nil {
					return err
				}
				return printAttacks(cmd, records)
			}
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "only attacks of this kind")
	cmd.Flags().StringVar(&status, "status", "", "only attacks with this status (completed, cancelled, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&events, "events", false, "show the event log instead of attacks")
	cmd.Flags().StringVar(&eventType, "type", "", "only events of this type")
	cmd.Flags().StringVar(&attackID, "attack", "", "only events of this attack")
	cmd.Flags().StringVar(&level, "level", "", "only events with this level")
	cmd.Flags().IntVar(&snapshots, "snapshots", 0, "show the latest N tag snapshots of the plant")

	return cmd
}

func printSnapshots(cmd *cobra.Command, snaps []*engine.Snapshot) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, snaps)
	}
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No snapshots recorded")
		return nil
	}

	for _, snap := range snaps {
		section(w, fmt.Sprintf("%s tick %d (%.2fs simulated, taken %s)",
			snap.Plant, snap.Tick, snap.SimTime, snap.TakenAt.Local().Format(time.DateTime)))
		names := make([]string, 0, len(snap.Values))
		for name := range snap.Values {
			names = append(names, name)
		}
		sort.Strings(names)
		t := newTable("TAG", "VALUE")
		for _, name := range names {
			t.Row(name, snap.Values[name].String())
		}
		fmt.Fprintln(w, t)
	}
	fmt.Fprintf(w, "%d snapshot(s)\n", len(snaps))
	return nil
}
