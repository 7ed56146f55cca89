package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
	"github.com/virtuaplant/virtuaplant/pkg/engine"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
	"github.com/virtuaplant/virtuaplant/pkg/telemetry"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func section(w io.Writer, title string) {
	fmt.Fprintln(w, titleStyle.Render(title))
}

func passFail(ok bool) string {
	if ok {
		return okStyle.Render("PASS")
	}
	return failStyle.Render("FAIL")
}

func printReport(cmd *cobra.Command, r engine.Report) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, r)
	}

	section(w, fmt.Sprintf("%s: %d ticks, %.2fs simulated, %d active attacks, %d step errors",
		r.Plant, r.Tick, r.SimTime, r.ActiveAttacks, r.StepErrors))

	names := make([]string, 0, len(r.Tags))
	for name := range r.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	t := newTable("TAG", "VALUE")
	for _, name := range names {
		t.Row(name, r.Tags[name].String())
	}
	fmt.Fprintln(w, t)

	if len(r.Process) > 0 {
		vars := make([]string, 0, len(r.Process))
		for name := range r.Process {
			vars = append(vars, name)
		}
		sort.Strings(vars)
		pt := newTable("VARIABLE", "VALUE")
		for _, name := range vars {
			pt.Row(name, strconv.FormatFloat(r.Process[name], 'f', 3, 64))
		}
		fmt.Fprintln(w, pt)
	}
	return nil
}

func printAttacks(cmd *cobra.Command, records []*attack.Record) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No attacks recorded")
		return nil
	}

	t := newTable("ID", "KIND", "PLANT", "STATUS", "STARTED", "RAN", "TICKS", "WRITES", "ERROR")
	for _, rec := range records {
		ran := "-"
		if rec.EndedAt != nil {
			ran = rec.EndedAt.Sub(rec.StartedAt).Round(10 * time.Millisecond).String()
		}
		t.Row(
			shortID(rec.ID),
			string(rec.Config.Kind),
			string(rec.Config.Plant),
			string(rec.Status),
			rec.StartedAt.Local().Format(time.DateTime),
			ran,
			strconv.Itoa(rec.Ticks),
			strconv.Itoa(rec.Writes),
			rec.Error,
		)
	}
	fmt.Fprintln(w, t)
	return nil
}

func printEvents(cmd *cobra.Command, events []telemetry.Event) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, events)
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "No events recorded")
		return nil
	}

	t := newTable("TIME", "LEVEL", "TYPE", "SOURCE", "ATTACK", "MESSAGE")
	for _, ev := range events {
		t.Row(
			ev.Timestamp.Local().Format(time.DateTime),
			ev.Level,
			ev.Type,
			ev.Source,
			shortID(ev.AttackID),
			ev.Message,
		)
	}
	fmt.Fprintln(w, t)
	return nil
}

func printLoadReport(cmd *cobra.Command, report *tags.Report) error {
	w := cmd.OutOrStdout()
	section(w, fmt.Sprintf("%s: %d tags, %d warnings", report.Path, report.Tags, len(report.Warnings)))
	if len(report.Warnings) == 0 {
		return nil
	}
	t := newTable("KIND", "TAG", "MESSAGE")
	for _, warn := range report.Warnings {
		t.Row(string(warn.Kind), warn.Tag, warn.Message)
	}
	fmt.Fprintln(w, t)
	return nil
}

func printValidation(cmd *cobra.Command, report *tags.Report, rt *engine.RoundTripResult, threshold float64) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, struct {
			Report    *tags.Report            `json:"report"`
			RoundTrip *engine.RoundTripResult `json:"roundtrip,omitempty"`
			Ratio     float64                 `json:"ratio,omitempty"`
			Passed    bool                    `json:"passed"`
		}{
			Report:    report,
			RoundTrip: rt,
			Ratio:     ratioOf(rt),
			Passed:    rt == nil || rt.OK(threshold),
		})
	}

	if err := printLoadReport(cmd, report); err != nil {
		return err
	}
	if rt == nil {
		return nil
	}

	t := newTable("CHECK", "RESULT", "DETAIL")
	for _, c := range rt.Checks {
		t.Row(c.Name, passFail(c.Passed), c.Detail)
	}
	fmt.Fprintln(w, t)
	fmt.Fprintf(w, "%s round trip: %d/%d checks passed (%.0f%%, threshold %.0f%%)\n",
		passFail(rt.OK(threshold)), rt.Passed(), len(rt.Checks), rt.Ratio()*100, threshold*100)
	return nil
}

func printScenarios(cmd *cobra.Command, list []attack.Scenario, scripted map[string]bool) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(w, list)
	}

	t := newTable("NAME", "SOURCE", "PLANTS", "ATTACKS", "DESCRIPTION")
	for _, sc := range list {
		source := "built-in"
		if scripted[sc.Name] {
			source = "script"
		}
		plants := make([]string, 0, 2)
		for _, p := range sc.Plants() {
			plants = append(plants, string(p))
		}
		kinds := make([]string, 0, len(sc.Attacks))
		for _, a := range sc.Attacks {
			kinds = append(kinds, string(a.Kind))
		}
		t.Row(sc.Name, source, strings.Join(plants, ","), strings.Join(kinds, ", "), sc.Description)
	}
	fmt.Fprintln(w, t)
	return nil
}

func ratioOf(rt *engine.RoundTripResult) float64 {
	if rt == nil {
		return 0
	}
	return rt.Ratio()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
