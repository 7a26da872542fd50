package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/merge"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/output"
)

var mergeFlags struct {
	joins     []string
	out       string
	threshold float64
}

var mergeCmd = &cobra.Command{
	Use:   "merge PRIMARY",
	Short: "Join secondary output streams onto a primary stream by locator.",
	Long: `Each --join is NAME=PATH or NAME=PATH#FIELD. The merged entity carries the
primary record plus, under NAME, the matching secondary record (or only its
FIELD). Locators a source lacks are reported, never fatal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		return runMerge(cmd.Context(), args[0])
	},
}

func init() {
	f := mergeCmd.Flags()
	f.StringArrayVarP(&mergeFlags.joins, "join", "j", nil, "secondary stream NAME=PATH[#FIELD]")
	f.StringVarP(&mergeFlags.out, "out", "o", "merged.json", "merged JSON output")
	f.Float64Var(&mergeFlags.threshold, "suggest", 0.9, "similarity at which an orphan locator is suggested for an unmatched one")
	rootCmd.AddCommand(mergeCmd)
}

func runMerge(ctx context.Context, primaryPath string) error {
	var secondaries []merge.Secondary
	for _, j := range mergeFlags.joins {
		name, rest, ok := strings.Cut(j, "=")
		if !ok || name == "" || rest == "" {
			return fmt.Errorf("bad --join %q: want NAME=PATH[#FIELD]", j)
		}
		path, field, _ := strings.Cut(rest, "#")
		entries, err := readEntries(ctx, path)
		if err != nil {
			return err
		}
		secondaries = append(secondaries, merge.Index(name, field, entries))
	}

	m := merge.NewMerger(secondaries)
	var entities []models.Record
	seen := make(map[string]bool)
	err := output.ReadFile(ctx, primaryPath, func(e models.Entry) error {
		if e.Status != models.StatusSucceeded || seen[e.Target.Locator] {
			return nil
		}
		seen[e.Target.Locator] = true
		entities = append(entities, m.Add(merge.Keyed{Target: e.Target, Record: e.Record}))
		return nil
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", primaryPath, err)
	}

	res := merge.Result{Entities: entities, Unmatched: m.Unmatched()}
	if err := writeJSON(mergeFlags.out, res); err != nil {
		return err
	}
	slog.Info("merge written", "path", mergeFlags.out, "entities", len(entities))

	t := newTable()
	t.AppendHeader(table.Row{"Source", "Matched", "Unmatched", "Orphans"})
	orphans := m.Orphans()
	for _, s := range secondaries {
		un := res.Unmatched[s.Name]
		t.AppendRow(table.Row{s.Name, len(entities) - len(un), len(un), len(orphans[s.Name])})
	}
	t.Render()

	for _, s := range secondaries {
		hints := merge.Suggest(res.Unmatched[s.Name], orphans[s.Name], mergeFlags.threshold)
		if len(hints) == 0 {
			continue
		}
		ht := newTable()
		ht.SetTitle("Possible matches: " + s.Name)
		ht.AppendHeader(table.Row{"Unmatched", "Candidate", "Similarity"})
		for _, h := range hints {
			ht.AppendRow(table.Row{h.Locator, h.Candidate, fmt.Sprintf("%.3f", h.Similarity)})
		}
		ht.Render()
	}
	return nil
}

func readEntries(ctx context.Context, path string) ([]models.Entry, error) {
	var entries []models.Entry
	err := output.ReadFile(ctx, path, func(e models.Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return entries, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
