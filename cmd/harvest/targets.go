package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/targets"
)

var targetsFlags struct {
	from []string
	into string
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Derive a target list from output streams and audit it for duplicate locators.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		return runTargets(cmd.Context())
	},
}

var missingFlags struct {
	save string
}

var missingCmd = &cobra.Command{
	Use:   "missing TARGETS OUTPUT",
	Short: "List targets that have no entry in an output stream.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		return runMissing(cmd.Context(), args[0], args[1])
	},
}

func init() {
	f := targetsCmd.Flags()
	f.StringArrayVar(&targetsFlags.from, "from", nil, "output stream whose succeeded targets are added")
	f.StringVar(&targetsFlags.into, "into", "targets.json", "target list to extend (created when absent)")

	missingCmd.Flags().StringVar(&missingFlags.save, "save", "", "write the missing targets as a new target list")

	rootCmd.AddCommand(targetsCmd, missingCmd)
}

func runTargets(ctx context.Context) error {
	list, err := targets.Load(targetsFlags.into)
	switch {
	case errors.Is(err, os.ErrNotExist):
		list = nil
	case err != nil:
		return err
	}

	total := 0
	for _, path := range targetsFlags.from {
		entries, err := readEntries(ctx, path)
		if err != nil {
			return err
		}
		var added int
		list, added = targets.Derive(list, entries)
		total += added
		slog.Info("targets derived", "from", path, "added", added)
	}
	if len(targetsFlags.from) > 0 {
		if err := targets.Save(targetsFlags.into, list); err != nil {
			return fmt.Errorf("save %s: %w", targetsFlags.into, err)
		}
	}
	fmt.Printf("%s: %d targets (%d added)\n", targetsFlags.into, len(list), total)

	dups := targets.Audit(list)
	if len(dups) == 0 {
		return nil
	}
	t := newTable()
	t.SetTitle("Duplicate locators")
	t.AppendHeader(table.Row{"Locator", "IDs"})
	for _, d := range dups {
		ids := make([]string, len(d.IDs))
		for i, id := range d.IDs {
			ids[i] = id.String()
		}
		t.AppendRow(table.Row{d.Locator, strings.Join(ids, ", ")})
	}
	t.Render()
	return nil
}

func runMissing(ctx context.Context, targetsPath, outputPath string) error {
	list, err := targets.Load(targetsPath)
	if err != nil {
		return err
	}
	entries, err := readEntries(ctx, outputPath)
	if err != nil {
		return err
	}

	want := make([]string, len(list))
	for i, t := range list {
		want[i] = t.Locator
	}
	got := make([]string, 0, len(entries))
	failed := 0
	for _, e := range entries {
		got = append(got, e.Target.Locator)
		if e.Status == models.StatusFailed {
			failed++
		}
	}
	cmp := targets.Compare(want, got)

	t := newTable()
	t.AppendRows([]table.Row{
		{"Targets", len(list)},
		{"Entries", len(entries)},
		{"Failed entries", failed},
		{"Missing", len(cmp.OnlyLeft)},
		{"Not in target list", len(cmp.OnlyRight)},
	})
	t.Render()

	missing := targets.Missing(list, entries)
	if len(missing) > 0 {
		mt := newTable()
		mt.AppendHeader(table.Row{"ID", "Locator"})
		for _, m := range missing {
			mt.AppendRow(table.Row{m.ID, m.Locator})
		}
		mt.Render()
	}
	if missingFlags.save != "" {
		if err := targets.Save(missingFlags.save, missing); err != nil {
			return fmt.Errorf("save %s: %w", missingFlags.save, err)
		}
		slog.Info("missing targets saved", "path", missingFlags.save, "count", len(missing))
	}
	return nil
}
