package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/browser/static"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/schema"
)

var replayFlags struct {
	schema string
	url    string
}

var replayCmd = &cobra.Command{
	Use:   "replay SNAPSHOT",
	Short: "Run a schema against a saved page snapshot and print the record.",
	Long: `Replays extraction over an HTML snapshot, such as one saved for a failed
target, without a browser or a login. Clicks and scrolls are no-ops, so
only content already present in the snapshot is extracted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if replayFlags.schema == "" {
			replayFlags.schema = cfg.Run.SchemaFile
		}
		s, err := schema.Load(replayFlags.schema)
		if err != nil {
			return err
		}
		page, err := static.Open(args[0], replayFlags.url)
		if err != nil {
			return err
		}

		in := engine.NewInteractor(cfg.Interaction, nil)
		ext := engine.NewExtractor(in, engine.NewPaginator(cfg.Pagination, in, nil), nil)
		res, err := ext.ExtractPage(cmd.Context(), page, s)
		if err != nil {
			return err
		}
		for _, w := range res.Warnings {
			fmt.Fprintln(os.Stderr, "warning:", w)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Record)
	},
}

func init() {
	f := replayCmd.Flags()
	f.StringVarP(&replayFlags.schema, "schema", "s", "", "extraction schema (defaults to run.schema)")
	f.StringVar(&replayFlags.url, "url", "about:blank", "locator the snapshot was taken from")
	rootCmd.AddCommand(replayCmd)
}
