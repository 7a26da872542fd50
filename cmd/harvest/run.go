package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/api"
	"github.com/use-agent/harvest/browser/chrome"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/output"
	"github.com/use-agent/harvest/runner"
	"github.com/use-agent/harvest/schema"
	"github.com/use-agent/harvest/session"
	"github.com/use-agent/harvest/targets"
	"github.com/use-agent/harvest/webhook"
)

var runFlags struct {
	targets string
	schema  string
	output  string
	format  string
	limit   int
	status  string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest every target after the last committed output entry.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyRunFlags(cfg)
		return harvest(cmd.Context(), cfg)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.targets, "targets", "t", "", "target list (JSON or JSON5)")
	f.StringVarP(&runFlags.schema, "schema", "s", "", "extraction schema (YAML)")
	f.StringVarP(&runFlags.output, "output", "o", "", "output file")
	f.StringVar(&runFlags.format, "format", "", "output format: jsonl or sqlite")
	f.IntVar(&runFlags.limit, "limit", 0, "stop after this many targets (0 = all)")
	f.StringVar(&runFlags.status, "status-addr", "", "serve run status on this address")
	rootCmd.AddCommand(runCmd)
}

func applyRunFlags(cfg *config.Config) {
	if runFlags.targets != "" {
		cfg.Run.TargetsFile = runFlags.targets
	}
	if runFlags.schema != "" {
		cfg.Run.SchemaFile = runFlags.schema
	}
	if runFlags.output != "" {
		cfg.Output.Path = runFlags.output
	}
	if runFlags.format != "" {
		cfg.Output.Format = runFlags.format
	}
	if runFlags.limit > 0 {
		cfg.Run.Limit = runFlags.limit
	}
	if runFlags.status != "" {
		cfg.Status.Addr = runFlags.status
	}
}

func harvest(ctx context.Context, cfg *config.Config) error {
	// Missing credentials fail before a browser is started.
	if err := session.CheckCredentials(cfg.Session); err != nil {
		return err
	}
	s, err := schema.Load(cfg.Run.SchemaFile)
	if err != nil {
		return err
	}
	list, err := targets.Load(cfg.Run.TargetsFile)
	if err != nil {
		return err
	}

	sink, err := output.Open(cfg.Output)
	if err != nil {
		return err
	}
	defer sink.Close()
	w, err := output.NewWriter(ctx, sink, s.Kind, s.Discriminator, nil)
	if err != nil {
		return err
	}

	b, err := chrome.Launch(cfg.Browser)
	if err != nil {
		return err
	}
	defer b.Close()
	page, err := b.NewPage(ctx)
	if err != nil {
		return err
	}
	defer page.Close()

	in := engine.NewInteractor(cfg.Interaction, nil)
	ext := engine.NewExtractor(in, engine.NewPaginator(cfg.Pagination, in, nil), nil)
	sess, err := session.New(page, in, cfg.Session, nil)
	if err != nil {
		return err
	}

	progress := &runner.Progress{}
	if cfg.Status.Addr != "" {
		srv := &http.Server{
			Addr:    cfg.Status.Addr,
			Handler: api.NewRouter(progress, cfg.Status, version, time.Now()),
		}
		go func() {
			slog.Info("status server listening", "addr", cfg.Status.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status server error", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				slog.Warn("status server forced shutdown", "error", err)
			}
		}()
	}

	r := runner.New(runner.Options{
		Config:    cfg.Run,
		IdleCheck: cfg.Session.IdleCheck,
		Schema:    s,
		Targets:   list,
		Page:      page,
		Session:   sess,
		Extractor: ext,
		Writer:    w,
		Progress:  progress,
	})
	sum, runErr := r.Run(ctx)
	printSummary(sum)

	if cfg.Webhook.URL != "" {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		n := webhook.New(cfg.Webhook.URL, cfg.Webhook.Secret, nil)
		if err := n.Deliver(wctx, webhook.EventType(sum, runErr), sum); err != nil {
			slog.Error("run notification not delivered", "error", err)
		}
	}
	return runErr
}

func printSummary(sum *models.Summary) {
	if sum == nil {
		return
	}
	t := newTable()
	t.SetTitle("Run summary")
	t.AppendRows([]table.Row{
		{"Run", sum.RunID},
		{"Resumed after", sum.ResumedAt},
		{"Succeeded", sum.Succeeded},
		{"Skipped (duplicate)", sum.Skipped},
		{"Failed", sum.Failed},
		{"Re-authenticated", sum.Requeued},
		{"Duration", sum.Duration.Round(time.Second)},
	})
	if sum.Aborted && sum.AbortCause != nil {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Aborted", sum.AbortCause.Code + ": " + sum.AbortCause.Message})
	}
	t.Render()
}
