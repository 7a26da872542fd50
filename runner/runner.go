// Package runner drives one browsing session over the target list:
// navigate, extract, write, continue on per-target failure, abort only on
// authentication or storage failure.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/output"
	"github.com/use-agent/harvest/schema"
	"github.com/use-agent/harvest/session"
	"github.com/use-agent/harvest/targets"
	"golang.org/x/time/rate"
)

// Session is the part of session.Controller the runner needs.
type Session interface {
	Restore(ctx context.Context) (bool, error)
	Authenticate(ctx context.Context) (*session.Token, error)
	Ensure(ctx context.Context) error
	Invalidated(ctx context.Context) bool
}

// Options wires a Runner. Session may be nil for pages that need no login.
type Options struct {
	Config    config.RunConfig
	IdleCheck time.Duration
	Schema    *schema.Schema
	Targets   []models.Target
	Page      browser.Page
	Session   Session
	Extractor *engine.Extractor
	Writer    *output.Writer
	Progress  *Progress
	Logger    *slog.Logger
}

// Runner is the run orchestrator. It is single-use.
type Runner struct {
	opts     Options
	progress *Progress
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Runner.
func New(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Progress == nil {
		opts.Progress = &Progress{}
	}
	limit := rate.Inf
	if opts.Config.Rate > 0 {
		limit = rate.Limit(opts.Config.Rate)
	}
	return &Runner{
		opts:     opts,
		progress: opts.Progress,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// Progress returns the live progress tracker.
func (r *Runner) Progress() *Progress { return r.progress }

// Run processes every target after the last committed entry. It returns
// the summary in every case. The error is non-nil when the run aborted
// (AUTH_FAILED, OUTPUT_IO) or was interrupted (the context error).
func (r *Runner) Run(ctx context.Context) (*models.Summary, error) {
	start := r.now()
	sum := &models.Summary{RunID: uuid.NewString()}
	r.progress.start(sum.RunID)
	r.progress.setState(Idle)
	logger := r.logger.With("run_id", sum.RunID)

	defer func() { sum.Duration = r.now().Sub(start) }()

	last, err := r.opts.Writer.Last(ctx)
	if err != nil {
		return r.abort(sum, err)
	}
	var startAfter *models.TargetID
	if last != nil {
		id := last.Target.ID
		startAfter = &id
		sum.ResumedAt = id
	}
	it, err := targets.New(r.opts.Targets, startAfter)
	if err != nil {
		return sum, err
	}
	r.progress.remaining.Store(int64(it.Remaining()))
	logger.Info("run starting",
		"kind", r.opts.Schema.Kind,
		"targets", len(r.opts.Targets),
		"remaining", it.Remaining(),
		"resumed_after", sum.ResumedAt,
	)

	if r.opts.Session != nil {
		r.progress.setState(Authenticating)
		if err := r.login(ctx); err != nil {
			if ctx.Err() != nil {
				return r.interrupt(sum, ctx.Err())
			}
			return r.abort(sum, err)
		}
	}

	lastActivity := r.now()
	processed := 0
	for {
		if r.opts.Config.Limit > 0 && processed >= r.opts.Config.Limit {
			logger.Info("target limit reached", "limit", r.opts.Config.Limit)
			break
		}
		t, ok := it.Next()
		if !ok {
			break
		}
		r.progress.setState(Iterating)
		r.progress.current.Store(t.ID.String())
		r.progress.remaining.Store(int64(it.Remaining()))

		if err := r.limiter.Wait(ctx); err != nil {
			return r.interrupt(sum, err)
		}

		if r.opts.Session != nil && r.opts.IdleCheck > 0 && r.now().Sub(lastActivity) > r.opts.IdleCheck {
			r.progress.setState(Authenticating)
			if err := r.opts.Session.Ensure(ctx); err != nil {
				if ctx.Err() != nil {
					return r.interrupt(sum, ctx.Err())
				}
				return r.abort(sum, err)
			}
		}

		rec, warnings, err := r.process(ctx, t)
		if err != nil && errors.Is(err, models.ErrSessionInvalidated) && r.opts.Session != nil && ctx.Err() == nil {
			logger.Warn("session invalidated, re-authenticating", "target", t.ID)
			sum.Requeued++
			r.progress.setState(Authenticating)
			if _, aerr := r.opts.Session.Authenticate(ctx); aerr != nil {
				if ctx.Err() != nil {
					return r.interrupt(sum, ctx.Err())
				}
				return r.abort(sum, aerr)
			}
			rec, warnings, err = r.process(ctx, t)
		}
		if ctx.Err() != nil {
			logger.Info("interrupted, target not written", "target", t.ID)
			return r.interrupt(sum, ctx.Err())
		}

		status := models.StatusSucceeded
		if err != nil {
			status = models.StatusFailed
			rec = nil
			logger.Warn("target failed",
				"target", t.ID,
				"locator", t.Locator,
				"code", models.Code(err),
				"error", err,
			)
			r.snapshot(ctx, t)
		}

		r.progress.setState(Writing)
		// Once started, the append completes even if an interrupt arrives.
		written, werr := r.opts.Writer.Append(context.WithoutCancel(ctx), t, rec, status, err, warnings...)
		if werr != nil {
			return r.abort(sum, werr)
		}
		switch {
		case !written:
			sum.Skipped++
			r.progress.skipped.Add(1)
		case status == models.StatusSucceeded:
			sum.Succeeded++
			r.progress.succeeded.Add(1)
			logger.Info("target succeeded", "target", t.ID, "warnings", len(warnings))
		default:
			sum.Failed++
			r.progress.failed.Add(1)
		}
		lastActivity = r.now()
		processed++
	}

	r.progress.setState(Done)
	r.progress.current.Store("")
	logger.Info("run finished",
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"skipped_duplicate", sum.Skipped,
		"requeued", sum.Requeued,
	)
	return sum, nil
}

// login restores persisted cookies and falls back to the login form.
func (r *Runner) login(ctx context.Context) error {
	live, err := r.opts.Session.Restore(ctx)
	if err != nil {
		r.logger.Warn("cookie restore failed", "error", err)
	}
	if live {
		return nil
	}
	_, err = r.opts.Session.Authenticate(ctx)
	return err
}

// process navigates to t and extracts one record under the per-target
// deadline.
func (r *Runner) process(ctx context.Context, t models.Target) (models.Record, []string, error) {
	r.progress.setState(Extracting)
	tctx := ctx
	if r.opts.Config.TargetTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, r.opts.Config.TargetTimeout)
		defer cancel()
	}

	if err := r.opts.Page.Navigate(tctx, t.Locator); err != nil {
		if r.invalidated(ctx) {
			return nil, nil, models.NewHarvestError(models.ErrCodeSessionInvalidated, "redirected to login", err)
		}
		var he *models.HarvestError
		if errors.As(err, &he) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, nil, err
		}
		return nil, nil, models.NewHarvestError(models.ErrCodeNavigation, "navigate", err)
	}
	if r.invalidated(ctx) {
		return nil, nil, models.NewHarvestError(models.ErrCodeSessionInvalidated, "login form shown", nil)
	}

	ext, err := r.opts.Extractor.ExtractPage(tctx, r.opts.Page, r.opts.Schema)
	if err != nil {
		if ctx.Err() == nil && r.invalidated(ctx) {
			return nil, nil, models.NewHarvestError(models.ErrCodeSessionInvalidated, "session lost during extraction", err)
		}
		return nil, nil, err
	}
	return ext.Record, ext.Warnings, nil
}

func (r *Runner) invalidated(ctx context.Context) bool {
	return r.opts.Session != nil && ctx.Err() == nil && r.opts.Session.Invalidated(ctx)
}

// snapshot saves the failing page for later replay.
func (r *Runner) snapshot(ctx context.Context, t models.Target) {
	dir := r.opts.Config.SnapshotDir
	if dir == "" || ctx.Err() != nil {
		return
	}
	html, png, err := r.opts.Page.Snapshot(ctx)
	if err != nil {
		r.logger.Debug("snapshot failed", "target", t.ID, "error", err)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn("snapshot dir", "error", err)
		return
	}
	base := filepath.Join(dir, safeName(t.ID.String()))
	if err := os.WriteFile(base+".html", []byte(html), 0o644); err != nil {
		r.logger.Warn("write snapshot", "error", err)
		return
	}
	if len(png) > 0 {
		if err := os.WriteFile(base+".png", png, 0o644); err != nil {
			r.logger.Warn("write screenshot", "error", err)
		}
	}
	r.logger.Debug("snapshot saved", "target", t.ID, "path", base+".html")
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}

func (r *Runner) abort(sum *models.Summary, err error) (*models.Summary, error) {
	r.progress.setState(Aborted)
	sum.Aborted = true
	sum.AbortCause = models.Detail(err)
	r.logger.Error("run aborted", "run_id", sum.RunID, "code", models.Code(err), "error", err)
	return sum, fmt.Errorf("run aborted: %w", err)
}

func (r *Runner) interrupt(sum *models.Summary, err error) (*models.Summary, error) {
	r.progress.setState(Interrupted)
	r.logger.Info("run interrupted", "run_id", sum.RunID,
		"succeeded", sum.Succeeded, "failed", sum.Failed)
	return sum, err
}
