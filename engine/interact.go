package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// Action is a single UI action the Interactor knows how to retry.
type Action int

const (
	ActionClick Action = iota
	ActionType
	ActionWaitVisible
)

func (a Action) String() string {
	switch a {
	case ActionClick:
		return "click"
	case ActionType:
		return "type"
	case ActionWaitVisible:
		return "wait_visible"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// attemptCap bounds every action to one natural and one scripted try.
const attemptCap = 2

// pollInterval is the re-check period of visibility waits.
const pollInterval = 100 * time.Millisecond

// Interactor performs UI actions with bounded retries.
//
// Attempt 1 uses the natural input path. When it is intercepted by an
// overlay, the next attempt scrolls the node into view and invokes the
// action from script. Every state-changing action is followed by a fixed
// settle delay.
type Interactor struct {
	timeout     time.Duration
	settle      time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// NewInteractor builds an Interactor from config.
func NewInteractor(cfg config.InteractionConfig, logger *slog.Logger) *Interactor {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := min(max(cfg.MaxAttempts, 1), attemptCap)
	return &Interactor{
		timeout:     cfg.ActionTimeout,
		settle:      cfg.SettleDelay,
		maxAttempts: attempts,
		logger:      logger,
	}
}

// Perform runs a click or wait-visible action against el.
func (in *Interactor) Perform(ctx context.Context, action Action, el browser.Element) error {
	return in.perform(ctx, action, el, "")
}

// Click clicks el.
func (in *Interactor) Click(ctx context.Context, el browser.Element) error {
	return in.perform(ctx, ActionClick, el, "")
}

// Type replaces the value of el with text.
func (in *Interactor) Type(ctx context.Context, el browser.Element, text string) error {
	return in.perform(ctx, ActionType, el, text)
}

func (in *Interactor) perform(ctx context.Context, action Action, el browser.Element, text string) error {
	var lastErr error
	forced := false
	for attempt := 1; attempt <= in.maxAttempts; attempt++ {
		err := in.attempt(ctx, func(actx context.Context) error {
			switch action {
			case ActionClick:
				if forced {
					return el.ForceClick(actx)
				}
				return el.Click(actx)
			case ActionType:
				return el.Input(actx, text)
			case ActionWaitVisible:
				return waitVisible(actx, el)
			}
			return fmt.Errorf("unknown action %s", action)
		})
		if err == nil {
			if action != ActionWaitVisible {
				return sleep(ctx, in.settle)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		in.logger.Debug("interaction attempt failed",
			"action", action.String(),
			"attempt", attempt,
			"forced", forced,
			"error", err,
		)
		if errors.Is(err, browser.ErrIntercepted) && action == ActionClick {
			if err := el.ScrollIntoView(ctx); err != nil {
				in.logger.Debug("scroll into view failed", "error", err)
			}
			forced = true
		}
	}
	return models.NewHarvestError(models.ErrCodeTransientUI,
		fmt.Sprintf("%s failed after %d attempts", action, in.maxAttempts), lastErr)
}

// WaitFor waits until a node matching selector under scope is visible and
// returns it.
func (in *Interactor) WaitFor(ctx context.Context, scope browser.Element, selector string) (browser.Element, error) {
	var found browser.Element
	var lastErr error
	for attempt := 1; attempt <= in.maxAttempts; attempt++ {
		err := in.attempt(ctx, func(actx context.Context) error {
			for {
				els, err := scope.Find(actx, selector)
				if err != nil && !errors.Is(err, browser.ErrStale) {
					return err
				}
				for _, el := range els {
					if ok, err := el.Visible(actx); err == nil && ok {
						found = el
						return nil
					}
				}
				if err := sleep(actx, pollInterval); err != nil {
					return err
				}
			}
		})
		if err == nil {
			return found, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, models.NewHarvestError(models.ErrCodeTransientUI,
		fmt.Sprintf("%q not visible after %d attempts", selector, in.maxAttempts), lastErr)
}

// Read runs fn with the same per-attempt deadline, retrying stale handles.
func (in *Interactor) Read(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= in.maxAttempts; attempt++ {
		err = in.attempt(ctx, fn)
		if err == nil || ctx.Err() != nil {
			return err
		}
		if !errors.Is(err, browser.ErrStale) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return models.NewHarvestError(models.ErrCodeTransientUI, "read failed", err)
}

// Settle sleeps for the settle delay.
func (in *Interactor) Settle(ctx context.Context) error {
	return sleep(ctx, in.settle)
}

func (in *Interactor) attempt(ctx context.Context, fn func(context.Context) error) error {
	if in.timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()
	return fn(actx)
}

func waitVisible(ctx context.Context, el browser.Element) error {
	for {
		ok, err := el.Visible(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
