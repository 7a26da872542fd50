package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/schema"
)

// RevealStrategy tries to make more items appear.
type RevealStrategy interface {
	// Reveal reports found=false when its affordance does not exist (no
	// button, nothing to scroll) and moved=true when it measurably changed
	// the scroll position.
	Reveal(ctx context.Context, page browser.Page, container browser.Element, in *Interactor) (found, moved bool, err error)
	String() string
}

// ClickReveal clicks a "load more" control.
type ClickReveal struct{ Selector string }

func (r ClickReveal) Reveal(ctx context.Context, _ browser.Page, container browser.Element, in *Interactor) (bool, bool, error) {
	els, err := container.Find(ctx, r.Selector)
	if err != nil {
		return false, false, err
	}
	var btn browser.Element
	for _, el := range els {
		if ok, err := el.Visible(ctx); err == nil && ok {
			btn = el
			break
		}
	}
	if btn == nil {
		return false, false, nil
	}
	if err := in.Click(ctx, btn); err != nil {
		return true, false, err
	}
	return true, false, nil
}

func (r ClickReveal) String() string { return "click " + r.Selector }

// WindowScroll scrolls the window to the bottom.
type WindowScroll struct{}

func (WindowScroll) Reveal(ctx context.Context, page browser.Page, _ browser.Element, in *Interactor) (bool, bool, error) {
	before, err := page.ScrollOffset(ctx)
	if err != nil {
		return false, false, err
	}
	if err := page.ScrollWindow(ctx); err != nil {
		return false, false, err
	}
	if err := in.Settle(ctx); err != nil {
		return false, false, err
	}
	after, err := page.ScrollOffset(ctx)
	if err != nil {
		return false, false, err
	}
	moved := after > before
	return moved, moved, nil
}

func (WindowScroll) String() string { return "scroll window" }

// ContainerScroll scrolls an inner overflow container to its end.
type ContainerScroll struct{ Selector string }

func (r ContainerScroll) Reveal(ctx context.Context, _ browser.Page, container browser.Element, in *Interactor) (bool, bool, error) {
	els, err := container.Find(ctx, r.Selector)
	if err != nil || len(els) == 0 {
		return false, false, err
	}
	moved, err := els[0].ScrollToEnd(ctx)
	if err != nil {
		return false, false, err
	}
	if moved {
		if err := in.Settle(ctx); err != nil {
			return true, true, err
		}
	}
	return moved, moved, nil
}

func (r ContainerScroll) String() string { return "scroll " + r.Selector }

// KeyReveal presses a paging key.
type KeyReveal struct{ Key string }

func (r KeyReveal) Reveal(ctx context.Context, page browser.Page, _ browser.Element, in *Interactor) (bool, bool, error) {
	before, err := page.ScrollOffset(ctx)
	if err != nil {
		return false, false, err
	}
	if err := page.PressKey(ctx, r.Key); err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			return false, false, nil
		}
		return false, false, err
	}
	if err := in.Settle(ctx); err != nil {
		return false, false, err
	}
	after, err := page.ScrollOffset(ctx)
	if err != nil {
		return false, false, err
	}
	moved := after > before
	return moved, moved, nil
}

func (r KeyReveal) String() string { return "key " + r.Key }

// Strategies converts schema reveal entries into strategies.
func Strategies(p *schema.Pagination) []RevealStrategy {
	if p == nil {
		return nil
	}
	out := make([]RevealStrategy, 0, len(p.Reveal))
	for _, r := range p.Reveal {
		switch {
		case r.Click != "":
			out = append(out, ClickReveal{Selector: r.Click})
		case r.Scroll == "window":
			out = append(out, WindowScroll{})
		case r.Scroll != "":
			out = append(out, ContainerScroll{Selector: r.Scroll})
		case r.Key != "":
			out = append(out, KeyReveal{Key: r.Key})
		}
	}
	return out
}

// PageResult is the outcome of exhausting a paginated list.
type PageResult struct {
	Items      []browser.Element
	Reveals    int  // reveal triggers that found an affordance
	Iterations int  // count reads performed
	Ceiling    bool // stopped by MaxIterations rather than a fixpoint
}

// Paginator drives reveal strategies until the item count reaches a fixpoint.
type Paginator struct {
	stableRounds  int
	maxIterations int
	delay         time.Duration
	in            *Interactor
	logger        *slog.Logger
}

// NewPaginator builds a Paginator from config.
func NewPaginator(cfg config.PaginationConfig, in *Interactor, logger *slog.Logger) *Paginator {
	if logger == nil {
		logger = slog.Default()
	}
	stable := cfg.StableRounds
	if stable < 3 {
		stable = 3
	}
	return &Paginator{
		stableRounds:  stable,
		maxIterations: cfg.MaxIterations,
		delay:         cfg.RevealDelay,
		in:            in,
		logger:        logger,
	}
}

// Exhaust reveals items under container until their count is unchanged for
// stableRounds consecutive reads, the iteration ceiling is hit, or no reveal
// affordance exists on the first round. It returns item handles only.
func (p *Paginator) Exhaust(ctx context.Context, page browser.Page, container browser.Element, strategies []RevealStrategy, itemSelector string) (*PageResult, error) {
	res := &PageResult{}
	prev, stable := -1, 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := container.Find(ctx, itemSelector)
		if err != nil {
			return nil, fmt.Errorf("count items %q: %w", itemSelector, err)
		}
		res.Iterations++
		count := len(items)

		if count > prev {
			stable = 0
			found, err := p.revealOnce(ctx, page, container, strategies)
			if err != nil {
				return nil, err
			}
			if found {
				res.Reveals++
			} else if prev == -1 {
				res.Items = items
				return res, nil
			}
		} else {
			stable++
			if stable >= p.stableRounds {
				res.Items = items
				p.logger.Debug("pagination reached fixpoint",
					"items", count, "reveals", res.Reveals, "iterations", res.Iterations)
				return res, nil
			}
		}
		prev = count

		if p.maxIterations > 0 && res.Iterations >= p.maxIterations {
			final, err := container.Find(ctx, itemSelector)
			if err != nil {
				return nil, fmt.Errorf("count items %q: %w", itemSelector, err)
			}
			res.Items = final
			res.Ceiling = true
			p.logger.Warn("pagination ceiling reached",
				"items", len(final), "iterations", res.Iterations)
			return res, nil
		}
		if err := sleep(ctx, p.delay); err != nil {
			return nil, err
		}
	}
}

// revealOnce tries strategies in order. The first one that finds its
// affordance and either moves the view or is a click wins.
func (p *Paginator) revealOnce(ctx context.Context, page browser.Page, container browser.Element, strategies []RevealStrategy) (bool, error) {
	anyFound := false
	for _, s := range strategies {
		found, moved, err := s.Reveal(ctx, page, container, p.in)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			// A failed reveal is an empty round; the stable counter ends the loop.
			p.logger.Debug("reveal strategy failed", "strategy", s.String(), "error", err)
			continue
		}
		if !found {
			continue
		}
		anyFound = true
		if moved {
			return true, nil
		}
		if _, ok := s.(ClickReveal); ok {
			return true, nil
		}
	}
	return anyFound, nil
}
