package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/schema"
)

// Extraction is one item's record plus the non-fatal observations made
// while building it.
type Extraction struct {
	Record   models.Record
	Warnings []string
}

// Extractor walks a schema over a rendered sub-tree.
type Extractor struct {
	in     *Interactor
	pager  *Paginator
	md     *converter.Converter
	logger *slog.Logger
}

// NewExtractor builds an Extractor. pager may be nil when no schema field paginates.
func NewExtractor(in *Interactor, pager *Paginator, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{in: in, pager: pager, md: newMarkdownConverter(), logger: logger}
}

// ExtractPage waits for the schema's ready marker, activates its view and
// extracts its fields from the root node.
func (x *Extractor) ExtractPage(ctx context.Context, page browser.Page, s *schema.Schema) (*Extraction, error) {
	if s.Ready != "" {
		if _, err := x.in.WaitFor(ctx, page, s.Ready); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, models.NewHarvestError(models.ErrCodeNavigation,
				fmt.Sprintf("ready marker %q never appeared", s.Ready), err)
		}
	}
	if s.Activate != nil {
		if err := x.Activate(ctx, page, s.Activate); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, models.NewHarvestError(models.ErrCodeTransientUI, "page activation failed", err)
		}
	}
	var root browser.Element = page
	if s.Root != "" {
		el, err := browser.First(ctx, page, s.Root)
		if err != nil {
			return nil, models.NewHarvestError(models.ErrCodeMissingField,
				fmt.Sprintf("root %q not found", s.Root), err)
		}
		root = el
	}
	return x.Extract(ctx, page, root, s.Fields)
}

// Extract produces a record from root. A required field that cannot be
// located fails the whole item with MISSING_REQUIRED_FIELD; optional
// misses become nil.
func (x *Extractor) Extract(ctx context.Context, page browser.Page, root browser.Element, fields []schema.Field) (*Extraction, error) {
	w := &walk{x: x, page: page}
	if u, err := page.URL(ctx); err == nil {
		if pu, err := url.Parse(u); err == nil && pu.Host != "" {
			w.domain = pu.Scheme + "://" + pu.Host
		}
	}
	rec, err := w.fields(ctx, root, fields, "")
	if err != nil {
		return nil, err
	}
	return &Extraction{Record: rec, Warnings: w.warnings}, nil
}

// Activate waits for the control described by a to show, clicks it and
// waits for its marker.
func (x *Extractor) Activate(ctx context.Context, scope browser.Element, a *schema.Activation) error {
	els, err := scope.Find(ctx, a.Selector)
	if err != nil {
		return err
	}
	var target browser.Element
	for _, el := range els {
		if a.Text == "" {
			target = el
			break
		}
		txt, err := el.Text(ctx)
		if err == nil && strings.Contains(strings.ToLower(NormalizeText(txt)), strings.ToLower(a.Text)) {
			target = el
			break
		}
	}
	if target == nil {
		return fmt.Errorf("activation %q (text %q): %w", a.Selector, a.Text, browser.ErrNotFound)
	}
	if err := x.in.Perform(ctx, ActionWaitVisible, target); err != nil {
		return err
	}
	if err := x.in.Click(ctx, target); err != nil {
		return err
	}
	if a.Wait != "" {
		if _, err := x.in.WaitFor(ctx, scope, a.Wait); err != nil {
			return err
		}
	}
	return nil
}

// walk carries per-item state through the recursive descent.
type walk struct {
	x        *Extractor
	page     browser.Page
	domain   string
	warnings []string
}

func (w *walk) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	w.warnings = append(w.warnings, msg)
	w.x.logger.Debug("extraction warning", "detail", msg)
}

func (w *walk) fields(ctx context.Context, scope browser.Element, fields []schema.Field, prefix string) (models.Record, error) {
	rec := make(models.Record, len(fields))
	for i := range fields {
		f := &fields[i]
		v, err := w.field(ctx, scope, f, prefix+f.Name)
		if err != nil {
			return nil, err
		}
		rec[f.Name] = v
	}
	return rec, nil
}

func (w *walk) field(ctx context.Context, scope browser.Element, f *schema.Field, path string) (any, error) {
	if f.Activate != nil {
		if err := w.x.Activate(ctx, scope, f.Activate); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if f.Optional {
				w.warn("%s: activation failed: %v", path, err)
				return nil, nil
			}
			return nil, models.NewHarvestError(models.ErrCodeMissingField, path+": activation failed", err)
		}
	}

	var (
		v       any
		lastErr error
	)
	switch f.Type {
	case schema.Single:
		v, lastErr = w.single(ctx, scope, f)
	case schema.List:
		v, lastErr = w.list(ctx, scope, f, path)
	case schema.Record:
		var err error
		v, err = w.record(ctx, scope, f, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if f.Optional && (errors.Is(err, models.ErrMissingField) || errors.Is(err, models.ErrTransientUI)) {
				w.warn("%s: %v", path, err)
				return nil, nil
			}
			return nil, err
		}
	case schema.Map:
		v, lastErr = w.mapping(ctx, scope, f)
	case schema.Grid:
		v, lastErr = w.grid(ctx, scope, f, path)
	default:
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, path+": unknown type "+string(f.Type), nil)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if !empty(v) {
		return v, nil
	}
	if f.Optional {
		if lastErr != nil {
			w.warn("%s: treated as missing after error: %v", path, lastErr)
		}
		return nil, nil
	}
	return nil, requiredMiss(path, lastErr)
}

// requiredMiss reports a required field that produced no value. Retries
// exhausted on a flaky UI stay TRANSIENT_UI; anything else is a structural
// miss.
func requiredMiss(path string, lastErr error) error {
	if errors.Is(lastErr, models.ErrTransientUI) {
		return models.NewHarvestError(models.ErrCodeTransientUI, path, lastErr)
	}
	return models.NewHarvestError(models.ErrCodeMissingField, path, lastErr)
}

// locators returns the field's strategies, or one that selects the scope itself.
func locators(f *schema.Field) []schema.Locator {
	if len(f.Locators) == 0 {
		return []schema.Locator{{}}
	}
	return f.Locators
}

func (w *walk) locate(ctx context.Context, scope browser.Element, sel string) ([]browser.Element, error) {
	if sel == "" {
		return []browser.Element{scope}, nil
	}
	var els []browser.Element
	err := w.x.in.Read(ctx, func(ctx context.Context) error {
		var err error
		els, err = scope.Find(ctx, sel)
		return err
	})
	return els, err
}

// read returns the normalized value of node for one locator.
func (w *walk) read(ctx context.Context, node browser.Element, loc *schema.Locator, format string) (string, error) {
	var raw string
	err := w.x.in.Read(ctx, func(ctx context.Context) error {
		var err error
		switch {
		case loc.Attr != "":
			raw, _, err = node.Attribute(ctx, loc.Attr)
		case format == schema.FormatHTML || format == schema.FormatMarkdown:
			raw, err = node.HTML(ctx)
		default:
			raw, err = node.Text(ctx)
		}
		return err
	})
	if err != nil {
		return "", err
	}

	switch {
	case loc.Attr != "":
		raw = NormalizeText(raw)
	case format == schema.FormatHTML:
		raw = strings.TrimSpace(raw)
	case format == schema.FormatMarkdown:
		raw, err = toMarkdown(w.x.md, raw, w.domain)
		if err != nil {
			return "", err
		}
	default:
		raw = NormalizeText(raw)
	}
	return applyPattern(loc.Regexp(), raw), nil
}

func (w *walk) single(ctx context.Context, scope browser.Element, f *schema.Field) (any, error) {
	var lastErr error
	for _, loc := range locators(f) {
		nodes, err := w.locate(ctx, scope, loc.Selector)
		if err != nil {
			lastErr = err
			continue
		}
		if len(nodes) == 0 {
			continue
		}
		s, err := w.read(ctx, nodes[0], &loc, f.Format)
		if err != nil {
			lastErr = err
			continue
		}
		if s != "" {
			return s, nil
		}
	}
	return nil, lastErr
}

func (w *walk) list(ctx context.Context, scope browser.Element, f *schema.Field, path string) (any, error) {
	var lastErr error
	for _, loc := range locators(f) {
		nodes, err := w.listNodes(ctx, scope, f, loc.Selector, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if len(f.Fields) > 0 {
			var recs []models.Record
			for i, node := range nodes {
				rec, err := w.fields(ctx, node, f.Fields, fmt.Sprintf("%s[%d].", path, i))
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					w.warn("%s[%d]: item skipped: %v", path, i, err)
					lastErr = err
					continue
				}
				recs = append(recs, rec)
			}
			if len(recs) > 0 {
				return recs, nil
			}
			continue
		}

		var vals []string
		for _, node := range nodes {
			s, err := w.read(ctx, node, &loc, f.Format)
			if err != nil {
				lastErr = err
				continue
			}
			if s != "" {
				vals = append(vals, s)
			}
		}
		if len(vals) > 0 {
			return vals, nil
		}
	}
	return nil, lastErr
}

func (w *walk) listNodes(ctx context.Context, scope browser.Element, f *schema.Field, sel, path string) ([]browser.Element, error) {
	if f.Paginate == nil || sel == "" || w.x.pager == nil {
		return w.locate(ctx, scope, sel)
	}
	res, err := w.x.pager.Exhaust(ctx, w.page, scope, Strategies(f.Paginate), sel)
	if err != nil {
		return nil, err
	}
	if res.Ceiling {
		w.warn("%s: %v after %d iterations, kept %d items",
			path, models.ErrPaginationCeiling, res.Iterations, len(res.Items))
	}
	return res.Items, nil
}

func (w *walk) record(ctx context.Context, scope browser.Element, f *schema.Field, path string) (any, error) {
	var lastErr error
	for _, loc := range locators(f) {
		nodes, err := w.locate(ctx, scope, loc.Selector)
		if err != nil {
			lastErr = err
			continue
		}
		if len(nodes) == 0 {
			continue
		}
		return w.fields(ctx, nodes[0], f.Fields, path+".")
	}
	if f.Optional {
		if lastErr != nil {
			w.warn("%s: treated as missing after error: %v", path, lastErr)
		}
		return nil, nil
	}
	return nil, requiredMiss(path, lastErr)
}

func (w *walk) mapping(ctx context.Context, scope browser.Element, f *schema.Field) (any, error) {
	var lastErr error
	for _, loc := range locators(f) {
		blocks, err := w.locate(ctx, scope, loc.Selector)
		if err != nil {
			lastErr = err
			continue
		}
		m := make(map[string]any, len(blocks))
		for _, block := range blocks {
			value := ""
			for j := range f.Value {
				vals, err := w.readAll(ctx, block, &f.Value[j])
				if err != nil {
					lastErr = err
					continue
				}
				for _, v := range vals {
					if v != "" {
						value = v
						break
					}
				}
				if value != "" {
					break
				}
			}

			var key string
			if f.Key != nil {
				keys, err := w.readAll(ctx, block, f.Key)
				if err != nil {
					lastErr = err
					continue
				}
				if len(keys) > 0 {
					key = keys[0]
				}
			} else {
				full, err := w.read(ctx, block, &schema.Locator{}, schema.FormatText)
				if err != nil {
					lastErr = err
					continue
				}
				key = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(strings.Replace(full, value, "", 1)), ":"))
			}
			if key == "" {
				continue
			}
			if value == "" {
				m[key] = nil
			} else {
				m[key] = value
			}
		}
		if len(m) > 0 {
			return m, nil
		}
	}
	return nil, lastErr
}

func (w *walk) grid(ctx context.Context, scope browser.Element, f *schema.Field, path string) (any, error) {
	var lastErr error
	for _, loc := range locators(f) {
		nodes, err := w.locate(ctx, scope, loc.Selector)
		if err != nil {
			lastErr = err
			continue
		}
		if len(nodes) == 0 {
			continue
		}
		headers, err := w.readAll(ctx, nodes[0], f.Headers)
		if err != nil {
			lastErr = err
			continue
		}
		if len(headers) == 0 {
			continue
		}
		cells, err := w.readAll(ctx, nodes[0], f.Cells)
		if err != nil {
			lastErr = err
			continue
		}
		if rem := len(cells) % len(headers); rem != 0 {
			w.warn("%s: %d cells do not fill %d-wide rows, dropped trailing %d", path, len(cells), len(headers), rem)
		}
		return ZipGrid(headers, cells), nil
	}
	return nil, lastErr
}

// readAll reads every node matched by loc. Empty cells are kept so grid
// columns stay aligned.
func (w *walk) readAll(ctx context.Context, scope browser.Element, loc *schema.Locator) ([]string, error) {
	nodes, err := w.locate(ctx, scope, loc.Selector)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		s, err := w.read(ctx, n, loc, schema.FormatText)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []models.Record:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case models.Record:
		return t == nil
	}
	return false
}
