package chrome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/models"
)

// Page adapts a *rod.Page to browser.Page.
type Page struct {
	page       *rod.Page
	router     *rod.HijackRouter
	navTimeout time.Duration
}

var _ browser.Page = (*Page)(nil)

// Close stops request interception and closes the tab.
func (p *Page) Close() error {
	if p.router != nil {
		_ = p.router.Stop()
	}
	return p.page.Close()
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.navTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.navTimeout)
		defer cancel()
	}
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return categorizeError(err, "navigation to "+url+" failed")
	}
	if err := pg.WaitLoad(); err != nil {
		return categorizeError(err, "waiting for load of "+url+" failed")
	}
	if err := pg.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", wrapError(err)
	}
	return info.URL, nil
}

func (p *Page) Find(ctx context.Context, selector string) ([]browser.Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, wrapError(err)
	}
	return wrapElements(els), nil
}

func (p *Page) root(ctx context.Context) (*Element, error) {
	el, err := p.page.Context(ctx).Element("body")
	if err != nil {
		return nil, wrapError(err)
	}
	return &Element{el: el}, nil
}

func (p *Page) Text(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", wrapError(err)
	}
	return res.Value.Str(), nil
}

func (p *Page) Attribute(ctx context.Context, name string) (string, bool, error) {
	r, err := p.root(ctx)
	if err != nil {
		return "", false, err
	}
	return r.Attribute(ctx, name)
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	r, err := p.root(ctx)
	if err != nil {
		return "", err
	}
	return r.HTML(ctx)
}

func (p *Page) Visible(context.Context) (bool, error) { return true, nil }

func (p *Page) Click(ctx context.Context) error {
	r, err := p.root(ctx)
	if err != nil {
		return err
	}
	return r.Click(ctx)
}

func (p *Page) ForceClick(ctx context.Context) error {
	r, err := p.root(ctx)
	if err != nil {
		return err
	}
	return r.ForceClick(ctx)
}

func (p *Page) ScrollIntoView(context.Context) error { return nil }

func (p *Page) Input(context.Context, string) error {
	return fmt.Errorf("%w: input on document", browser.ErrUnsupported)
}

func (p *Page) ScrollToEnd(ctx context.Context) (bool, error) {
	before, err := p.ScrollOffset(ctx)
	if err != nil {
		return false, err
	}
	if err := p.ScrollWindow(ctx); err != nil {
		return false, err
	}
	after, err := p.ScrollOffset(ctx)
	if err != nil {
		return false, err
	}
	return after != before, nil
}

func (p *Page) ScrollOffset(ctx context.Context) (float64, error) {
	res, err := p.page.Context(ctx).Eval(`() => window.pageYOffset`)
	if err != nil {
		return 0, wrapError(err)
	}
	return res.Value.Num(), nil
}

func (p *Page) ScrollWindow(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	return wrapError(err)
}

func (p *Page) PressKey(ctx context.Context, key string) error {
	var k input.Key
	switch key {
	case browser.KeyPageDown:
		k = input.PageDown
	case browser.KeyEnd:
		k = input.End
	default:
		return fmt.Errorf("%w: key %q", browser.ErrUnsupported, key)
	}
	return wrapError(p.page.Context(ctx).Keyboard.Type(k))
}

func (p *Page) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	raw, err := p.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, wrapError(err)
	}
	out := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out, nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []*http.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if !c.Expires.IsZero() {
			param.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}
		params = append(params, param)
	}
	return wrapError(p.page.Context(ctx).SetCookies(params))
}

func (p *Page) Snapshot(ctx context.Context) (string, []byte, error) {
	pg := p.page.Context(ctx)
	html, err := pg.HTML()
	if err != nil {
		return "", nil, wrapError(err)
	}
	png, err := pg.Screenshot(true, nil)
	if err != nil {
		slog.Debug("screenshot failed", "error", err)
		return html, nil, nil
	}
	return html, png, nil
}

// Element adapts a *rod.Element to browser.Element.
type Element struct {
	el *rod.Element
}

func wrapElements(els rod.Elements) []browser.Element {
	out := make([]browser.Element, len(els))
	for i, el := range els {
		out[i] = &Element{el: el}
	}
	return out
}

func (e *Element) Find(ctx context.Context, selector string) ([]browser.Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, wrapError(err)
	}
	return wrapElements(els), nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	s, err := e.el.Context(ctx).Text()
	return s, wrapError(err)
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, wrapError(err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *Element) HTML(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.innerHTML`)
	if err != nil {
		return "", wrapError(err)
	}
	return res.Value.Str(), nil
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	v, err := e.el.Context(ctx).Visible()
	return v, wrapError(err)
}

// Click hit-tests the node once before the natural click. rod's own click
// waits on a covering overlay until the deadline instead of reporting it,
// so a covered node returns ErrIntercepted here right away.
func (e *Element) Click(ctx context.Context) error {
	el := e.el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return wrapError(err)
	}
	if _, err := el.Interactable(); err != nil {
		return wrapError(err)
	}
	return wrapError(el.Click(proto.InputMouseButtonLeft, 1))
}

func (e *Element) ForceClick(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.click()`)
	return wrapError(err)
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.scrollIntoView({block: 'center'})`)
	return wrapError(err)
}

func (e *Element) Input(ctx context.Context, text string) error {
	el := e.el.Context(ctx)
	if _, err := el.Eval(`() => { this.value = '' }`); err != nil {
		return wrapError(err)
	}
	return wrapError(el.Input(text))
}

func (e *Element) ScrollToEnd(ctx context.Context) (bool, error) {
	res, err := e.el.Context(ctx).Eval(`() => {
		const before = this.scrollTop;
		this.scrollTop = this.scrollHeight;
		return this.scrollTop !== before;
	}`)
	if err != nil {
		return false, wrapError(err)
	}
	return res.Value.Bool(), nil
}

// wrapError maps rod and CDP failures onto the browser sentinels.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var (
		covered      *rod.CoveredError
		notInteract  *rod.NotInteractableError
		invisible    *rod.InvisibleShapeError
		noPointer    *rod.NoPointerEventsError
		objNotFound  *rod.ObjectNotFoundError
		elemNotFound *rod.ElementNotFoundError
	)
	switch {
	case errors.As(err, &covered), errors.As(err, &notInteract),
		errors.As(err, &invisible), errors.As(err, &noPointer):
		return fmt.Errorf("%w: %w", browser.ErrIntercepted, err)
	case errors.As(err, &objNotFound),
		errors.Is(err, cdp.ErrObjNotFound),
		errors.Is(err, cdp.ErrCtxNotFound),
		errors.Is(err, cdp.ErrCtxDestroyed):
		return fmt.Errorf("%w: %w", browser.ErrStale, err)
	case errors.As(err, &elemNotFound):
		return fmt.Errorf("%w: %w", browser.ErrNotFound, err)
	}
	return err
}

// categorizeError wraps navigation failures into typed HarvestErrors.
func categorizeError(err error, msg string) *models.HarvestError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewHarvestError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewHarvestError(models.ErrCodeTimeout, "navigation canceled", err)
	default:
		return models.NewHarvestError(models.ErrCodeNavigation, msg, err)
	}
}
