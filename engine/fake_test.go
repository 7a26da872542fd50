package engine

import (
	"context"
	"net/http"

	"github.com/use-agent/harvest/browser"
)

// fakeEl is a scriptable browser.Element.
type fakeEl struct {
	text      string
	attrs     map[string]string
	hidden    bool
	showAfter int // Visible reports false this many times first
	textErr   error
	children  map[string][]browser.Element
	find      func(sel string) []browser.Element

	onScrollEnd func() bool

	clickErrs []error // returned by successive natural clicks
	onClick   func()
	clicks    int
	forced    int
	scrolled  int
}

func (e *fakeEl) Find(_ context.Context, sel string) ([]browser.Element, error) {
	if e.find != nil {
		return e.find(sel), nil
	}
	return e.children[sel], nil
}

func (e *fakeEl) Text(context.Context) (string, error) {
	if e.textErr != nil {
		return "", e.textErr
	}
	return e.text, nil
}

func (e *fakeEl) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

func (e *fakeEl) HTML(context.Context) (string, error) { return e.text, nil }
func (e *fakeEl) Visible(context.Context) (bool, error) {
	if e.showAfter > 0 {
		e.showAfter--
		return false, nil
	}
	return !e.hidden, nil
}

func (e *fakeEl) Click(context.Context) error {
	e.clicks++
	if len(e.clickErrs) > 0 {
		err := e.clickErrs[0]
		e.clickErrs = e.clickErrs[1:]
		if err != nil {
			return err
		}
	}
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeEl) ForceClick(context.Context) error {
	e.forced++
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeEl) ScrollIntoView(context.Context) error {
	e.scrolled++
	return nil
}

func (e *fakeEl) Input(_ context.Context, text string) error {
	e.text = text
	return nil
}

func (e *fakeEl) ScrollToEnd(context.Context) (bool, error) {
	if e.onScrollEnd != nil {
		return e.onScrollEnd(), nil
	}
	return false, nil
}

// fakePage is a document whose root behaves like fakeEl.
type fakePage struct {
	*fakeEl
	url      string
	offset   float64
	onScroll func(p *fakePage)
	onKey    func(p *fakePage, key string)
}

var _ browser.Page = (*fakePage)(nil)

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.url = url
	return nil
}

func (p *fakePage) URL(context.Context) (string, error) { return p.url, nil }
func (p *fakePage) ScrollOffset(context.Context) (float64, error) {
	return p.offset, nil
}

func (p *fakePage) ScrollWindow(context.Context) error {
	if p.onScroll != nil {
		p.onScroll(p)
	}
	return nil
}

func (p *fakePage) PressKey(_ context.Context, key string) error {
	if p.onKey != nil {
		p.onKey(p, key)
	}
	return nil
}
func (p *fakePage) Cookies(context.Context) ([]*http.Cookie, error) { return nil, nil }
func (p *fakePage) SetCookies(context.Context, []*http.Cookie) error { return nil }
func (p *fakePage) Snapshot(context.Context) (string, []byte, error) { return "", nil, nil }

// loadMorePage shows step items per click up to total. The button
// disappears once every item is visible.
func loadMorePage(initial, step, total int) (*fakePage, *fakeEl) {
	shown := initial
	btn := &fakeEl{}
	btn.onClick = func() {
		shown += step
		if shown > total {
			shown = total
		}
	}
	root := &fakeEl{}
	root.find = func(sel string) []browser.Element {
		switch sel {
		case ".item":
			out := make([]browser.Element, shown)
			for i := range out {
				out[i] = &fakeEl{}
			}
			return out
		case "button.more":
			if shown < total {
				return []browser.Element{btn}
			}
		}
		return nil
	}
	return &fakePage{fakeEl: root, url: "https://app.example.com/list"}, btn
}
