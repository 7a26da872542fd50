// Package static serves a captured HTML document through the browser
// capability set. Clicks and scrolls are accepted but change nothing, so
// extraction over a snapshot is deterministic.
package static

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/harvest/browser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Page is an immutable document.
type Page struct {
	doc     *goquery.Document
	url     string
	cookies []*http.Cookie

	// Pages maps locators to HTML for Navigate. Navigating to an unknown
	// locator fails.
	Pages map[string]string
}

var _ browser.Page = (*Page)(nil)

// New parses src as the document located at url.
func New(src, url string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Page{doc: doc, url: url}, nil
}

// Open reads a saved snapshot from disk, decoding it to UTF-8 from the
// charset its meta tags declare.
func Open(path, url string) (*Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := charset.NewReader(f, "text/html")
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Page{doc: doc, url: url}, nil
}

func (p *Page) Navigate(_ context.Context, url string) error {
	if url == p.url && p.doc != nil {
		return nil
	}
	src, ok := p.Pages[url]
	if !ok {
		return fmt.Errorf("static: no snapshot for %s", url)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	p.doc, p.url = doc, url
	return nil
}

func (p *Page) URL(context.Context) (string, error) { return p.url, nil }

func (p *Page) root() *Element { return &Element{sel: p.doc.Selection} }

func (p *Page) Find(ctx context.Context, selector string) ([]browser.Element, error) {
	return p.root().Find(ctx, selector)
}

func (p *Page) Text(ctx context.Context) (string, error) {
	return p.doc.Find("body").Text(), nil
}

func (p *Page) Attribute(context.Context, string) (string, bool, error) { return "", false, nil }

func (p *Page) HTML(context.Context) (string, error) { return p.doc.Html() }

func (p *Page) Visible(context.Context) (bool, error) { return true, nil }
func (p *Page) Click(context.Context) error { return nil }
func (p *Page) ForceClick(context.Context) error { return nil }
func (p *Page) ScrollIntoView(context.Context) error { return nil }
func (p *Page) Input(context.Context, string) error { return nil }
func (p *Page) ScrollToEnd(context.Context) (bool, error) { return false, nil }

func (p *Page) ScrollOffset(context.Context) (float64, error) { return 0, nil }
func (p *Page) ScrollWindow(context.Context) error { return nil }
func (p *Page) PressKey(context.Context, string) error { return nil }

func (p *Page) Cookies(context.Context) ([]*http.Cookie, error) { return p.cookies, nil }

func (p *Page) SetCookies(_ context.Context, cookies []*http.Cookie) error {
	p.cookies = append(p.cookies, cookies...)
	return nil
}

// Snapshot renders the whole document, doctype included.
func (p *Page) Snapshot(context.Context) (string, []byte, error) {
	var buf bytes.Buffer
	for _, n := range p.doc.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", nil, err
		}
	}
	return buf.String(), nil, nil
}

// Element wraps a single-node goquery selection.
type Element struct {
	sel *goquery.Selection
}

func (e *Element) Find(_ context.Context, selector string) ([]browser.Element, error) {
	var out []browser.Element
	e.sel.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{sel: s})
	})
	return out, nil
}

func (e *Element) Text(context.Context) (string, error) { return e.sel.Text(), nil }

func (e *Element) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

func (e *Element) HTML(context.Context) (string, error) { return e.sel.Html() }

func (e *Element) Visible(context.Context) (bool, error) {
	style, _ := e.sel.Attr("style")
	_, hidden := e.sel.Attr("hidden")
	return !hidden && !strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none"), nil
}

func (e *Element) Click(context.Context) error { return nil }
func (e *Element) ForceClick(context.Context) error { return nil }
func (e *Element) ScrollIntoView(context.Context) error { return nil }
func (e *Element) Input(context.Context, string) error { return nil }
func (e *Element) ScrollToEnd(context.Context) (bool, error) { return false, nil }
