// Package browser defines the capability set the extraction engine drives.
//
// The engine never talks to a concrete automation API. Backends live in
// sub-packages: chrome (a live Chromium session through go-rod) and static
// (an immutable goquery snapshot used for replay and tests).
package browser

import (
	"context"
	"errors"
	"net/http"
)

// Backend errors the engine reacts to. Implementations wrap their native
// errors so that errors.Is matches one of these.
var (
	// ErrIntercepted means another element would receive the click
	// (overlay, sticky header, zero-size box).
	ErrIntercepted = errors.New("browser: interaction intercepted")

	// ErrStale means the handle no longer refers to a live node.
	ErrStale = errors.New("browser: stale element")

	// ErrNotFound means a selector matched nothing where one node was required.
	ErrNotFound = errors.New("browser: element not found")

	// ErrUnsupported is returned by backends that cannot perform an action.
	ErrUnsupported = errors.New("browser: unsupported action")
)

// Key names accepted by Page.PressKey.
const (
	KeyPageDown = "PageDown"
	KeyEnd      = "End"
)

// Element is a handle to one DOM node.
type Element interface {
	// Find returns every descendant matching selector, in document order.
	// No match is an empty slice and a nil error.
	Find(ctx context.Context, selector string) ([]Element, error)

	// Text is the rendered text of the node.
	Text(ctx context.Context) (string, error)

	// Attribute reports the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)

	// HTML is the inner HTML of the node.
	HTML(ctx context.Context) (string, error)

	Visible(ctx context.Context) (bool, error)

	// Click uses the natural input path (pointer events at the node's box).
	Click(ctx context.Context) error

	// ForceClick dispatches the click from script, bypassing hit testing.
	ForceClick(ctx context.Context) error

	ScrollIntoView(ctx context.Context) error

	// Input focuses the node and types text into it.
	Input(ctx context.Context, text string) error

	// ScrollToEnd scrolls the node's own overflow to the bottom and reports
	// whether its scroll offset changed.
	ScrollToEnd(ctx context.Context) (bool, error)
}

// Page is a browsing tab. Its Element methods act on the document root.
type Page interface {
	Element

	Navigate(ctx context.Context, url string) error

	// URL is the current location.
	URL(ctx context.Context) (string, error)

	// ScrollOffset is the window's vertical scroll position.
	ScrollOffset(ctx context.Context) (float64, error)

	// ScrollWindow scrolls the window to the bottom of the document.
	ScrollWindow(ctx context.Context) error

	PressKey(ctx context.Context, key string) error

	Cookies(ctx context.Context) ([]*http.Cookie, error)
	SetCookies(ctx context.Context, cookies []*http.Cookie) error

	// Snapshot captures the full document HTML and, when the backend can
	// render, a PNG screenshot (nil otherwise).
	Snapshot(ctx context.Context) (html string, png []byte, err error)
}

// First returns the first match of selector under el, or ErrNotFound.
func First(ctx context.Context, el Element, selector string) (Element, error) {
	found, err := el.Find(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return found[0], nil
}
