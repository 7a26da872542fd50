// Package chrome drives a live Chromium session through go-rod and exposes
// it as a browser.Page.
package chrome

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
	"github.com/ysmood/gson"
)

// Browser owns the Chromium process.
type Browser struct {
	browser *rod.Browser
	cfg     config.BrowserConfig
}

// Launch starts Chromium with the stealth flag set and connects to it.
func Launch(cfg config.BrowserConfig) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL, "headless", cfg.Headless)

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, models.NewHarvestError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	return &Browser{browser: b, cfg: cfg}, nil
}

// NewPage opens a tab with stealth, extra headers and resource blocking
// installed before any navigation happens.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}
	// Detach from ctx so later calls bind their own deadlines.
	page = page.Context(context.Background())

	if b.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	if headers := parseHeaders(b.cfg.Headers); len(headers) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: headers}).Call(page); err != nil {
			slog.Warn("failed to set extra headers", "error", err)
		}
	}

	p := &Page{page: page, navTimeout: b.cfg.NavigationTimeout}
	p.router = setupHijack(page, b.cfg.BlockedResourceTypes, b.cfg.BlockedHosts)
	return p, nil
}

// Close kills the browser process.
func (b *Browser) Close() {
	slog.Info("closing browser")
	if err := b.browser.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
}

// parseHeaders converts "Name: value" pairs into the proto header map
// (map[string]gson.JSON). Malformed entries are skipped.
func parseHeaders(raw []string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			slog.Warn("ignoring malformed header", "header", h)
			continue
		}
		m[strings.TrimSpace(name)] = gson.New(strings.TrimSpace(value))
	}
	return m
}
