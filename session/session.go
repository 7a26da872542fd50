// Package session keeps the browsing session authenticated.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	cookiejar "github.com/orirawlings/persistent-cookiejar"
	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
)

const markerPoll = 200 * time.Millisecond

// Token describes an established session.
type Token struct {
	URL      string
	Cookies  int
	At       time.Time
	Restored bool
}

// Controller authenticates one page and re-establishes the session when
// the site drops it.
type Controller struct {
	page   browser.Page
	in     *engine.Interactor
	cfg    config.SessionConfig
	jar    *cookiejar.Jar
	logger *slog.Logger
}

// CheckCredentials fails with AUTH_FAILED when the environment did not
// supply credentials. Call it before starting a browser.
func CheckCredentials(cfg config.SessionConfig) error {
	var missing []string
	if cfg.Email == "" {
		missing = append(missing, "HARVEST_EMAIL")
	}
	if cfg.Password == "" {
		missing = append(missing, "HARVEST_PASSWORD")
	}
	if len(missing) > 0 {
		return models.NewHarvestError(models.ErrCodeAuth,
			strings.Join(missing, " and ")+" must be set", nil)
	}
	if cfg.LoginURL == "" {
		return models.NewHarvestError(models.ErrCodeAuth, "login URL is not configured", nil)
	}
	return nil
}

// New builds a Controller. When cfg.CookieFile is set, cookies are loaded
// from and saved to it.
func New(page browser.Page, in *engine.Interactor, cfg config.SessionConfig, logger *slog.Logger) (*Controller, error) {
	if err := CheckCredentials(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{page: page, in: in, cfg: cfg, logger: logger}
	if cfg.CookieFile != "" {
		jar, err := cookiejar.New(&cookiejar.Options{
			Filename:              cfg.CookieFile,
			PersistSessionCookies: true,
		})
		if err != nil {
			return nil, fmt.Errorf("load cookie file: %w", err)
		}
		c.jar = jar
	}
	return c, nil
}

// Authenticate submits the credentials through the login form and waits
// for the post-login marker. Failure is AUTH_FAILED and is not retried.
func (c *Controller) Authenticate(ctx context.Context) (*Token, error) {
	c.logger.Info("authenticating", "login_url", c.cfg.LoginURL)

	actx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	tok, err := c.login(actx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.NewHarvestError(models.ErrCodeAuth, "login failed", err)
	}
	if err := c.save(ctx); err != nil {
		c.logger.Warn("could not persist cookies", "error", err)
	}
	c.logger.Info("authenticated", "url", tok.URL)
	return tok, nil
}

func (c *Controller) login(ctx context.Context) (*Token, error) {
	if err := c.page.Navigate(ctx, c.cfg.LoginURL); err != nil {
		return nil, err
	}
	steps := []struct {
		selector, value string
	}{
		{c.cfg.UserSelector, c.cfg.Email},
		{c.cfg.PasswordSelector, c.cfg.Password},
	}
	for _, s := range steps {
		el, err := c.in.WaitFor(ctx, c.page, s.selector)
		if err != nil {
			return nil, fmt.Errorf("login form field %q: %w", s.selector, err)
		}
		if err := c.in.Type(ctx, el, s.value); err != nil {
			return nil, fmt.Errorf("fill %q: %w", s.selector, err)
		}
	}
	submit, err := c.in.WaitFor(ctx, c.page, c.cfg.SubmitSelector)
	if err != nil {
		return nil, fmt.Errorf("submit button: %w", err)
	}
	if err := c.in.Click(ctx, submit); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	for {
		if c.markerObserved(ctx) {
			u, _ := c.page.URL(ctx)
			cookies, _ := c.page.Cookies(ctx)
			return &Token{URL: u, Cookies: len(cookies), At: time.Now()}, nil
		}
		t := time.NewTimer(markerPoll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("post-login marker never appeared: %w", ctx.Err())
		case <-t.C:
		}
	}
}

// markerObserved reports whether the post-login URL fragment and, when
// configured, the post-login selector are both present.
func (c *Controller) markerObserved(ctx context.Context) bool {
	if c.cfg.SuccessURLFragment != "" {
		u, err := c.page.URL(ctx)
		if err != nil || !strings.Contains(u, c.cfg.SuccessURLFragment) {
			return false
		}
	}
	if c.cfg.SuccessSelector != "" {
		return c.visible(ctx, c.cfg.SuccessSelector)
	}
	return true
}

func (c *Controller) visible(ctx context.Context, selector string) bool {
	els, err := c.page.Find(ctx, selector)
	if err != nil {
		return false
	}
	for _, el := range els {
		if ok, err := el.Visible(ctx); err == nil && ok {
			return true
		}
	}
	return false
}

// IsLive visits the probe URL and reports whether the session survived:
// the post-login marker is observed and no login form is shown.
func (c *Controller) IsLive(ctx context.Context) bool {
	probe := c.cfg.ProbeURL
	if probe == "" {
		probe = c.cfg.LoginURL
	}
	if err := c.page.Navigate(ctx, probe); err != nil {
		c.logger.Debug("liveness probe failed", "url", probe, "error", err)
		return false
	}
	return !c.Invalidated(ctx) && c.markerObserved(ctx)
}

// Invalidated reports whether the current page shows the signature of a
// dropped session: the login page or its form.
func (c *Controller) Invalidated(ctx context.Context) bool {
	if u, err := c.page.URL(ctx); err == nil && samePage(u, c.cfg.LoginURL) {
		return true
	}
	return c.visible(ctx, c.cfg.UserSelector) && c.visible(ctx, c.cfg.PasswordSelector)
}

// Ensure authenticates unless the session is already live.
func (c *Controller) Ensure(ctx context.Context) error {
	if c.IsLive(ctx) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.Authenticate(ctx)
	return err
}

// Restore loads persisted cookies into the page and reports whether they
// still carry a live session.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	if c.jar == nil {
		return false, nil
	}
	u, err := url.Parse(c.cfg.LoginURL)
	if err != nil {
		return false, err
	}
	cookies := c.jar.Cookies(u)
	if len(cookies) == 0 {
		return false, nil
	}
	// The jar hands back name and value only.
	for _, ck := range cookies {
		if ck.Domain == "" {
			ck.Domain = u.Hostname()
		}
	}
	if err := c.page.SetCookies(ctx, cookies); err != nil {
		return false, err
	}
	live := c.IsLive(ctx)
	c.logger.Info("restored session cookies", "cookies", len(cookies), "live", live)
	return live, nil
}

func (c *Controller) save(ctx context.Context) error {
	if c.jar == nil {
		return nil
	}
	u, err := url.Parse(c.cfg.LoginURL)
	if err != nil {
		return err
	}
	cookies, err := c.page.Cookies(ctx)
	if err != nil {
		return err
	}
	c.jar.SetCookies(u, cookies)
	return c.jar.Save()
}

// samePage compares two URLs by host and path.
func samePage(a, b string) bool {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	if err := errors.Join(err1, err2); err != nil || ub.Host == "" {
		return false
	}
	return strings.EqualFold(ua.Host, ub.Host) &&
		strings.TrimRight(ua.Path, "/") == strings.TrimRight(ub.Path, "/")
}
