package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const (
	loginUsernameSelector = ".uk-input.uk-form-large"
	loginPasswordSelector = ".uk-input.password.uk-form-large"
	loginSubmitSelector   = "#signin_submit"
	customerTableSelector = "#customer-table"
)

// ErrLoginRejected is returned when the portal keeps showing the login form.
var ErrLoginRejected = errors.New("login failed - still on login page")

const showAllScript = `(() => {
  const selectors = ['select[name="customer-table_length"]', '.dataTables_length select',
    'select[aria-controls="customer-table"]', '.dataTables_wrapper select'];
  const values = ['-1', 'All', '1000', '500', '100'];
  for (const sel of selectors) {
    const select = document.querySelector(sel);
    if (!select) continue;
    for (const value of values) {
      const opt = Array.from(select.options).find(o => o.value === value || o.text.toLowerCase() === value.toLowerCase());
      if (!opt) continue;
      select.value = opt.value;
      select.dispatchEvent(new Event('change', { bubbles: true }));
      return true;
    }
  }
  return false;
})()`

const nextPageScript = `(() => {
  const selectors = ['#customer-table_next', '#customer-table_next a', '.dataTables_paginate .next',
    '.dataTables_paginate .next a', '.pagination .next', '.pagination .next a', '.paginate_button.next',
    '.paginate_button.next a', 'a[aria-label="Next"]', 'button[aria-label="Next"]',
    '.next:not(.page-numbers)', '.page-item.next a', '.paginate .next'];
  const disabled = el => el.classList.contains('disabled') || el.classList.contains('ui-state-disabled') ||
    el.getAttribute('aria-disabled') === 'true' || el.hasAttribute('disabled') ||
    (el.parentElement && el.parentElement.classList.contains('disabled'));
  for (const sel of selectors) {
    const btn = document.querySelector(sel);
    if (!btn) continue;
    if (disabled(btn)) return false;
    btn.click();
    return true;
  }
  return false;
})()`

// CustomerPortal drives the customer management portal the scraper reads.
type CustomerPortal interface {
	Launch(ctx context.Context) error
	Login(ctx context.Context, loginURL, username, password string) error
	OpenCustomers(ctx context.Context, customersURL string) error
	ShowAll(ctx context.Context) (bool, error)
	TableHTML(ctx context.Context) (string, error)
	NextPage(ctx context.Context) (bool, error)
	Close()
}

// BrowserOptions configures a ChromeBrowser
type BrowserOptions struct {
	Headless   bool
	Timeout    time.Duration
	ChromePath string
}

// ChromeBrowser is a CustomerPortal backed by a local Chrome via chromedp.
type ChromeBrowser struct {
	opts          BrowserOptions
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewChromeBrowser(opts BrowserOptions) *ChromeBrowser {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &ChromeBrowser{opts: opts}
}

// Launch starts Chrome. The browser lives until Close, independent of ctx.
func (b *ChromeBrowser) Launch(ctx context.Context) error {
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(browserUserAgent),
	)
	if b.opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(b.opts.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel

	// the first Run allocates the browser and must not carry a deadline
	if err := chromedp.Run(browserCtx); err != nil {
		b.Close()
		return fmt.Errorf("browser initialization failed: %w", err)
	}
	return nil
}

// Login fills the sign-in form and checks that the portal moved on.
func (b *ChromeBrowser) Login(ctx context.Context, loginURL, username, password string) error {
	var location string
	err := b.run(ctx, b.opts.Timeout,
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(loginUsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(loginUsernameSelector, username, chromedp.ByQuery),
		chromedp.SendKeys(loginPasswordSelector, password, chromedp.ByQuery),
		chromedp.Click(loginSubmitSelector, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
	)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	location = strings.ToLower(location)
	if strings.Contains(location, "login") || strings.Contains(location, "signin") {
		return ErrLoginRejected
	}
	return nil
}

// OpenCustomers navigates to the customer list and waits for the table.
func (b *ChromeBrowser) OpenCustomers(ctx context.Context, customersURL string) error {
	err := b.run(ctx, b.opts.Timeout+15*time.Second,
		chromedp.Navigate(customersURL),
		chromedp.WaitVisible(customerTableSelector, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
	)
	if err != nil {
		return fmt.Errorf("customer table did not load: %w", err)
	}
	return nil
}

// ShowAll switches the table to its largest page size when it offers one.
func (b *ChromeBrowser) ShowAll(ctx context.Context) (bool, error) {
	var ok bool
	if err := b.run(ctx, b.opts.Timeout, chromedp.Evaluate(showAllScript, &ok)); err != nil {
		return false, err
	}
	if ok {
		if err := b.run(ctx, b.opts.Timeout, chromedp.Sleep(3*time.Second)); err != nil {
			return true, err
		}
	}
	return ok, nil
}

// TableHTML returns the rendered page once the table settled.
func (b *ChromeBrowser) TableHTML(ctx context.Context) (string, error) {
	var html string
	err := b.run(ctx, b.opts.Timeout,
		chromedp.Sleep(time.Second),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

// NextPage clicks the pagination control. It returns false on the last page.
func (b *ChromeBrowser) NextPage(ctx context.Context) (bool, error) {
	var clicked bool
	if err := b.run(ctx, b.opts.Timeout, chromedp.Evaluate(nextPageScript, &clicked)); err != nil {
		return false, err
	}
	if clicked {
		if err := b.run(ctx, b.opts.Timeout, chromedp.Sleep(2*time.Second)); err != nil {
			return true, err
		}
	}
	return clicked, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (b *ChromeBrowser) Close() {
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
}

// run executes actions on the browser with a per-call timeout. The caller's
// ctx only bounds the call, it never tears the browser down.
func (b *ChromeBrowser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if b.browserCtx == nil {
		return errors.New("browser not launched")
	}
	runCtx, cancel := context.WithTimeout(b.browserCtx, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

var _ CustomerPortal = (*ChromeBrowser)(nil)
