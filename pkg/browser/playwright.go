package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/browserd/pkg/logging"
)

// PlaywrightOptions configures the Playwright-backed driver.
type PlaywrightOptions struct {
	// SkipInstall skips the driver and browser download check at startup
	SkipInstall bool

	// Logger receives launch and shutdown messages
	Logger *logging.Logger
}

// PlaywrightDriver launches one persistent Chromium context per session.
// A persistent context is its own browser process bound to its own
// user data directory, so sessions never share cookies or storage.
type PlaywrightDriver struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	opts        PlaywrightOptions
	initialized bool
}

// NewPlaywrightDriver creates a driver. Playwright itself starts lazily on
// the first Launch, or eagerly through Initialize.
func NewPlaywrightDriver(opts PlaywrightOptions) *PlaywrightDriver {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &PlaywrightDriver{opts: opts}
}

// Initialize installs (unless skipped) and starts the Playwright driver.
func (d *PlaywrightDriver) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	// Keep driver chatter out of stdout; its errors go to the log
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   d.opts.Logger.Writer(),
	}

	if !d.opts.SkipInstall {
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	d.pw = pw
	d.initialized = true
	d.opts.Logger.Infof("playwright driver started")
	return nil
}

// Launch starts a browser process for one session.
func (d *PlaywrightDriver) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if err := d.Initialize(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(spec.Headless),
		Viewport: &playwright.Size{
			Width:  spec.Viewport.Width,
			Height: spec.Viewport.Height,
		},
	}
	if spec.Timeout > 0 {
		launchOpts.Timeout = playwright.Float(millis(spec.Timeout))
	}
	if spec.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(spec.ExecutablePath)
	}
	if spec.NoSandbox {
		launchOpts.ChromiumSandbox = playwright.Bool(false)
		launchOpts.Args = append(launchOpts.Args, "--no-sandbox")
	}

	browserCtx, err := d.pw.Chromium.LaunchPersistentContext(spec.ProfileDir, launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	// A persistent context opens with one blank page already
	var page playwright.Page
	if pages := browserCtx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = browserCtx.NewPage()
		if err != nil {
			_ = browserCtx.Close()
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
	}

	d.opts.Logger.Debugf("launched browser for session %s (profile %s)", spec.SessionID, spec.ProfileDir)
	return &pwProcess{context: browserCtx, page: &pwPage{page: page}}, nil
}

// Close stops the Playwright driver. Session processes must be closed first.
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized || d.pw == nil {
		return nil
	}
	d.initialized = false
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type pwProcess struct {
	context playwright.BrowserContext
	page    *pwPage
}

func (p *pwProcess) Page() Page {
	return p.page
}

// Close closes the persistent context, which terminates the browser process.
func (p *pwProcess) Close() error {
	return translateError(p.context.Close())
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Goto(url string, waitUntil string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntilState(waitUntil),
		Timeout:   playwright.Float(millis(timeout)),
	})
	return translateError(err)
}

func (p *pwPage) WaitForLoad(timeout time.Duration) error {
	return translateError(p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: playwright.Float(millis(timeout)),
	}))
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Title() (string, error) {
	title, err := p.page.Title()
	return title, translateError(err)
}

func (p *pwPage) Click(selector string, timeout time.Duration) error {
	return translateError(p.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(millis(timeout)),
	}))
}

func (p *pwPage) Fill(selector, value string, timeout time.Duration) error {
	return translateError(p.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(millis(timeout)),
	}))
}

func (p *pwPage) Type(selector, text string, delay, timeout time.Duration) error {
	typeOpts := playwright.LocatorTypeOptions{
		Timeout: playwright.Float(millis(timeout)),
	}
	if delay > 0 {
		typeOpts.Delay = playwright.Float(millis(delay))
	}
	return translateError(p.page.Locator(selector).First().Type(text, typeOpts))
}

func (p *pwPage) Press(selector, key string, timeout time.Duration) error {
	return translateError(p.page.Locator(selector).First().Press(key, playwright.LocatorPressOptions{
		Timeout: playwright.Float(millis(timeout)),
	}))
}

func (p *pwPage) SelectOption(selector, value string, timeout time.Duration) ([]string, error) {
	values := []string{value}
	selected, err := p.page.Locator(selector).First().SelectOption(
		playwright.SelectOptionValues{Values: &values},
		playwright.LocatorSelectOptionOptions{Timeout: playwright.Float(millis(timeout))},
	)
	return selected, translateError(err)
}

func (p *pwPage) WaitForSelector(selector string, timeout time.Duration) error {
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(millis(timeout)),
	})
	return translateError(err)
}

func (p *pwPage) Evaluate(script string, arg any) (any, error) {
	var (
		result any
		err    error
	)
	if arg == nil {
		result, err = p.page.Evaluate(script)
	} else {
		result, err = p.page.Evaluate(script, arg)
	}
	return result, translateError(err)
}

func (p *pwPage) Screenshot(fullPage bool, timeout time.Duration) ([]byte, error) {
	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
		Type:     playwright.ScreenshotTypePng,
		Timeout:  playwright.Float(millis(timeout)),
	})
	return data, translateError(err)
}

func (p *pwPage) Content() (string, error) {
	html, err := p.page.Content()
	return html, translateError(err)
}

func (p *pwPage) CookieCount() (int, error) {
	cookies, err := p.page.Context().Cookies()
	if err != nil {
		return 0, translateError(err)
	}
	return len(cookies), nil
}

func (p *pwPage) IsClosed() bool {
	return p.page.IsClosed()
}

func waitUntilState(s string) *playwright.WaitUntilState {
	switch s {
	case "domcontentloaded":
		return playwright.WaitUntilStateDomcontentloaded
	case "networkidle":
		return playwright.WaitUntilStateNetworkidle
	case "commit":
		return playwright.WaitUntilStateCommit
	default:
		return playwright.WaitUntilStateLoad
	}
}

// translateError maps Playwright's error sentinels onto this package's.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %w", ErrSessionClosed, err)
	default:
		return err
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
