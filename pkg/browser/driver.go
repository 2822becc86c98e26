package browser

import (
	"context"
	"time"
)

// LaunchSpec describes one browser process to start.
type LaunchSpec struct {
	SessionID      string
	ProfileDir     string
	Headless       bool
	Viewport       Viewport
	ExecutablePath string
	NoSandbox      bool
	Timeout        time.Duration
}

// Driver starts browser processes. Each Launch yields a process that no
// other session shares.
type Driver interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
	Close() error
}

// Process is one running browser with a single active page.
type Process interface {
	Page() Page
	Close() error
}

// Page is the set of page primitives actions are built from. Every blocking
// call takes an explicit timeout.
type Page interface {
	Goto(url string, waitUntil string, timeout time.Duration) error
	WaitForLoad(timeout time.Duration) error
	URL() string
	Title() (string, error)

	Click(selector string, timeout time.Duration) error
	Fill(selector, value string, timeout time.Duration) error
	Type(selector, text string, delay, timeout time.Duration) error
	Press(selector, key string, timeout time.Duration) error
	SelectOption(selector, value string, timeout time.Duration) ([]string, error)
	WaitForSelector(selector string, timeout time.Duration) error

	// Evaluate runs a script in the page. When arg is non-nil the script
	// must be a function expression and receives it as its only argument.
	Evaluate(script string, arg any) (any, error)

	Screenshot(fullPage bool, timeout time.Duration) ([]byte, error)
	Content() (string, error)
	CookieCount() (int, error)
	IsClosed() bool
}
