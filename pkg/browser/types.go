package browser

import (
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusActive sessions are usable and were touched recently.
	StatusActive Status = "active"

	// StatusIdle sessions passed the soft inactivity mark but are still usable.
	StatusIdle Status = "idle"

	// StatusClosed is terminal: the process is released.
	StatusClosed Status = "closed"
)

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SessionOptions configures a new browser session. Zero values fall back to
// the registry defaults. Options are ignored when resuming a live session.
type SessionOptions struct {
	// Headless overrides the default headless mode when set
	Headless *bool `json:"headless,omitempty"`

	// Width and Height set the initial viewport size
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// Summary is a read-only snapshot of one session, as returned by List.
type Summary struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	URL            string    `json:"url"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Timeouts bounds every blocking browser operation.
type Timeouts struct {
	// Selector bounds waits for an element to appear
	Selector time.Duration

	// Navigation bounds page loads
	Navigation time.Duration

	// WaitCap is the maximum honored duration for a plain "wait ms" action
	WaitCap time.Duration

	// Action bounds one whole action, including time spent queued for the lock
	Action time.Duration

	// CloseWait is how long Close waits for an in-flight action before forcing
	CloseWait time.Duration
}

// DefaultTimeouts returns the standard operation bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Selector:   DefaultSelectorTimeout,
		Navigation: DefaultNavigationTimeout,
		WaitCap:    DefaultWaitCap,
		Action:     DefaultActionTimeout,
		CloseWait:  DefaultCloseWait,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Selector <= 0 {
		t.Selector = d.Selector
	}
	if t.Navigation <= 0 {
		t.Navigation = d.Navigation
	}
	if t.WaitCap <= 0 {
		t.WaitCap = d.WaitCap
	}
	if t.Action <= 0 {
		t.Action = d.Action
	}
	if t.CloseWait <= 0 {
		t.CloseWait = d.CloseWait
	}
	return t
}

// Default values for various operations
const (
	DefaultSelectorTimeout   = 10 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
	DefaultWaitCap           = 30 * time.Second
	DefaultActionTimeout     = 30 * time.Second
	DefaultCloseWait         = 5 * time.Second

	DefaultReapInterval = 60 * time.Second
	DefaultIdleMark     = 5 * time.Minute
	DefaultIdleTimeout  = 10 * time.Minute

	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
	DefaultMaxLength      = 10000 // characters returned by the content action
	DefaultScrollPixels   = 500
	DefaultSubmitSelector = "form"

	// BlankURL is the location of a freshly provisioned page.
	BlankURL = "about:blank"
)
