package browser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Kind names an action in the fixed vocabulary.
type Kind string

const (
	KindNavigate   Kind = "navigate"
	KindClick      Kind = "click"
	KindType       Kind = "type"
	KindSelect     Kind = "select"
	KindScroll     Kind = "scroll"
	KindWait       Kind = "wait"
	KindScreenshot Kind = "screenshot"
	KindExtract    Kind = "extract"
	KindSubmit     Kind = "submit"
	KindEvaluate   Kind = "evaluate"
	KindPageInfo   Kind = "page_info"
	KindLogin      Kind = "login"
	KindSearch     Kind = "search"
	KindContent    Kind = "content"
)

// Kinds returns every action kind, in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindNavigate, KindClick, KindType, KindSelect, KindScroll, KindWait,
		KindScreenshot, KindExtract, KindSubmit, KindEvaluate, KindPageInfo,
		KindLogin, KindSearch, KindContent,
	}
}

// Action is one request in the vocabulary. The set is closed: only the
// types in this file implement it.
type Action interface {
	Kind() Kind
	validate() error
}

// Valid waitUntil values for navigation
var validWaitUntil = map[string]bool{
	"load":             true,
	"domcontentloaded": true,
	"networkidle":      true,
	"commit":           true,
}

// NavigateAction loads a URL.
type NavigateAction struct {
	URL       string `json:"url"`
	WaitUntil string `json:"waitUntil,omitempty"`
}

func (NavigateAction) Kind() Kind { return KindNavigate }

func (a NavigateAction) validate() error {
	if err := validateURL(KindNavigate, "url", a.URL); err != nil {
		return err
	}
	if a.WaitUntil != "" && !validWaitUntil[a.WaitUntil] {
		return invalidParam(KindNavigate, "waitUntil", "must be one of load, domcontentloaded, networkidle, commit")
	}
	return nil
}

// ClickAction clicks the first element matching Selector.
type ClickAction struct {
	Selector   string `json:"selector"`
	WaitForNav bool   `json:"waitForNav,omitempty"`
}

func (ClickAction) Kind() Kind { return KindClick }

func (a ClickAction) validate() error {
	return requireString(KindClick, "selector", a.Selector)
}

// TypeAction types Text into the element matching Selector.
type TypeAction struct {
	Selector   string `json:"selector"`
	Text       string `json:"text"`
	ClearFirst bool   `json:"clearFirst,omitempty"`

	// Delay between keystrokes in milliseconds, at most maxKeyDelay
	Delay int `json:"delay,omitempty"`
}

const maxKeyDelay = 1000

func (TypeAction) Kind() Kind { return KindType }

func (a TypeAction) validate() error {
	if err := requireString(KindType, "selector", a.Selector); err != nil {
		return err
	}
	if a.Text == "" {
		return missingParam(KindType, "text")
	}
	if a.Delay < 0 {
		return invalidParam(KindType, "delay", "cannot be negative")
	}
	if a.Delay > maxKeyDelay {
		return invalidParam(KindType, "delay", fmt.Sprintf("cannot exceed %dms", maxKeyDelay))
	}
	return nil
}

// SelectAction picks an option of a <select> element by value.
type SelectAction struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

func (SelectAction) Kind() Kind { return KindSelect }

func (a SelectAction) validate() error {
	if err := requireString(KindSelect, "selector", a.Selector); err != nil {
		return err
	}
	if a.Value == "" {
		return missingParam(KindSelect, "value")
	}
	return nil
}

// ScrollAction scrolls the window vertically.
type ScrollAction struct {
	Direction string `json:"direction,omitempty"` // "up" or "down" (default)
	Pixels    int    `json:"pixels,omitempty"`
}

func (ScrollAction) Kind() Kind { return KindScroll }

func (a ScrollAction) validate() error {
	switch a.Direction {
	case "", "up", "down":
	default:
		return invalidParam(KindScroll, "direction", "must be up or down")
	}
	if a.Pixels < 0 {
		return invalidParam(KindScroll, "pixels", "cannot be negative")
	}
	return nil
}

func (a ScrollAction) normalized() ScrollAction {
	if a.Direction == "" {
		a.Direction = "down"
	}
	if a.Pixels == 0 {
		a.Pixels = DefaultScrollPixels
	}
	return a
}

// WaitAction waits for Selector to appear, or sleeps for Ms milliseconds.
type WaitAction struct {
	Selector string `json:"selector,omitempty"`
	Ms       int    `json:"ms,omitempty"`
}

func (WaitAction) Kind() Kind { return KindWait }

func (a WaitAction) validate() error {
	if a.Ms < 0 {
		return invalidParam(KindWait, "ms", "cannot be negative")
	}
	if strings.TrimSpace(a.Selector) == "" && a.Ms == 0 {
		return missingParam(KindWait, "selector or ms")
	}
	return nil
}

// ScreenshotAction captures the viewport, or the full page.
type ScreenshotAction struct {
	FullPage bool `json:"fullPage,omitempty"`
}

func (ScreenshotAction) Kind() Kind { return KindScreenshot }

func (ScreenshotAction) validate() error { return nil }

// ExtractAction reduces every element matching Selector to its trimmed
// text, or to the value of Attribute when set.
type ExtractAction struct {
	Selector  string `json:"selector"`
	Attribute string `json:"attribute,omitempty"`
}

func (ExtractAction) Kind() Kind { return KindExtract }

func (a ExtractAction) validate() error {
	return requireString(KindExtract, "selector", a.Selector)
}

// SubmitAction submits the form matching Selector, or the form enclosing it.
type SubmitAction struct {
	Selector string `json:"selector,omitempty"`
}

func (SubmitAction) Kind() Kind { return KindSubmit }

func (SubmitAction) validate() error { return nil }

func (a SubmitAction) selector() string {
	if strings.TrimSpace(a.Selector) == "" {
		return DefaultSubmitSelector
	}
	return a.Selector
}

// EvaluateAction runs a script in the page and returns its value.
type EvaluateAction struct {
	Script string `json:"script"`
}

func (EvaluateAction) Kind() Kind { return KindEvaluate }

func (a EvaluateAction) validate() error {
	return requireString(KindEvaluate, "script", a.Script)
}

// PageInfoAction reports url, title and cookie count.
type PageInfoAction struct{}

func (PageInfoAction) Kind() Kind { return KindPageInfo }

func (PageInfoAction) validate() error { return nil }

// LoginAction fills a username/password form and submits it.
type LoginAction struct {
	URL              string `json:"url"`
	UsernameSelector string `json:"usernameSelector"`
	PasswordSelector string `json:"passwordSelector"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	SubmitSelector   string `json:"submitSelector,omitempty"`
}

func (LoginAction) Kind() Kind { return KindLogin }

func (a LoginAction) validate() error {
	if err := validateURL(KindLogin, "url", a.URL); err != nil {
		return err
	}
	for _, f := range []struct{ name, value string }{
		{"usernameSelector", a.UsernameSelector},
		{"passwordSelector", a.PasswordSelector},
		{"username", a.Username},
		{"password", a.Password},
	} {
		if f.value == "" {
			return missingParam(KindLogin, f.name)
		}
	}
	return nil
}

// SearchAction types Query into a search box and submits it, optionally
// navigating to URL first.
type SearchAction struct {
	URL            string `json:"url,omitempty"`
	SearchSelector string `json:"searchSelector"`
	Query          string `json:"query"`
	SubmitSelector string `json:"submitSelector,omitempty"`
}

func (SearchAction) Kind() Kind { return KindSearch }

func (a SearchAction) validate() error {
	if a.URL != "" {
		if err := validateURL(KindSearch, "url", a.URL); err != nil {
			return err
		}
	}
	if err := requireString(KindSearch, "searchSelector", a.SearchSelector); err != nil {
		return err
	}
	if a.Query == "" {
		return missingParam(KindSearch, "query")
	}
	return nil
}

// ContentAction returns cleaned page HTML, optionally scoped to Selector.
type ContentAction struct {
	Selector  string `json:"selector,omitempty"`
	MaxLength int    `json:"maxLength,omitempty"`
}

func (ContentAction) Kind() Kind { return KindContent }

func (a ContentAction) validate() error {
	if a.MaxLength < 0 {
		return invalidParam(KindContent, "maxLength", "cannot be negative")
	}
	return nil
}

// ParseAction decodes the JSON parameters of an action of the given kind.
// Unknown kinds fail with ErrUnknownAction; malformed JSON with ErrInvalidParams.
// Parameters are not validated here; the dispatcher does that.
func ParseAction(kind string, raw []byte) (Action, error) {
	var a Action
	switch Kind(kind) {
	case KindNavigate:
		a = &NavigateAction{}
	case KindClick:
		a = &ClickAction{}
	case KindType:
		a = &TypeAction{}
	case KindSelect:
		a = &SelectAction{}
	case KindScroll:
		a = &ScrollAction{}
	case KindWait:
		a = &WaitAction{}
	case KindScreenshot:
		a = &ScreenshotAction{}
	case KindExtract:
		a = &ExtractAction{}
	case KindSubmit:
		a = &SubmitAction{}
	case KindEvaluate:
		a = &EvaluateAction{}
	case KindPageInfo:
		a = &PageInfoAction{}
	case KindLogin:
		a = &LoginAction{}
	case KindSearch:
		a = &SearchAction{}
	case KindContent:
		a = &ContentAction{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}

	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, a); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, kind, err)
		}
	}
	return deref(a), nil
}

// deref turns the decoding target back into a value action.
func deref(a Action) Action {
	switch v := a.(type) {
	case *NavigateAction:
		return *v
	case *ClickAction:
		return *v
	case *TypeAction:
		return *v
	case *SelectAction:
		return *v
	case *ScrollAction:
		return *v
	case *WaitAction:
		return *v
	case *ScreenshotAction:
		return *v
	case *ExtractAction:
		return *v
	case *SubmitAction:
		return *v
	case *EvaluateAction:
		return *v
	case *PageInfoAction:
		return *v
	case *LoginAction:
		return *v
	case *SearchAction:
		return *v
	case *ContentAction:
		return *v
	default:
		return a
	}
}

func requireString(kind Kind, name, value string) error {
	if strings.TrimSpace(value) == "" {
		return missingParam(kind, name)
	}
	return nil
}

func validateURL(kind Kind, name, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return missingParam(kind, name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return invalidParam(kind, name, "must be an absolute URL")
	}
	return nil
}
