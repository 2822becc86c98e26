package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Scripts run through Page.Evaluate. Each takes a single argument.
const (
	scrollScript = `([dx, dy]) => { window.scrollBy(dx, dy); return window.scrollY; }`

	extractScript = `([selector, attribute]) => Array.from(document.querySelectorAll(selector)).map(el =>
	attribute ? (el.getAttribute(attribute) ?? '') : (el.textContent || '').trim())`

	submitScript = `(selector) => {
	const el = document.querySelector(selector);
	if (!el) throw new Error('no element matches ' + selector);
	const form = el.tagName === 'FORM' ? el : el.closest('form');
	if (!form) throw new Error('no form found for ' + selector);
	if (typeof form.requestSubmit === 'function') form.requestSubmit(); else form.submit();
	return true;
}`

	outerHTMLScript = `(selector) => { const el = document.querySelector(selector); return el ? el.outerHTML : null; }`
)

// run executes one validated action. The caller holds the session lock.
func (d *Dispatcher) run(ctx context.Context, s *Session, action Action) (map[string]any, error) {
	page := s.page
	t := d.timeouts

	switch a := action.(type) {
	case NavigateAction:
		if err := page.Goto(a.URL, a.WaitUntil, t.Navigation); err != nil {
			return nil, fmt.Errorf("navigation failed: %w", err)
		}
		return d.location(page), nil

	case ClickAction:
		if err := page.Click(a.Selector, t.Selector); err != nil {
			return nil, fmt.Errorf("click failed: %w", err)
		}
		if a.WaitForNav {
			d.awaitNavigation(s, "click")
		}
		return map[string]any{"url": page.URL()}, nil

	case TypeAction:
		if a.ClearFirst {
			if err := page.Fill(a.Selector, "", t.Selector); err != nil {
				return nil, fmt.Errorf("clear failed: %w", err)
			}
		}
		delay := time.Duration(a.Delay) * time.Millisecond
		n := utf8.RuneCountInString(a.Text)
		if err := page.Type(a.Selector, a.Text, delay, t.Selector+typingTime(n, a.Delay)); err != nil {
			return nil, fmt.Errorf("type failed: %w", err)
		}
		return map[string]any{"length": n}, nil

	case SelectAction:
		selected, err := page.SelectOption(a.Selector, a.Value, t.Selector)
		if err != nil {
			return nil, fmt.Errorf("select failed: %w", err)
		}
		if selected == nil {
			selected = []string{}
		}
		return map[string]any{"selected": selected}, nil

	case ScrollAction:
		a = a.normalized()
		dy := a.Pixels
		if a.Direction == "up" {
			dy = -dy
		}
		if _, err := page.Evaluate(scrollScript, []int{0, dy}); err != nil {
			return nil, fmt.Errorf("scroll failed: %w", err)
		}
		return map[string]any{"direction": a.Direction, "pixels": a.Pixels}, nil

	case WaitAction:
		if strings.TrimSpace(a.Selector) != "" {
			if err := page.WaitForSelector(a.Selector, t.Selector); err != nil {
				return nil, fmt.Errorf("wait failed: %w", err)
			}
			return map[string]any{"selector": a.Selector}, nil
		}
		wait := d.capWait(a.Ms)
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("wait interrupted: %w", ctx.Err())
		}
		return map[string]any{"ms": wait.Milliseconds()}, nil

	case ScreenshotAction:
		data, err := page.Screenshot(a.FullPage, t.Action)
		if err != nil {
			return nil, fmt.Errorf("screenshot failed: %w", err)
		}
		return map[string]any{
			"image":    base64.StdEncoding.EncodeToString(data),
			"mimeType": "image/png",
			"fullPage": a.FullPage,
		}, nil

	case ExtractAction:
		raw, err := page.Evaluate(extractScript, []string{a.Selector, a.Attribute})
		if err != nil {
			return nil, fmt.Errorf("extract failed: %w", err)
		}
		items := toStrings(raw)
		return map[string]any{"items": items, "count": len(items)}, nil

	case SubmitAction:
		if err := submitForm(page, a.selector()); err != nil {
			return nil, err
		}
		d.awaitNavigation(s, "submit")
		return map[string]any{"url": page.URL()}, nil

	case EvaluateAction:
		result, err := page.Evaluate(a.Script, nil)
		if err != nil {
			return nil, fmt.Errorf("evaluation failed: %w", err)
		}
		return map[string]any{"result": result}, nil

	case PageInfoAction:
		title, err := page.Title()
		if err != nil {
			return nil, fmt.Errorf("failed to read title: %w", err)
		}
		cookies, err := page.CookieCount()
		if err != nil {
			return nil, fmt.Errorf("failed to read cookies: %w", err)
		}
		return map[string]any{"url": page.URL(), "title": title, "cookieCount": cookies}, nil

	case LoginAction:
		return d.login(s, a)

	case SearchAction:
		return d.search(s, a)

	case ContentAction:
		return d.content(page, a)

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}
}

// budget is the whole-action deadline, lock wait included.
func (d *Dispatcher) budget(action Action) time.Duration {
	t := d.timeouts
	var b time.Duration
	switch a := action.(type) {
	case NavigateAction:
		b = t.Navigation
	case ClickAction:
		b = t.Selector
		if a.WaitForNav {
			b += t.Navigation
		}
	case TypeAction:
		b = 2*t.Selector + typingTime(utf8.RuneCountInString(a.Text), a.Delay)
	case SelectAction:
		b = t.Selector
	case WaitAction:
		if strings.TrimSpace(a.Selector) != "" {
			b = t.Selector
		} else {
			b = d.capWait(a.Ms)
		}
	case SubmitAction:
		b = t.Selector + t.Navigation
	case LoginAction:
		b = 2*t.Navigation + 4*t.Selector
	case SearchAction:
		b = 2*t.Navigation + 3*t.Selector
	default:
		b = t.Action
	}
	if b < t.Action {
		b = t.Action
	}
	return b + timeoutSlack
}

// timeoutSlack lets page-level timeouts fire before the dispatcher deadline,
// so callers see the specific error.
const timeoutSlack = 2 * time.Second

// capWait converts ms to a duration no longer than the wait cap. The
// comparison happens in milliseconds so huge values cannot overflow.
func (d *Dispatcher) capWait(ms int) time.Duration {
	if int64(ms) >= d.timeouts.WaitCap.Milliseconds() {
		return d.timeouts.WaitCap
	}
	return time.Duration(ms) * time.Millisecond
}

// typingTime is how long typing n runes at delayMs per keystroke takes.
// delayMs is bounded by maxKeyDelay, so the product fits a Duration for any
// realistic n; larger inputs saturate.
func typingTime(n, delayMs int) time.Duration {
	if n <= 0 || delayMs <= 0 {
		return 0
	}
	if int64(n) > int64(maxTypingTime/time.Millisecond)/int64(delayMs) {
		return maxTypingTime
	}
	return time.Duration(n) * time.Duration(delayMs) * time.Millisecond
}

const maxTypingTime = 24 * time.Hour

// awaitNavigation waits for the page to settle. Failure is logged, not returned.
func (d *Dispatcher) awaitNavigation(s *Session, step string) {
	if err := s.page.WaitForLoad(d.timeouts.Navigation); err != nil {
		d.logger.Debugf("session %s: %s: navigation did not settle: %v", s.id, step, err)
	}
}

func (d *Dispatcher) location(page Page) map[string]any {
	title, err := page.Title()
	if err != nil {
		title = ""
	}
	return map[string]any{"url": page.URL(), "title": title}
}

func (d *Dispatcher) content(page Page, a ContentAction) (map[string]any, error) {
	var raw string
	if strings.TrimSpace(a.Selector) != "" {
		v, err := page.Evaluate(outerHTMLScript, a.Selector)
		if err != nil {
			return nil, fmt.Errorf("content failed: %w", err)
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("content failed: no element found matching selector: %s", a.Selector)
		}
		raw = s
	} else {
		html, err := page.Content()
		if err != nil {
			return nil, fmt.Errorf("content failed: %w", err)
		}
		raw = html
	}

	cleaned, err := cleanPage(raw, a.MaxLength)
	if err != nil {
		return nil, err
	}
	if cleaned.Title == "" {
		if title, err := page.Title(); err == nil {
			cleaned.Title = title
		}
	}
	return map[string]any{
		"url":         page.URL(),
		"title":       cleaned.Title,
		"description": cleaned.Description,
		"html":        cleaned.HTML,
		"truncated":   cleaned.Truncated,
	}, nil
}

func submitForm(page Page, selector string) error {
	if _, err := page.Evaluate(submitScript, selector); err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	return nil
}

// toStrings converts an evaluation result array into strings.
func toStrings(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case nil:
				out = append(out, "")
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
		return out
	default:
		return []string{}
	}
}
