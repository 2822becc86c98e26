package browser

import (
	"fmt"
)

// Composite actions run every step under the single lock hold taken by the
// dispatcher. A failing step aborts the rest; whatever the browser reached
// is left as is.

func (d *Dispatcher) login(s *Session, a LoginAction) (map[string]any, error) {
	page := s.page
	t := d.timeouts

	if err := page.Goto(a.URL, "load", t.Navigation); err != nil {
		return nil, fmt.Errorf("login: navigation failed: %w", err)
	}
	s.setURL(page.URL())

	if err := page.WaitForSelector(a.UsernameSelector, t.Selector); err != nil {
		return nil, fmt.Errorf("login: username field not found: %w", err)
	}
	if err := page.Fill(a.UsernameSelector, a.Username, t.Selector); err != nil {
		return nil, fmt.Errorf("login: failed to enter username: %w", err)
	}
	if err := page.Fill(a.PasswordSelector, a.Password, t.Selector); err != nil {
		return nil, fmt.Errorf("login: failed to enter password: %w", err)
	}

	if a.SubmitSelector != "" {
		if err := page.Click(a.SubmitSelector, t.Selector); err != nil {
			return nil, fmt.Errorf("login: submit click failed: %w", err)
		}
	} else if err := page.Press(a.PasswordSelector, "Enter", t.Selector); err != nil {
		return nil, fmt.Errorf("login: submit failed: %w", err)
	}

	d.awaitNavigation(s, "login")
	return d.location(page), nil
}

func (d *Dispatcher) search(s *Session, a SearchAction) (map[string]any, error) {
	page := s.page
	t := d.timeouts

	if a.URL != "" {
		if err := page.Goto(a.URL, "load", t.Navigation); err != nil {
			return nil, fmt.Errorf("search: navigation failed: %w", err)
		}
		s.setURL(page.URL())
	}

	if err := page.WaitForSelector(a.SearchSelector, t.Selector); err != nil {
		return nil, fmt.Errorf("search: search field not found: %w", err)
	}
	if err := page.Fill(a.SearchSelector, a.Query, t.Selector); err != nil {
		return nil, fmt.Errorf("search: failed to enter query: %w", err)
	}

	if a.SubmitSelector != "" {
		if err := page.Click(a.SubmitSelector, t.Selector); err != nil {
			return nil, fmt.Errorf("search: submit click failed: %w", err)
		}
	} else if err := page.Press(a.SearchSelector, "Enter", t.Selector); err != nil {
		return nil, fmt.Errorf("search: submit failed: %w", err)
	}

	d.awaitNavigation(s, "search")
	return d.location(page), nil
}
