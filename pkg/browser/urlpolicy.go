package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// URLPolicy decides which navigation targets sessions may load.
// Patterns are globs matched against the full URL, e.g. "https://*.example.com/*".
type URLPolicy struct {
	allowedPatterns []glob.Glob
	deniedPatterns  []glob.Glob
}

// NewURLPolicy compiles allow and deny patterns. A nil policy, or one with
// no patterns, allows everything.
func NewURLPolicy(allowed, denied []string) (*URLPolicy, error) {
	p := &URLPolicy{}

	for _, pattern := range allowed {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed url pattern '%s': %w", pattern, err)
		}
		p.allowedPatterns = append(p.allowedPatterns, g)
	}

	for _, pattern := range denied {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid denied url pattern '%s': %w", pattern, err)
		}
		p.deniedPatterns = append(p.deniedPatterns, g)
	}

	return p, nil
}

// IsAllowed returns true if the URL passes the policy.
func (p *URLPolicy) IsAllowed(rawURL string) bool {
	if p == nil {
		return true
	}
	target := normalizeURL(rawURL)

	// Denied patterns take precedence
	for _, pattern := range p.deniedPatterns {
		if pattern.Match(target) {
			return false
		}
	}

	if len(p.allowedPatterns) == 0 {
		return true
	}

	for _, pattern := range p.allowedPatterns {
		if pattern.Match(target) {
			return true
		}
	}

	return false
}

// Check returns ErrURLBlocked when the URL is rejected.
func (p *URLPolicy) Check(rawURL string) error {
	if p.IsAllowed(rawURL) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrURLBlocked, rawURL)
}

// normalizeURL lower-cases scheme and host so patterns need not care about case.
func normalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}
