package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		denied  []string
		url     string
		want    bool
	}{
		{"empty policy allows", nil, nil, "https://anything.test/", true},
		{"allow list match", []string{"https://*.example.com/*"}, nil, "https://docs.example.com/guide", true},
		{"allow list miss", []string{"https://*.example.com/*"}, nil, "https://evil.test/", false},
		{"deny wins over allow", []string{"https://*"}, []string{"https://ads.*"}, "https://ads.tracker.test/x", false},
		{"deny only", nil, []string{"file://*"}, "file:///etc/passwd", false},
		{"host case ignored", []string{"https://example.com/*"}, nil, "HTTPS://EXAMPLE.com/Path", true},
		{"fragment ignored", []string{"https://example.com/page"}, nil, "https://example.com/page#top", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewURLPolicy(tt.allowed, tt.denied)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.IsAllowed(tt.url))

			if tt.want {
				assert.NoError(t, p.Check(tt.url))
			} else {
				assert.ErrorIs(t, p.Check(tt.url), ErrURLBlocked)
			}
		})
	}
}

func TestURLPolicyNil(t *testing.T) {
	var p *URLPolicy
	assert.True(t, p.IsAllowed("https://example.com"))
	assert.NoError(t, p.Check("https://example.com"))
}

func TestURLPolicyInvalidPattern(t *testing.T) {
	_, err := NewURLPolicy([]string{"https://[unclosed"}, nil)
	assert.Error(t, err)
}
