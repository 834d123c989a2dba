package checker

import (
	"testing"

	"github.com/proxy-scraper-checker/internal/types"
)

func TestClassifyAnonymity(t *testing.T) {
	const realIP = "203.0.113.7"

	tests := []struct {
		name     string
		echo     *types.Echo
		expected types.AnonymityLevel
	}{
		{
			name: "real IP in origin is transparent",
			echo: &types.Echo{
				Origin:  "10.1.1.1, 203.0.113.7",
				Headers: map[string]string{},
			},
			expected: types.AnonymityTransparent,
		},
		{
			name: "real IP in a header value is transparent",
			echo: &types.Echo{
				Origin: "10.1.1.1",
				Headers: map[string]string{
					"X-Forwarded-For": "203.0.113.7",
				},
			},
			expected: types.AnonymityTransparent,
		},
		{
			name: "leak wins over proxy markers",
			echo: &types.Echo{
				Origin: "10.1.1.1",
				Headers: map[string]string{
					"Via":             "1.1 relay",
					"X-Forwarded-For": "203.0.113.7",
				},
			},
			expected: types.AnonymityTransparent,
		},
		{
			name: "real IP inside a longer address is not a leak",
			echo: &types.Echo{
				// 203.0.113.7 appears only as a substring of 203.0.113.77.
				Origin:  "203.0.113.77",
				Headers: map[string]string{},
			},
			expected: types.AnonymityElite,
		},
		{
			name: "longer address in a marker header stays anonymous",
			echo: &types.Echo{
				Origin: "10.1.1.1",
				Headers: map[string]string{
					"X-Forwarded-For": "1203.0.113.70, 203.0.113.77",
				},
			},
			expected: types.AnonymityAnonymous,
		},
		{
			name: "exact real IP in a comma-separated header is transparent",
			echo: &types.Echo{
				Origin: "10.1.1.1",
				Headers: map[string]string{
					"X-Forwarded-For": "10.1.1.1, 203.0.113.7",
				},
			},
			expected: types.AnonymityTransparent,
		},
		{
			name: "Via header without leak is anonymous",
			echo: &types.Echo{
				Origin: "10.1.1.1",
				Headers: map[string]string{
					"Via": "1.1 relay",
				},
			},
			expected: types.AnonymityAnonymous,
		},
		{
			name: "header match is case-insensitive",
			echo: &types.Echo{
				Origin: "10.1.1.1",
				Headers: map[string]string{
					"VIA": "1.1 relay",
				},
			},
			expected: types.AnonymityAnonymous,
		},
		{
			name: "empty marker value does not count",
			echo: &types.Echo{
				Origin: "10.1.1.1",
				Headers: map[string]string{
					"Via": "",
				},
			},
			expected: types.AnonymityElite,
		},
		{
			name: "no leak and no markers is elite",
			echo: &types.Echo{
				Origin: "10.1.1.1",
				Headers: map[string]string{
					"Accept-Encoding": "gzip",
					"User-Agent":      "Mozilla/5.0",
				},
			},
			expected: types.AnonymityElite,
		},
		{
			name: "X-Real-Ip marker is anonymous",
			echo: &types.Echo{
				Origin: "10.1.1.1",
				Headers: map[string]string{
					"X-Real-Ip": "10.1.1.1",
				},
			},
			expected: types.AnonymityAnonymous,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyAnonymity(tt.echo, realIP)
			if got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}
