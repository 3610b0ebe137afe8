package providers

import "strings"

// Base carries the fields shared by the HTTP-backed adapters.
type Base struct {
	provider Provider
	apiKey   string
	baseURL  string
}

// Identity returns the provider tag.
func (b Base) Identity() Provider { return b.provider }

// BaseURL returns the resolved endpoint, without a trailing slash.
func (b Base) BaseURL() string { return b.baseURL }

// resolveBase applies the vendor default when no override is configured and
// normalizes the trailing slash.
func resolveBase(override, fallback string) string {
	if override == "" {
		override = fallback
	}
	return strings.TrimRight(override, "/")
}
