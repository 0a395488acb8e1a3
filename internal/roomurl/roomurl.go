// Package roomurl validates and canonicalizes video room addresses supplied
// by users through slash commands.
package roomurl

import (
	"net/url"
	"strings"
)

// DefaultDomain is the host suffix accepted when no domain is configured.
const DefaultDomain = "doxy.me"

// Normalize trims input, adds an https scheme when none is present, and
// returns the canonical URL when its host is domain or a subdomain of it.
// The second return value is false for empty, unparsable or foreign input.
func Normalize(input, domain string) (string, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", false
	}
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		domain = DefaultDomain
	}

	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.User != nil {
		// userinfo lets "doxy.me@evil.com" style input pass a naive host check.
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" && u.RawPath == "" {
		// A bare host serializes with its root path: "https://doxy.me/".
		u.Path = "/"
	}
	return u.String(), true
}
