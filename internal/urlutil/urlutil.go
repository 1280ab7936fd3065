// Package urlutil provides URL helpers shared by the crawler, the HTTP
// downloader and the CLI: host extraction for per-host admission control,
// URL normalization for link deduplication and onion address checks.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrMalformedURL is returned when a host cannot be derived from a URL.
var ErrMalformedURL = errors.New("malformed URL")

// Host returns the lower-cased, ASCII (punycode) host name of rawURL,
// without port. It fails with ErrMalformedURL when the URL does not parse,
// is not absolute, has no host, or the host is not a valid IDNA name.
//
// The host is the partition key for per-host admission control, so
// "Example.COM:8080" and "example.com" share one key.
func Host(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformedURL, rawURL, err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("%w: %q: not an absolute URL", ErrMalformedURL, rawURL)
	}

	hostname := u.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("%w: %q: missing host", ErrMalformedURL, rawURL)
	}

	// IP literals are not IDNA names.
	if strings.Contains(hostname, ":") || isIPv4(hostname) {
		return strings.ToLower(hostname), nil
	}

	ascii, err := idna.Lookup.ToASCII(hostname)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformedURL, rawURL, err)
	}
	return strings.ToLower(ascii), nil
}

// Normalize returns rawURL in the form used for deduplication:
// fragment removed, scheme and host lower-cased, and an empty path
// replaced by "/". URLs that do not parse are returned unchanged.
func Normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" && u.Opaque == "" && u.Host != "" {
		u.Path = "/"
	}

	return u.String()
}

// IsHTTP reports whether rawURL is an absolute http or https URL.
func IsHTTP(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

func isIPv4(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
