package network

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NewCookieJar returns a jar seeded with cookies. Each cookie is filed under its
// own domain; cookies without one are filed under rawURL.
func NewCookieJar(rawURL string, cookies []*http.Cookie) (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cookie url %q: %w", rawURL, err)
	}

	byOrigin := make(map[string][]*http.Cookie)
	for _, c := range cookies {
		origin := base.Scheme + "://" + base.Host
		if d := strings.TrimPrefix(c.Domain, "."); d != "" {
			scheme := "https"
			if !c.Secure && base.Scheme == "http" {
				scheme = "http"
			}
			origin = scheme + "://" + d
		}
		byOrigin[origin] = append(byOrigin[origin], c)
	}
	for origin, cs := range byOrigin {
		u, err := url.Parse(origin + "/")
		if err != nil {
			return nil, err
		}
		jar.SetCookies(u, cs)
	}
	return jar, nil
}
