package utils

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// AnyRedirectURI is the sole-entry redirect list allowing any secure or loopback URI.
const AnyRedirectURI = "*"

func IsLoopbackURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	host := u.Hostname()

	if strings.EqualFold(host, "localhost") {
		return true
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func IsSecureOrLoopbackURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil {
		return false
	}

	if u.Scheme == "https" {
		return true
	}

	return IsLoopbackURI(raw)
}

// MatchRedirectPattern matches uri against a registered pattern. A '*' in the
// host matches exactly one non-empty label, a '*' path segment matches exactly
// one non-empty segment. Scheme, port and query must be equal.
func MatchRedirectPattern(pattern string, uri string) bool {
	if pattern == uri {
		return true
	}

	if !strings.Contains(pattern, "*") {
		return false
	}

	p, err := url.Parse(pattern)
	if err != nil {
		return false
	}

	u, err := url.Parse(uri)
	if err != nil || u.Opaque != "" || u.User != nil || u.Fragment != "" {
		return false
	}

	if !strings.EqualFold(p.Scheme, u.Scheme) || p.Port() != u.Port() || p.RawQuery != u.RawQuery {
		return false
	}

	if !matchSegments(strings.Split(strings.ToLower(p.Hostname()), "."), strings.Split(strings.ToLower(u.Hostname()), ".")) {
		return false
	}

	return matchSegments(strings.Split(p.Path, "/"), strings.Split(u.Path, "/"))
}

func matchSegments(pattern []string, value []string) bool {
	if len(pattern) != len(value) {
		return false
	}

	for i := range pattern {
		if pattern[i] == "*" {
			if value[i] == "" || strings.Contains(value[i], "*") {
				return false
			}
			continue
		}
		if pattern[i] != value[i] {
			return false
		}
	}

	return true
}

// ValidateRedirectPattern checks a pattern before registration. Wildcard hosts
// must keep a registrable domain to the right of the last wildcard label.
func ValidateRedirectPattern(pattern string) error {
	if pattern == AnyRedirectURI {
		return nil
	}

	u, err := url.Parse(pattern)
	if err != nil {
		return fmt.Errorf("invalid redirect uri %q: %w", pattern, err)
	}

	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("redirect uri %q must be absolute", pattern)
	}

	if u.Fragment != "" {
		return fmt.Errorf("redirect uri %q must not contain a fragment", pattern)
	}

	host := strings.ToLower(u.Hostname())

	if !strings.Contains(host, "*") {
		return nil
	}

	labels := strings.Split(host, ".")
	last := -1

	for i, label := range labels {
		if label == "*" {
			last = i
			continue
		}
		if strings.Contains(label, "*") {
			return fmt.Errorf("redirect uri %q: wildcard must be a whole host label", pattern)
		}
	}

	fixed := strings.Join(labels[last+1:], ".")

	if fixed == "" {
		return errors.New("wildcard redirect uri must include a domain")
	}

	if _, err := publicsuffix.Domain(fixed); err != nil {
		return fmt.Errorf("redirect uri %q: wildcard on public suffix %s", pattern, fixed)
	}

	return nil
}
