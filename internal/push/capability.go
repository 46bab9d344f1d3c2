package push

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Capability is the result of the once-per-session push probe.
type Capability struct {
	// Capable is false when the listener must stay in polling-only mode.
	Capable bool

	// Root is the server root the channel connects to.
	Root string

	// Reason explains a negative result for the log line.
	Reason string
}

// RootURL derives the channel root from the configured API base by
// stripping the API path suffix (e.g. https://host/api -> https://host).
func RootURL(apiBase, suffix string) string {
	root := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	suffix = strings.TrimRight(suffix, "/")
	if suffix != "" && strings.HasSuffix(root, suffix) {
		root = strings.TrimSuffix(root, suffix)
	}
	return root
}

// Probe decides statically whether the backend behind apiBase can hold a
// push connection. A path-relative API base (same-origin proxy) and hosts
// matching any of incapableHosts (glob patterns such as *.vercel.app) are
// push-incapable.
func Probe(apiBase, suffix string, incapableHosts []string) Capability {
	root := RootURL(apiBase, suffix)

	if root == "" || strings.HasPrefix(strings.TrimSpace(apiBase), "/") {
		return Capability{
			Root:   root,
			Reason: "API base is path-relative; push requires an absolute backend URL",
		}
	}

	u, err := url.Parse(root)
	if err != nil || u.Host == "" {
		return Capability{
			Root:   root,
			Reason: fmt.Sprintf("cannot resolve channel root %q", root),
		}
	}

	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return Capability{
			Root:   root,
			Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme),
		}
	}

	host := strings.ToLower(u.Hostname())
	for _, pattern := range incapableHosts {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if hostMatches(pattern, host) {
			return Capability{
				Root:   root,
				Reason: fmt.Sprintf("host %s matches push-incapable pattern %s", host, pattern),
			}
		}
	}

	return Capability{Capable: true, Root: root}
}

// hostMatches applies a glob to a hostname. A leading "*." also matches
// the bare parent domain.
func hostMatches(pattern, host string) bool {
	if ok, _ := path.Match(pattern, host); ok {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		parent := pattern[2:]
		return host == parent || strings.HasSuffix(host, "."+parent)
	}
	return false
}
