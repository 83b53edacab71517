package gitcache

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// sshShorthandRe matches SSH shorthand like git@github.com:owner/repo.git.
var sshShorthandRe = regexp.MustCompile(`^([^@]+)@([^:]+):(.+)$`)

// Normalized is a git repository URL canonicalized for both network access
// and on-disk keying.
type Normalized struct {
	// URL is the canonical form passed to `git clone`/`git fetch`.
	URL string
	// PathKey is the host/owner/repo form used to key the git/ subtree
	// (§6: "repository values are URLs normalized to a host/path form used
	// for the git/ subtree key"). This implementation picks lowercased
	// host + full path (path case kept), .git-suffix stripped, as its one
	// documented choice
	// per §9's open question on cross-implementation interop.
	PathKey string
}

// NormalizeURL canonicalizes a git remote URL for both deduplication and
// git/ subtree keying, and rejects URLs that would target loopback/private
// infrastructure (SSRF hardening — a git dependency URL is as much
// attacker-controlled input as any other URL a dependency manifest names).
func NormalizeURL(raw string) (Normalized, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Normalized{}, fmt.Errorf("empty repository URL")
	}
	if strings.HasPrefix(raw, "-") {
		return Normalized{}, fmt.Errorf("invalid repository URL: must not start with '-'")
	}

	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "file://") {
		return Normalized{}, fmt.Errorf("file:// repository URLs are not supported")
	}
	if strings.HasPrefix(lower, "git://") {
		return Normalized{}, fmt.Errorf("git:// repository URLs are not supported")
	}

	var scheme, host, path string

	if m := sshShorthandRe.FindStringSubmatch(raw); m != nil {
		scheme = "ssh"
		host = strings.ToLower(m[2])
		path = strings.TrimSuffix(m[3], ".git")
		path = strings.TrimRight(strings.TrimPrefix(path, "/"), "/")
	} else {
		parsed, err := url.Parse(raw)
		if err != nil {
			return Normalized{}, fmt.Errorf("invalid repository URL: %w", err)
		}
		scheme = strings.ToLower(parsed.Scheme)
		if scheme != "https" && scheme != "http" && scheme != "ssh" {
			return Normalized{}, fmt.Errorf("unsupported repository URL scheme: %s", scheme)
		}
		host = strings.ToLower(parsed.Hostname())
		if host == "" {
			return Normalized{}, fmt.Errorf("repository URL missing hostname")
		}
		path = strings.TrimSuffix(parsed.Path, ".git")
		path = strings.TrimRight(strings.TrimPrefix(path, "/"), "/")
	}

	if isPrivateHost(host) {
		return Normalized{}, fmt.Errorf("repository host %q resolves to a private/internal address", host)
	}

	canonical := fmt.Sprintf("%s://%s/%s", scheme, host, path)
	pathKey := host
	if path != "" {
		pathKey = host + "/" + path
	}

	return Normalized{URL: canonical, PathKey: pathKey}, nil
}

func isPrivateHost(host string) bool {
	switch host {
	case "localhost", "metadata.google.internal":
		return true
	}

	ips, err := net.DefaultResolver.LookupHost(context.Background(), host)
	if err != nil {
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return isPrivateIP(ip)
	}

	for _, ipStr := range ips {
		if ip := net.ParseIP(ipStr); ip != nil && isPrivateIP(ip) {
			return true
		}
	}
	return false
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
