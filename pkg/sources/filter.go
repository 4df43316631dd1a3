package sources

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseAddress normalizes a raw proxy address to host:port form,
// preserving user:pass@ credentials when present. Scheme prefixes and
// trailing paths are stripped and the host is lowercased, so the same
// endpoint always normalizes to the same key.
func ParseAddress(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty address")
	}
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
	}
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		s = s[:idx]
	}

	// Passwords may contain '@', so split on the last one.
	var userinfo string
	if idx := strings.LastIndexByte(s, '@'); idx >= 0 {
		userinfo = s[:idx]
		s = s[idx+1:]
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %v", raw, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 1 || portNum > 65535 {
		return "", fmt.Errorf("invalid port in %q", raw)
	}
	host = strings.ToLower(host)

	hostport := net.JoinHostPort(host, port)
	if userinfo != "" {
		return userinfo + "@" + hostport, nil
	}
	return hostport, nil
}

// Filter applies the structural acceptance rules to normalized
// addresses: an allowed port, no private or otherwise unroutable IP
// literal, and no known CDN prefix.
type Filter struct {
	allowedPorts map[int]bool
	cdnPrefixes  []string
}

// NewFilter builds a filter from the configured port allowlist and CDN
// prefix exclusion list.
func NewFilter(allowedPorts []int, cdnPrefixes []string) *Filter {
	ports := make(map[int]bool, len(allowedPorts))
	for _, p := range allowedPorts {
		ports[p] = true
	}
	return &Filter{
		allowedPorts: ports,
		cdnPrefixes:  cdnPrefixes,
	}
}

// Accept reports whether address passes the structural rules. The
// address must already be in the form ParseAddress produces.
func (f *Filter) Accept(address string) bool {
	hostport := address
	if idx := strings.LastIndexByte(hostport, '@'); idx >= 0 {
		hostport = hostport[idx+1:]
	}
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || !f.allowedPorts[port] {
		return false
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() {
			return false
		}
		for _, prefix := range f.cdnPrefixes {
			if strings.HasPrefix(host, prefix) {
				return false
			}
		}
	}
	return true
}
