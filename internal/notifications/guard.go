package notifications

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrUnsafeDestination is returned for webhook URLs that are not HTTPS or
// that resolve to an internal address.
var ErrUnsafeDestination = errors.New("unsafe webhook destination")

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Ranges that are never acceptable destinations beyond what the netip
// predicates already cover.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),   // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),    // IETF protocol assignments
	netip.MustParsePrefix("192.0.2.0/24"),    // TEST-NET-1
	netip.MustParsePrefix("198.18.0.0/15"),   // benchmarking
	netip.MustParsePrefix("198.51.100.0/24"), // TEST-NET-2
	netip.MustParsePrefix("203.0.113.0/24"),  // TEST-NET-3
	netip.MustParsePrefix("240.0.0.0/4"),     // reserved, broadcast
	netip.MustParsePrefix("64:ff9b:1::/48"),  // local-use NAT64
	netip.MustParsePrefix("100::/64"),        // discard-only
	netip.MustParsePrefix("2001::/23"),       // IETF protocol assignments
	netip.MustParsePrefix("2001:db8::/32"),   // documentation
}

// URLGuard validates webhook destinations before they are stored or used.
type URLGuard struct {
	resolver Resolver
}

// NewURLGuard creates a guard. A nil resolver uses net.DefaultResolver.
func NewURLGuard(resolver Resolver) *URLGuard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &URLGuard{resolver: resolver}
}

// Validate checks scheme, destination type and every resolved address.
// It returns the resolved destination type.
func (g *URLGuard) Validate(ctx context.Context, rawURL, explicitType string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("%w: webhook URL is required", ErrUnsafeDestination)
	}
	if !strings.HasPrefix(rawURL, "https://") {
		return "", fmt.Errorf("%w: webhook URL must use HTTPS", ErrUnsafeDestination)
	}
	kind, err := ResolveDestination(explicitType, rawURL)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsafeDestination, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: no hostname", ErrUnsafeDestination)
	}

	if err := g.checkHost(ctx, host); err != nil {
		return "", err
	}
	return kind, nil
}

func (g *URLGuard) checkHost(ctx context.Context, host string) error {
	var addrs []netip.Addr
	if ip, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{ip}
	} else {
		addrs, err = g.resolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return fmt.Errorf("%w: failed to resolve %s: %v", ErrUnsafeDestination, host, err)
		}
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s has no addresses", ErrUnsafeDestination, host)
	}
	for _, a := range addrs {
		if !IsPublicAddr(a) {
			return fmt.Errorf("%w: %s resolves to internal address %s", ErrUnsafeDestination, host, a)
		}
	}
	return nil
}

// IsPublicAddr reports whether a is a globally routable unicast address.
func IsPublicAddr(a netip.Addr) bool {
	a = a.Unmap()
	if !a.IsValid() ||
		a.IsUnspecified() ||
		a.IsLoopback() ||
		a.IsPrivate() ||
		a.IsLinkLocalUnicast() ||
		a.IsLinkLocalMulticast() ||
		a.IsInterfaceLocalMulticast() ||
		a.IsMulticast() ||
		!a.IsGlobalUnicast() {
		return false
	}
	for _, p := range blockedPrefixes {
		if p.Contains(a) {
			return false
		}
	}
	return true
}
