package source

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"clipsafe/internal/services"
)

// Policy decides which links may be fetched.
type Policy struct {
	AllowedDomains    []string
	RestrictedDomains []string
	MaxBytes          int64
	// AllowPrivate disables the private address guard. Tests use it to reach
	// httptest servers on loopback.
	AllowPrivate bool
}

// Validate checks scheme, host and domain lists. It does not touch the
// network.
func (p Policy) Validate(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, invalid("parse url", "the link is not a valid URL", nil)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, invalid("validate url", "only http and https links are supported", nil)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, invalid("validate url", "the link has no host", nil)
	}
	if matchesDomain(host, p.RestrictedDomains) {
		return nil, invalid("validate url", "links to this platform are not supported", nil)
	}
	if len(p.AllowedDomains) > 0 && !matchesDomain(host, p.AllowedDomains) {
		return nil, invalid("validate url", "this domain is not on the allowed list", nil)
	}
	return u, nil
}

// CheckHost resolves host and refuses it when any address is non-public.
func (p Policy) CheckHost(ctx context.Context, resolver *net.Resolver, host string) error {
	if p.AllowPrivate {
		return nil
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if !isPublic(addr) {
			return invalid("check host", "the link points to a private address", nil)
		}
		return nil
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return invalid("check host", "the link's host could not be resolved", nil)
	}
	for _, addr := range addrs {
		if !isPublic(addr) {
			return invalid("check host", "the link points to a private address", nil)
		}
	}
	return nil
}

// matchesDomain reports whether host equals a listed domain or is a
// subdomain of one.
func matchesDomain(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		!addr.IsPrivate() &&
		!addr.IsLoopback() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsInterfaceLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified() &&
		!sharedAddressSpace.Contains(addr)
}

// 100.64.0.0/10 is carrier-grade NAT space, not routable from outside.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

func invalid(op, msg string, err error) error {
	return services.Wrap(services.ErrInvalidParameters, "source", op, msg, err)
}

func sizeError(size, limit int64) error {
	return invalid("check size", fmt.Sprintf("the file is %d MB, over the %d MB limit",
		size/(1024*1024), limit/(1024*1024)), nil)
}
