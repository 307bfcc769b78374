// Package policy decides whether a target host may be scanned. A
// policy is either an allow list or a deny list of CIDR blocks; a
// non-empty deny list takes precedence and disables the allow check.
package policy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

var (
	// ErrResolve means the host name could not be resolved to any address.
	ErrResolve = errors.New("host does not resolve")
	// ErrDenied means the resolved target violates the configured policy.
	ErrDenied = errors.New("target is not permitted by network policy")
)

// Resolver resolves host names, net.DefaultResolver compatible.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Policy holds the parsed CIDR rules. The zero value permits
// everything (enforcement disabled).
type Policy struct {
	allow    []netip.Prefix
	deny     []netip.Prefix
	resolver Resolver
}

// Parse builds a Policy from raw CIDR strings. Entries which do not
// parse are dropped, the lenient behavior the configuration contract
// requires, and returned so the caller can log what was lost.
func Parse(allow, deny []string) (Policy, []string) {
	var dropped []string
	parse := func(raw []string) []netip.Prefix {
		var ret []netip.Prefix
		for _, s := range raw {
			prefix, err := netip.ParsePrefix(strings.TrimSpace(s))
			if err != nil {
				dropped = append(dropped, s)
				continue
			}
			ret = append(ret, prefix.Masked())
		}
		return ret
	}
	return Policy{allow: parse(allow), deny: parse(deny)}, dropped
}

// WithResolver returns a copy of p using r for host resolution.
// Intended for tests, the default is net.DefaultResolver.
func (p Policy) WithResolver(r Resolver) Policy {
	p.resolver = r
	return p
}

// IsZero reports whether no rule is configured at all.
func (p Policy) IsZero() bool {
	return len(p.allow) == 0 && len(p.deny) == 0
}

// DenyMode reports whether the deny list is active.
func (p Policy) DenyMode() bool {
	return len(p.deny) > 0
}

// Networks returns the human readable list of the CIDRs the active
// mode checks against, for user facing denial messages.
func (p Policy) Networks() string {
	prefixes := p.allow
	if p.DenyMode() {
		prefixes = p.deny
	}
	items := make([]string, len(prefixes))
	for i, prefix := range prefixes {
		items[i] = prefix.String()
	}
	return strings.Join(items, ", ")
}

// Authorize resolves host and checks every resolved address against
// the policy. In deny mode a single address inside a denied network is
// enough to refuse. In allow mode every resolved address must be
// inside some allowed network. Returns nil, ErrResolve or ErrDenied.
func (p Policy) Authorize(ctx context.Context, host string) error {
	if p.IsZero() {
		return nil
	}

	resolver := p.resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("%q: %w", host, ErrResolve)
	}

	if p.DenyMode() {
		for _, addr := range addrs {
			if containedIn(addr, p.deny) {
				return fmt.Errorf("%q resolves into denied networks [%s]: %w", host, p.Networks(), ErrDenied)
			}
		}
		return nil
	}

	for _, addr := range addrs {
		if !containedIn(addr, p.allow) {
			return fmt.Errorf("%q is outside of allowed networks [%s]: %w", host, p.Networks(), ErrDenied)
		}
	}
	return nil
}

func containedIn(addr netip.Addr, prefixes []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
