// internal/netimport/policy.go
package netimport

import (
	"net/netip"
	"strings"
	"time"

	"github.com/FairForge/corkboard/internal/config"
)

// Policy is the immutable set of rules applied to outbound image fetches
type Policy struct {
	AllowedSchemes   []string
	BlockedHostnames []string
	BlockedRanges    []netip.Prefix
	Timeout          time.Duration
	MaxBytes         int64
	RatePerSecond    float64
	Burst            int
	PageHosts        []string
}

// NewPolicy builds a Policy from fetch configuration
func NewPolicy(cfg config.FetchConfig) (*Policy, error) {
	ranges, err := cfg.Prefixes()
	if err != nil {
		return nil, err
	}
	return &Policy{
		AllowedSchemes:   lowerAll(cfg.AllowedSchemes),
		BlockedHostnames: lowerAll(cfg.BlockedHostnames),
		BlockedRanges:    ranges,
		Timeout:          cfg.Timeout,
		MaxBytes:         cfg.MaxBytes,
		RatePerSecond:    cfg.RatePerSecond,
		Burst:            cfg.Burst,
		PageHosts:        lowerAll(cfg.PageHosts),
	}, nil
}

// DefaultPolicy returns the policy for the built-in configuration
func DefaultPolicy() *Policy {
	p, err := NewPolicy(config.Default().Fetch)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Policy) schemeAllowed(scheme string) bool {
	for _, s := range p.AllowedSchemes {
		if s == scheme {
			return true
		}
	}
	return false
}

func (p *Policy) hostnameBlocked(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	for _, h := range p.BlockedHostnames {
		if h == host {
			return true
		}
	}
	return false
}

// blockedBy returns the first blocked range containing addr
func (p *Policy) blockedBy(addr netip.Addr) (netip.Prefix, bool) {
	addr = addr.Unmap()
	for _, r := range p.BlockedRanges {
		if r.Contains(addr) {
			return r, true
		}
	}
	return netip.Prefix{}, false
}

// isPageHost reports whether host serves HTML pages wrapping the image
func (p *Policy) isPageHost(host string) bool {
	for _, ph := range p.PageHosts {
		if host == ph || strings.HasSuffix(host, "."+ph) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
