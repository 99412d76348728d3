// internal/netimport/guard.go
package netimport

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/FairForge/corkboard/internal/logging"
	"github.com/FairForge/corkboard/internal/metrics"
	"go.uber.org/zap"
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Approval is a URL the guard allowed, together with the addresses it was
// checked against. Fetches connect to exactly these addresses.
type Approval struct {
	URL   *url.URL
	Host  string
	Port  string
	Addrs []netip.Addr
}

func (a *Approval) String() string { return a.URL.String() }

// Guard validates outbound URLs before any connection is made
type Guard struct {
	policy   *Policy
	resolver Resolver
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// GuardOption configures a Guard
type GuardOption func(*Guard)

// WithResolver replaces the system resolver
func WithResolver(r Resolver) GuardOption {
	return func(g *Guard) {
		g.resolver = r
	}
}

// WithGuardLogger sets the logger
func WithGuardLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = l
	}
}

// WithGuardMetrics counts rejections by reason
func WithGuardMetrics(c *metrics.Collector) GuardOption {
	return func(g *Guard) {
		g.metrics = c
	}
}

// NewGuard creates a URL guard for policy
func NewGuard(policy *Policy, opts ...GuardOption) *Guard {
	g := &Guard{
		policy:   policy,
		resolver: net.DefaultResolver,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate checks raw against the policy. Rules are applied in order and
// the first violation is returned as a *RejectedError.
func (g *Guard) Validate(ctx context.Context, raw string) (*Approval, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, g.reject(ctx, raw, ReasonInvalidURL, err.Error())
	}
	return g.validate(ctx, u)
}

func (g *Guard) validate(ctx context.Context, u *url.URL) (*Approval, error) {
	raw := u.Redacted()
	if !u.IsAbs() {
		return nil, g.reject(ctx, raw, ReasonInvalidURL, "missing scheme")
	}

	scheme := strings.ToLower(u.Scheme)
	if !g.policy.schemeAllowed(scheme) {
		return nil, g.reject(ctx, raw, ReasonSchemeNotAllowed, scheme)
	}
	if u.Hostname() == "" {
		return nil, g.reject(ctx, raw, ReasonInvalidURL, "missing host")
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	literal, literalErr := netip.ParseAddr(host)
	isLiteral := literalErr == nil
	if g.policy.hostnameBlocked(host) {
		return nil, g.reject(ctx, raw, ReasonLoopback, host)
	}
	if isLiteral && (literal.Unmap().IsLoopback() || literal.Unmap().IsUnspecified()) {
		return nil, g.reject(ctx, raw, ReasonLoopback, host)
	}

	var addrs []netip.Addr
	if isLiteral {
		addrs = []netip.Addr{literal}
	} else {
		var err error
		addrs, err = g.resolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return nil, g.reject(ctx, raw, ReasonUnresolvable, err.Error())
		}
		if len(addrs) == 0 {
			return nil, g.reject(ctx, raw, ReasonUnresolvable, "no addresses")
		}
	}

	approved := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		a = a.Unmap().WithZone("")
		if r, blocked := g.policy.blockedBy(a); blocked {
			return nil, g.reject(ctx, raw, ReasonPrivateAddress, a.String()+" in "+r.String())
		}
		approved = append(approved, a)
	}

	port := u.Port()
	if port == "" {
		port = defaultPort(scheme)
	}
	return &Approval{URL: u, Host: host, Port: port, Addrs: approved}, nil
}

func (g *Guard) reject(ctx context.Context, raw string, reason Reason, detail string) error {
	g.metrics.GuardRejected(string(reason))
	logging.FromContext(ctx, g.logger).Warn("url rejected",
		zap.String("url", raw),
		zap.String("reason", string(reason)),
		zap.String("detail", detail))
	return &RejectedError{URL: raw, Reason: reason, Detail: detail}
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

// IsRejected reports whether err came from the guard
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
