// internal/netimport/guard_test.go
package netimport

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/FairForge/corkboard/internal/config"
	"github.com/FairForge/corkboard/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver answers from a fixed table; unknown names do not resolve
type fakeResolver struct {
	mu      sync.Mutex
	answers map[string][]netip.Addr
	lookups int
}

func newFakeResolver(answers map[string]string) *fakeResolver {
	r := &fakeResolver{answers: make(map[string][]netip.Addr)}
	for host, addrs := range answers {
		r.set(host, addrs)
	}
	return r
}

func (r *fakeResolver) set(host string, addrs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []netip.Addr
	for _, a := range addrs {
		if a != "" {
			out = append(out, netip.MustParseAddr(a))
		}
	}
	r.answers[host] = out
}

func (r *fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	addrs, ok := r.answers[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func TestGuard_Validate(t *testing.T) {
	resolver := newFakeResolver(map[string]string{
		"example.com":     "93.184.216.34",
		"sneaky.example":  "127.0.0.1",
		"intranet.corp":   "10.20.30.40",
		"empty.example":   "",
		"v6.example":      "2606:2800:220:1:248:1893:25c8:1946",
		"v6local.example": "fd00::1",
	})
	resolver.set("mixed.example", "93.184.216.34", "192.168.1.5")

	guard := NewGuard(DefaultPolicy(), WithResolver(resolver), WithGuardMetrics(metrics.NewCollector()))

	tests := []struct {
		name   string
		url    string
		reason Reason // empty means allowed
	}{
		{"public https", "https://example.com/img.png", ""},
		{"public http with port", "http://example.com:8080/img.png", ""},
		{"case and trailing dot", "HTTPS://Example.COM./a.png", ""},
		{"public ipv6 host", "https://v6.example/a.png", ""},
		{"public literal", "http://93.184.216.34/a.png", ""},
		{"172.32 is public", "http://172.32.0.1/a.png", ""},

		{"cloud metadata", "http://169.254.169.254/latest/meta-data/", ReasonPrivateAddress},
		{"name resolving to loopback", "http://sneaky.example/a.png", ReasonPrivateAddress},
		{"name resolving to private", "http://intranet.corp/a.png", ReasonPrivateAddress},
		{"any blocked answer", "http://mixed.example/a.png", ReasonPrivateAddress},
		{"unique local v6", "http://v6local.example/a.png", ReasonPrivateAddress},
		{"10/8 literal", "http://10.1.2.3/a.png", ReasonPrivateAddress},
		{"172.16/12 literal", "http://172.16.5.4/a.png", ReasonPrivateAddress},
		{"192.168/16 literal", "http://192.168.0.10/a.png", ReasonPrivateAddress},
		{"cgnat literal", "http://100.64.0.1/a.png", ReasonPrivateAddress},
		{"link-local v6 with zone", "http://[fe80::1%25eth0]/a.png", ReasonPrivateAddress},

		{"ftp", "ftp://example.com/img.png", ReasonSchemeNotAllowed},
		{"file", "file:///etc/passwd", ReasonSchemeNotAllowed},
		{"javascript", "javascript://example.com/%0Aalert(1)", ReasonSchemeNotAllowed},

		{"localhost", "http://localhost:8080/a.png", ReasonLoopback},
		{"localhost subdomain", "http://api.localhost/a.png", ReasonLoopback},
		{"configured hostname", "http://ip6-localhost/a.png", ReasonLoopback},
		{"loopback literal", "http://127.0.0.1/a.png", ReasonLoopback},
		{"other loopback literal", "http://127.9.9.9/a.png", ReasonLoopback},
		{"v6 loopback", "http://[::1]/a.png", ReasonLoopback},
		{"mapped loopback", "http://[::ffff:127.0.0.1]/a.png", ReasonLoopback},
		{"unspecified", "http://0.0.0.0/a.png", ReasonLoopback},

		{"unknown host", "http://nowhere.invalid/a.png", ReasonUnresolvable},
		{"empty answer", "http://empty.example/a.png", ReasonUnresolvable},

		{"relative", "images/a.png", ReasonInvalidURL},
		{"no host", "http:///a.png", ReasonInvalidURL},
		{"unparseable", "http://[::1/a.png", ReasonInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := guard.Validate(context.Background(), tt.url)
			if tt.reason == "" {
				require.NoError(t, err)
				require.NotNil(t, a)
				assert.NotEmpty(t, a.Addrs)
				return
			}
			require.Error(t, err)
			assert.Nil(t, a)
			var re *RejectedError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.reason, re.Reason)
			assert.ErrorIs(t, err, reasonErrors[tt.reason])
			assert.True(t, IsRejected(err))
		})
	}
}

func TestGuard_ApprovalCarriesResolvedAddresses(t *testing.T) {
	resolver := newFakeResolver(map[string]string{"example.com": "93.184.216.34"})
	guard := NewGuard(DefaultPolicy(), WithResolver(resolver))

	a, err := guard.Validate(context.Background(), "https://example.com/img.png")
	require.NoError(t, err)
	assert.Equal(t, "example.com", a.Host)
	assert.Equal(t, "443", a.Port)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("93.184.216.34")}, a.Addrs)
	assert.Equal(t, "https://example.com/img.png", a.String())

	a, err = guard.Validate(context.Background(), "http://example.com/img.png")
	require.NoError(t, err)
	assert.Equal(t, "80", a.Port)
}

func TestGuard_LiteralsSkipDNS(t *testing.T) {
	resolver := newFakeResolver(nil)
	guard := NewGuard(DefaultPolicy(), WithResolver(resolver))

	_, err := guard.Validate(context.Background(), "http://93.184.216.34/a.png")
	require.NoError(t, err)
	_, err = guard.Validate(context.Background(), "http://10.0.0.1/a.png")
	require.ErrorIs(t, err, ErrPrivateAddressBlocked)
	assert.Zero(t, resolver.lookups)
}

func TestGuard_SchemeCheckedBeforeHost(t *testing.T) {
	guard := NewGuard(DefaultPolicy(), WithResolver(newFakeResolver(nil)))
	_, err := guard.Validate(context.Background(), "ftp://localhost/a.png")
	assert.ErrorIs(t, err, ErrSchemeNotAllowed)
}

func TestNewPolicy(t *testing.T) {
	cfg := config.Default().Fetch
	cfg.AllowedSchemes = []string{"HTTPS"}
	cfg.PageHosts = []string{" Pinterest.com "}

	p, err := NewPolicy(cfg)
	require.NoError(t, err)
	assert.True(t, p.schemeAllowed("https"))
	assert.False(t, p.schemeAllowed("http"))
	assert.True(t, p.isPageHost("pinterest.com"))
	assert.True(t, p.isPageHost("www.pinterest.com"))
	assert.False(t, p.isPageHost("notpinterest.com"))

	cfg.BlockedRanges = []string{"not-a-cidr"}
	_, err = NewPolicy(cfg)
	assert.Error(t, err)
}

func TestNewPolicy_ConfigCannotUnblockRequiredRanges(t *testing.T) {
	cfg := config.Default().Fetch
	cfg.BlockedRanges = []string{}
	p, err := NewPolicy(cfg)
	require.NoError(t, err)

	resolver := newFakeResolver(map[string]string{
		"meta.example":  "169.254.169.254",
		"intra.example": "172.20.1.1",
		"v6.example":    "fe80::1",
	})
	guard := NewGuard(p, WithResolver(resolver))
	for _, raw := range []string{
		"http://meta.example/latest",
		"http://intra.example/",
		"http://v6.example/",
		"http://10.0.0.5/",
		"http://192.168.0.1/",
		"http://[::1]/",
	} {
		a, err := guard.Validate(context.Background(), raw)
		assert.Nil(t, a, raw)
		assert.True(t, IsRejected(err), raw)
	}
}
