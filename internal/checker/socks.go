package checker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/proxy-scraper-checker/internal/types"
	"golang.org/x/net/proxy"
	"h12.io/socks"
)

// checkSOCKS4 probes a SOCKS4 proxy: connect request plus reply, then a GET
// of the judge endpoint through the tunnel. golang.org/x/net/proxy speaks
// only SOCKS5, so the SOCKS4 handshake comes from h12.io/socks.
func (c *Checker) checkSOCKS4(ctx context.Context, cand types.Candidate, start time.Time) types.ProtocolResult {
	dial := socks.Dial(fmt.Sprintf("socks4://%s?timeout=%s", cand.Address, c.timeout))

	transport := &http.Transport{
		Dial:              dial,
		ForceAttemptHTTP2: false,
		DisableKeepAlives: true,
	}

	return c.probe(ctx, transport, cand, types.ProtocolSOCKS4, start, false)
}

// checkSOCKS5 probes a SOCKS5 proxy: greeting, method negotiation and
// connect are handled by the x/net dialer, then the judge is fetched
// through the tunnel.
func (c *Checker) checkSOCKS5(ctx context.Context, cand types.Candidate, start time.Time) types.ProtocolResult {
	dialer, err := proxy.SOCKS5("tcp", cand.Address, nil, &net.Dialer{
		Timeout: c.timeout,
	})
	if err != nil {
		return c.failure(cand, types.ProtocolSOCKS5, types.OutcomeFailed, fmt.Sprintf("SOCKS5 dialer: %v", err))
	}

	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		DisableKeepAlives: true,
	}
	if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = contextDialer.DialContext
	} else {
		transport.Dial = dialer.Dial
	}

	return c.probe(ctx, transport, cand, types.ProtocolSOCKS5, start, false)
}
