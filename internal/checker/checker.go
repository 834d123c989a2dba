package checker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/proxy-scraper-checker/internal/config"
	"github.com/proxy-scraper-checker/internal/metrics"
	"github.com/proxy-scraper-checker/internal/types"
)

// maxEchoBytes caps how much of a judge response is decoded.
const maxEchoBytes = 1 << 20

// Checker probes candidates for HTTP, SOCKS4 and SOCKS5 support. Every
// probe is a single attempt: a failed or timed-out check is final for that
// protocol within the run.
type Checker struct {
	config  config.CheckerConfig
	metrics *metrics.Collector
	timeout time.Duration
}

func NewChecker(cfg config.CheckerConfig, metricsCollector *metrics.Collector) *Checker {
	return &Checker{
		config:  cfg,
		metrics: metricsCollector,
		timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
	}
}

// Check probes one candidate for one protocol and returns its terminal
// outcome. Checks for different protocols and candidates are independent
// and safe to run concurrently.
func (c *Checker) Check(ctx context.Context, cand types.Candidate, protocol types.Protocol) types.ProtocolResult {
	start := time.Now()

	var result types.ProtocolResult
	switch protocol {
	case types.ProtocolHTTP:
		result = c.checkHTTP(ctx, cand, start)
	case types.ProtocolSOCKS4:
		result = c.checkSOCKS4(ctx, cand, start)
	case types.ProtocolSOCKS5:
		result = c.checkSOCKS5(ctx, cand, start)
	default:
		result = types.ProtocolResult{
			Candidate: cand,
			Protocol:  protocol,
			Outcome:   types.OutcomeFailed,
			Error:     fmt.Sprintf("unsupported protocol %q", protocol),
		}
	}

	c.metrics.RecordCheck(string(protocol), string(result.Outcome))
	if result.Outcome == types.OutcomeWorking {
		c.metrics.RecordCheckDuration(float64(result.LatencyMs) / 1000.0)
	}

	return result
}

func (c *Checker) checkHTTP(ctx context.Context, cand types.Candidate, start time.Time) types.ProtocolResult {
	proxyURL, err := url.Parse("http://" + cand.Address)
	if err != nil {
		return c.failure(cand, types.ProtocolHTTP, types.OutcomeFailed, fmt.Sprintf("parse proxy URL: %v", err))
	}

	transport := &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
		DialContext: (&net.Dialer{
			Timeout: c.timeout,
		}).DialContext,
		ForceAttemptHTTP2:   false,
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: c.timeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
	}

	// HTTP probes must yield a parseable echo: anonymity classification
	// depends on it, so a garbled judge response means the check failed.
	return c.probe(ctx, transport, cand, types.ProtocolHTTP, start, true)
}

// probe issues a GET to the judge endpoint through the given transport and
// maps the response onto a terminal outcome. requireEcho demands a
// well-formed echo body for the probe to count as working.
func (c *Checker) probe(ctx context.Context, transport *http.Transport, cand types.Candidate, protocol types.Protocol, start time.Time, requireEcho bool) types.ProtocolResult {
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", c.config.JudgeURL, nil)
	if err != nil {
		return c.failure(cand, protocol, types.OutcomeFailed, fmt.Sprintf("create request: %v", err))
	}

	resp, err := client.Do(req)
	if err != nil {
		return c.failure(cand, protocol, outcomeForError(err), fmt.Sprintf("request: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return c.failure(cand, protocol, types.OutcomeFailed, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	echo, echoErr := ParseEcho(resp.Body)
	if requireEcho && echoErr != nil {
		return c.failure(cand, protocol, types.OutcomeFailed, fmt.Sprintf("echo: %v", echoErr))
	}

	return types.ProtocolResult{
		Candidate: cand,
		Protocol:  protocol,
		Outcome:   types.OutcomeWorking,
		LatencyMs: time.Since(start).Milliseconds(),
		Echo:      echo,
	}
}

func (c *Checker) failure(cand types.Candidate, protocol types.Protocol, outcome types.Outcome, msg string) types.ProtocolResult {
	return types.ProtocolResult{
		Candidate: cand,
		Protocol:  protocol,
		Outcome:   outcome,
		Error:     msg,
	}
}

// outcomeForError distinguishes timeouts from plain failures. Both are
// terminal; the split exists for diagnostics and run statistics.
func outcomeForError(err error) types.Outcome {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.OutcomeTimedOut
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return types.OutcomeTimedOut
	}
	return types.OutcomeFailed
}

// ParseEcho decodes a judge response body. The judge reports the client IP
// it observed plus the request headers it received.
func ParseEcho(r io.Reader) (*types.Echo, error) {
	var echo types.Echo
	dec := json.NewDecoder(io.LimitReader(r, maxEchoBytes))
	if err := dec.Decode(&echo); err != nil {
		return nil, fmt.Errorf("decode echo: %w", err)
	}
	if strings.TrimSpace(echo.Origin) == "" {
		return nil, fmt.Errorf("echo has no origin")
	}
	return &echo, nil
}

// DiscoverRealIP asks the judge for the checking process's own outbound IP
// with no proxy in between. The classifier needs it to tell transparent
// proxies apart.
func (c *Checker) DiscoverRealIP(ctx context.Context) (string, error) {
	client := &http.Client{Timeout: c.timeout}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", c.config.JudgeURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request judge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("judge returned HTTP %d", resp.StatusCode)
	}

	echo, err := ParseEcho(resp.Body)
	if err != nil {
		return "", err
	}

	return FirstIP(echo.Origin), nil
}

// FirstIP extracts the first address from an origin value, which judges may
// report as a comma-separated list.
func FirstIP(origin string) string {
	if i := strings.IndexByte(origin, ','); i >= 0 {
		origin = origin[:i]
	}
	return strings.TrimSpace(origin)
}
