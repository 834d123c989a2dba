package aggregator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/proxy-scraper-checker/internal/config"
	"github.com/proxy-scraper-checker/internal/metrics"
	"github.com/proxy-scraper-checker/internal/netutil"
	"github.com/proxy-scraper-checker/internal/types"
	log "github.com/sirupsen/logrus"
)

// maxBodyBytes caps how much of a source document is read.
const maxBodyBytes = 10 * 1024 * 1024

// candidateRegex matches ip:port with strict components: first octet 1-255,
// remaining octets 0-255, port 1-65535 without leading zeros. Alternatives
// are ordered longest-first because the engine picks the first that fits.
var candidateRegex = regexp.MustCompile(
	`(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]\d|[1-9])` +
		`(?:\.(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]\d|\d)){3}` +
		`:` +
		`(?:6553[0-5]|655[0-2]\d|65[0-4]\d{2}|6[0-4]\d{3}|[1-5]\d{4}|[1-9]\d{0,3})`)

type Aggregator struct {
	config  config.AggregatorConfig
	metrics *metrics.Collector
	client  *http.Client
	blocked *netutil.Matcher // nil when range filtering is off
}

// fetchJob pairs one source URL with the protocol its proxies are checked
// for.
type fetchJob struct {
	url      string
	protocol types.Protocol
}

func NewAggregator(cfg config.AggregatorConfig, metricsCollector *metrics.Collector) (*Aggregator, error) {
	a := &Aggregator{
		config:  cfg,
		metrics: metricsCollector,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}

	if cfg.ExcludeReserved || cfg.BlacklistFile != "" {
		cidrs := make([]string, 0)
		if cfg.ExcludeReserved {
			cidrs = append(cidrs, netutil.ReservedRanges()...)
		}
		if cfg.BlacklistFile != "" {
			extra, err := netutil.LoadCIDRFile(cfg.BlacklistFile)
			if err != nil {
				return nil, fmt.Errorf("load blacklist: %w", err)
			}
			log.Infof("Loaded %d CIDR ranges from %s", len(extra), cfg.BlacklistFile)
			cidrs = append(cidrs, extra...)
		}
		matcher, err := netutil.NewMatcher(cidrs)
		if err != nil {
			return nil, fmt.Errorf("build range matcher: %w", err)
		}
		a.blocked = matcher
	}

	return a, nil
}

// Aggregate fetches every enabled source under a bounded pool, extracts
// candidates and deduplicates them per protocol. Individual source failures
// are recorded and skipped; only an empty source configuration is an error.
func (a *Aggregator) Aggregate(ctx context.Context) (map[types.Protocol][]types.Candidate, []types.SourceStat, error) {
	jobs := make([]fetchJob, 0)
	for proto, urls := range a.config.EnabledSources() {
		for _, url := range urls {
			jobs = append(jobs, fetchJob{url: url, protocol: types.Protocol(proto)})
		}
	}

	if len(jobs) == 0 {
		return nil, nil, fmt.Errorf("no enabled sources")
	}

	log.Infof("Fetching from %d sources (concurrency=%d)", len(jobs), a.config.Concurrency)

	type fetchResult struct {
		job        fetchJob
		candidates []string
		err        error
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]fetchResult, 0, len(jobs))
	)
	sem := make(chan struct{}, a.config.Concurrency)

	for _, job := range jobs {
		sem <- struct{}{}
		wg.Add(1)

		go func(job fetchJob) {
			defer wg.Done()
			defer func() { <-sem }()

			startTime := time.Now()
			text, err := a.fetchSource(ctx, job.url)
			duration := time.Since(startTime)

			var candidates []string
			if err != nil {
				log.Warnf("Source %s failed: %v (took %v)", job.url, err, duration)
			} else {
				candidates = ExtractCandidates(text)
				log.Infof("Source %s returned %d candidates (took %v)", job.url, len(candidates), duration)
			}

			a.metrics.RecordCandidatesScraped(job.url, len(candidates))

			mu.Lock()
			results = append(results, fetchResult{job: job, candidates: candidates, err: err})
			mu.Unlock()
		}(job)
	}

	wg.Wait()

	perProtocol := make(map[types.Protocol][]types.Candidate, 3)
	seen := make(map[types.Protocol]map[string]struct{}, 3)
	stats := make([]types.SourceStat, 0, len(results))
	dropped := 0

	for _, res := range results {
		stat := types.SourceStat{
			URL:        res.job.url,
			Protocol:   string(res.job.protocol),
			Candidates: len(res.candidates),
		}
		if res.err != nil {
			stat.Error = res.err.Error()
		}
		stats = append(stats, stat)

		set, ok := seen[res.job.protocol]
		if !ok {
			set = make(map[string]struct{})
			seen[res.job.protocol] = set
		}

		for _, addr := range res.candidates {
			if _, exists := set[addr]; exists {
				continue
			}
			set[addr] = struct{}{}

			cand := types.NewCandidate(addr)
			if a.blocked != nil && a.blocked.ContainsAddr(cand.IP) {
				dropped++
				continue
			}
			perProtocol[res.job.protocol] = append(perProtocol[res.job.protocol], cand)
		}
	}

	total := 0
	for proto, cands := range perProtocol {
		total += len(cands)
		log.Infof("Protocol %s: %d unique candidates", proto, len(cands))
	}
	if dropped > 0 {
		log.Infof("Dropped %d candidates in excluded ranges", dropped)
	}
	a.metrics.SetCandidates(total)

	return perProtocol, stats, nil
}

func (a *Aggregator) fetchSource(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	if a.config.UserAgent != "" {
		req.Header.Set("User-Agent", a.config.UserAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	return string(body), nil
}

// ExtractCandidates scans arbitrary text for ip:port pairs, regardless of
// surrounding HTML, JSON or plain-text punctuation. Matches glued to other
// digits are rejected so digit runs never yield phantom addresses.
func ExtractCandidates(text string) []string {
	locs := candidateRegex.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	out := make([]string, 0, len(locs))
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		if start > 0 && isDigit(text[start-1]) {
			continue
		}
		if end < len(text) && isDigit(text[end]) {
			continue
		}
		out = append(out, text[start:end])
	}
	return out
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
