package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proxy-scraper-checker/internal/aggregator"
	"github.com/proxy-scraper-checker/internal/checker"
	"github.com/proxy-scraper-checker/internal/config"
	"github.com/proxy-scraper-checker/internal/geo"
	"github.com/proxy-scraper-checker/internal/metrics"
	"github.com/proxy-scraper-checker/internal/types"
	"github.com/proxy-scraper-checker/internal/writer"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrBusy is returned by Run when a cycle is already in flight.
	ErrBusy = errors.New("check cycle already running")

	// ErrWrite marks a failure to append results to the output files. A run
	// aborted by ErrWrite left the output incomplete, so callers should treat
	// it as fatal instead of retrying on the next interval.
	ErrWrite = errors.New("write results")
)

// Pipeline runs one full cycle: aggregate candidates, probe them per
// protocol, classify anonymity, resolve geolocation and append the results
// to the output files.
type Pipeline struct {
	cfg     *config.Config
	metrics *metrics.Collector
	agg     *aggregator.Aggregator
	chk     *checker.Checker
	geo     *geo.Client
	writer  *writer.Writer

	running atomic.Bool
}

// task is one (candidate, protocol) probe to perform.
type task struct {
	cand  types.Candidate
	proto types.Protocol
}

func New(cfg *config.Config, collector *metrics.Collector, w *writer.Writer) (*Pipeline, error) {
	agg, err := aggregator.NewAggregator(cfg.Aggregator, collector)
	if err != nil {
		return nil, fmt.Errorf("init aggregator: %w", err)
	}

	p := &Pipeline{
		cfg:     cfg,
		metrics: collector,
		agg:     agg,
		chk:     checker.NewChecker(cfg.Checker, collector),
		writer:  w,
	}
	if cfg.Geo.Enabled {
		p.geo = geo.NewClient(cfg.Geo)
	}
	return p, nil
}

// Running reports whether a cycle is currently in flight.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run executes one complete cycle and returns the snapshot it produced.
// Only one cycle may run at a time; concurrent calls get ErrBusy.
func (p *Pipeline) Run(ctx context.Context) (*types.Snapshot, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer p.running.Store(false)

	start := time.Now()
	log.Info("Starting check cycle")

	if d := p.cfg.Run.DeadlineSeconds; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(d)*time.Second)
		defer cancel()
	}

	realIP := ""
	if ip, err := p.chk.DiscoverRealIP(ctx); err != nil {
		log.Warnf("Real IP discovery failed: %v (anonymity will not be evaluated)", err)
	} else {
		realIP = ip
		log.Infof("Real IP discovered: %s", realIP)
	}

	candidates, sourceStats, err := p.agg.Aggregate(ctx)
	if err != nil {
		p.metrics.RecordRun("failed")
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	totalCandidates := 0
	for _, list := range candidates {
		totalCandidates += len(list)
	}

	tasks := buildTasks(candidates, p.cfg.Checker.CrossProtocol)
	log.Infof("Aggregated %d candidates from %d sources (%d probe tasks)",
		totalCandidates, len(sourceStats), len(tasks))
	if len(tasks) == 0 {
		log.Warn("No candidates to check")
	}

	var results []types.ProtocolResult
	if p.cfg.Checker.EnableFastFilter && len(tasks) > 0 {
		tasks, results = p.fastFilter(ctx, tasks)
	}
	results = append(results, p.runChecks(ctx, tasks)...)

	working, echoes := mergeResults(results)

	for _, cp := range working {
		echo := echoes[cp.Candidate.Address]
		if realIP == "" || echo == nil {
			continue
		}
		cp.Anonymity = checker.ClassifyAnonymity(echo, realIP)
		p.metrics.RecordAnonymity(string(cp.Anonymity))
	}

	geoResolved := 0
	if p.geo != nil && len(working) > 0 {
		log.Infof("Resolving geolocation for %d proxies", len(working))
		for _, cp := range working {
			if ctx.Err() != nil {
				log.Warn("Geolocation pass aborted: run deadline exceeded")
				break
			}
			info, err := p.geo.Lookup(ctx, cp.Candidate.IP)
			if err != nil {
				p.metrics.RecordGeoLookup("error")
				log.Debugf("Geo lookup failed for %s: %v", cp.Candidate.IP, err)
				continue
			}
			p.metrics.RecordGeoLookup("success")
			cp.Geo = info
			geoResolved++
		}
	}

	linesBefore := p.writer.Counts()
	for _, cp := range working {
		if err := p.writer.Write(cp); err != nil {
			p.metrics.RecordRun("write_failed")
			return nil, fmt.Errorf("%w: %s: %v", ErrWrite, cp.Candidate.Address, err)
		}
	}
	for category, n := range p.writer.Counts() {
		if d := n - linesBefore[category]; d > 0 {
			p.metrics.RecordLinesWritten(category, d)
		}
	}

	protoStats := make(map[string]types.ProtocolStats, len(types.AllProtocols))
	for _, r := range results {
		s := protoStats[string(r.Protocol)]
		s.Checked++
		switch r.Outcome {
		case types.OutcomeWorking:
			s.Working++
		case types.OutcomeTimedOut:
			s.TimedOut++
		default:
			s.Failed++
		}
		protoStats[string(r.Protocol)] = s
	}

	workingByProto := make(map[types.Protocol]int)
	for _, cp := range working {
		for _, proto := range cp.Protocols {
			workingByProto[proto]++
		}
	}
	for _, proto := range types.AllProtocols {
		p.metrics.SetWorkingProxies(string(proto), workingByProto[proto])
		if s, ok := protoStats[string(proto)]; ok {
			log.Infof("Protocol %s: %d working, %d failed, %d timed out of %d checked (%.1f%% working)",
				proto, s.Working, s.Failed, s.TimedOut, s.Checked, s.WorkingPercent())
		}
	}

	sourcesFailed := 0
	for _, ss := range sourceStats {
		if ss.Error != "" {
			sourcesFailed++
		}
	}

	now := time.Now()
	stats := types.Stats{
		SourcesTotal:  len(sourceStats),
		SourcesFailed: sourcesFailed,
		Candidates:    totalCandidates,
		Protocols:     protoStats,
		TotalWorking:  len(working),
		GeoResolved:   geoResolved,
		DurationMs:    time.Since(start).Milliseconds(),
		LastRunTime:   now,
		Sources:       sourceStats,
	}

	p.metrics.RecordRun("ok")
	p.metrics.RecordRunDuration(time.Since(start).Seconds())

	log.Infof("Check cycle complete: %d working proxies, %d geo-resolved in %v",
		len(working), geoResolved, time.Since(start))

	return &types.Snapshot{
		Proxies: snapshotProxies(working, now),
		Stats:   stats,
		Updated: now,
	}, nil
}

// fastFilter drops tasks whose address refuses a plain TCP connection and
// records each dropped task as a failed probe.
func (p *Pipeline) fastFilter(ctx context.Context, tasks []task) ([]task, []types.ProtocolResult) {
	filterStart := time.Now()

	seen := make(map[string]struct{}, len(tasks))
	addresses := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.cand.Address]; ok {
			continue
		}
		seen[t.cand.Address] = struct{}{}
		addresses = append(addresses, t.cand.Address)
	}

	passed := checker.FastConnectFilter(ctx, addresses,
		p.cfg.Checker.FastFilterTimeoutMs, p.cfg.Checker.FastFilterConcurrency)
	passedSet := make(map[string]struct{}, len(passed))
	for _, addr := range passed {
		passedSet[addr] = struct{}{}
	}

	kept := make([]task, 0, len(tasks))
	var dropped []types.ProtocolResult
	for _, t := range tasks {
		if _, ok := passedSet[t.cand.Address]; ok {
			kept = append(kept, t)
			continue
		}
		p.metrics.RecordCheck(string(t.proto), string(types.OutcomeFailed))
		dropped = append(dropped, types.ProtocolResult{
			Candidate: t.cand,
			Protocol:  t.proto,
			Outcome:   types.OutcomeFailed,
			Error:     "connect filter: no TCP connection",
		})
	}

	log.Infof("Fast filter complete: %d/%d addresses connectable in %v",
		len(passed), len(addresses), time.Since(filterStart))
	return kept, dropped
}

// runChecks probes every task through a bounded worker pool. When the run
// deadline expires, tasks not yet submitted are recorded as timed out
// without being probed.
func (p *Pipeline) runChecks(ctx context.Context, tasks []task) []types.ProtocolResult {
	if len(tasks) == 0 {
		return nil
	}

	concurrency := p.cfg.Checker.Concurrency
	if concurrency > len(tasks) {
		concurrency = len(tasks)
	}
	log.Infof("Checking %d candidate/protocol pairs with concurrency %d", len(tasks), concurrency)

	var (
		mu      sync.Mutex
		results = make([]types.ProtocolResult, 0, len(tasks))
		wg      sync.WaitGroup
		sem     = make(chan struct{}, concurrency)
		done    atomic.Int64
	)

	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-progressDone:
				return
			case <-ticker.C:
				log.Infof("Check progress: %d/%d", done.Load(), len(tasks))
			}
		}
	}()

submit:
	for i, t := range tasks {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, rest := range tasks[i:] {
				p.metrics.RecordCheck(string(rest.proto), string(types.OutcomeTimedOut))
				results = append(results, types.ProtocolResult{
					Candidate: rest.cand,
					Protocol:  rest.proto,
					Outcome:   types.OutcomeTimedOut,
					Error:     "run deadline exceeded",
				})
			}
			mu.Unlock()
			break submit
		case sem <- struct{}{}:
			wg.Add(1)
			go func(t task) {
				defer wg.Done()
				defer func() { <-sem }()
				r := p.chk.Check(ctx, t.cand, t.proto)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
				done.Add(1)
			}(t)
		}
	}

	wg.Wait()
	close(progressDone)
	return results
}

// buildTasks expands the per-protocol candidate lists into probe tasks,
// deduplicating by (address, protocol). With crossProtocol set, every
// candidate is probed for all protocols regardless of which source list it
// came from.
func buildTasks(candidates map[types.Protocol][]types.Candidate, crossProtocol bool) []task {
	seen := make(map[string]struct{})
	var tasks []task

	add := func(cand types.Candidate, proto types.Protocol) {
		key := cand.Address + "|" + string(proto)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		tasks = append(tasks, task{cand: cand, proto: proto})
	}

	for _, proto := range types.AllProtocols {
		for _, cand := range candidates[proto] {
			if crossProtocol {
				for _, target := range types.AllProtocols {
					add(cand, target)
				}
			} else {
				add(cand, proto)
			}
		}
	}
	return tasks
}

// mergeResults folds working probe results into one CheckedProxy per
// address, keeping the best latency and, from HTTP probes only, the judge
// echo for anonymity classification. SOCKS echoes are never kept: anonymity
// is defined by what the judge saw through the HTTP probe, so a proxy that
// works only for SOCKS stays unevaluated.
func mergeResults(results []types.ProtocolResult) ([]*types.CheckedProxy, map[string]*types.Echo) {
	byAddr := make(map[string]*types.CheckedProxy)
	echoes := make(map[string]*types.Echo)
	var order []string

	for _, r := range results {
		if r.Outcome != types.OutcomeWorking {
			continue
		}
		addr := r.Candidate.Address
		cp, ok := byAddr[addr]
		if !ok {
			cp = &types.CheckedProxy{Candidate: r.Candidate, LatencyMs: r.LatencyMs}
			byAddr[addr] = cp
			order = append(order, addr)
		}
		cp.Protocols = append(cp.Protocols, r.Protocol)
		if r.LatencyMs < cp.LatencyMs {
			cp.LatencyMs = r.LatencyMs
		}
		if r.Protocol == types.ProtocolHTTP && r.Echo != nil {
			echoes[addr] = r.Echo
		}
	}

	working := make([]*types.CheckedProxy, 0, len(order))
	for _, addr := range order {
		cp := byAddr[addr]
		sortProtocols(cp.Protocols)
		working = append(working, cp)
	}
	return working, echoes
}

var protocolRank = map[types.Protocol]int{
	types.ProtocolHTTP:   0,
	types.ProtocolSOCKS4: 1,
	types.ProtocolSOCKS5: 2,
}

func sortProtocols(ps []types.Protocol) {
	sort.Slice(ps, func(i, j int) bool { return protocolRank[ps[i]] < protocolRank[ps[j]] })
}

// snapshotProxies flattens merged results into one snapshot row per
// (address, protocol) pair, the shape the API serves and filters on.
func snapshotProxies(working []*types.CheckedProxy, now time.Time) []types.Proxy {
	out := make([]types.Proxy, 0, len(working))
	for _, cp := range working {
		var country, region, city string
		if cp.Geo != nil {
			country, region, city = cp.Geo.Country, cp.Geo.Region, cp.Geo.City
		}
		for _, proto := range cp.Protocols {
			out = append(out, types.Proxy{
				Address:   cp.Candidate.Address,
				Protocol:  string(proto),
				Anonymity: string(cp.Anonymity),
				Country:   country,
				Region:    region,
				City:      city,
				LatencyMs: cp.LatencyMs,
				LastCheck: now,
			})
		}
	}
	return out
}
