package types

import (
	"net"
	"strings"
	"time"
)

// Protocol identifies a proxy protocol a candidate can be probed for.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolSOCKS4 Protocol = "socks4"
	ProtocolSOCKS5 Protocol = "socks5"
)

// AllProtocols lists every protocol the checker understands, in the order
// they are reported.
var AllProtocols = []Protocol{ProtocolHTTP, ProtocolSOCKS4, ProtocolSOCKS5}

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolHTTP, ProtocolSOCKS4, ProtocolSOCKS5:
		return true
	}
	return false
}

// Outcome is the terminal state of a single (candidate, protocol) probe.
// Failed and TimedOut are treated identically downstream but kept distinct
// for diagnostics.
type Outcome string

const (
	OutcomeWorking  Outcome = "working"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimedOut Outcome = "timed-out"
)

// Candidate is an unverified ip:port pair extracted from a source.
// Immutable once created; identity is the Address string.
type Candidate struct {
	Address string // "ip:port"
	IP      string // ip only
}

// NewCandidate builds a Candidate from an "ip:port" string. The extractor
// guarantees the format, so a missing colon just leaves IP equal to Address.
func NewCandidate(address string) Candidate {
	ip := address
	if host, _, err := net.SplitHostPort(address); err == nil {
		ip = host
	} else if i := strings.IndexByte(address, ':'); i >= 0 {
		ip = address[:i]
	}
	return Candidate{Address: address, IP: ip}
}

// Echo is the client metadata a judge endpoint observed: the source IP of
// the request it received and the headers that arrived with it.
type Echo struct {
	Origin  string            `json:"origin"`
	Headers map[string]string `json:"headers"`
}

// ProtocolResult associates a candidate with the outcome of one protocol
// probe. Created by the checker, consumed once by the pipeline. Echo is set
// only when a working probe produced a parseable judge response.
type ProtocolResult struct {
	Candidate Candidate
	Protocol  Protocol
	Outcome   Outcome
	LatencyMs int64
	Error     string
	Echo      *Echo
}

// AnonymityLevel classifies what a working HTTP proxy reveals to the target.
// The empty string means the level was never evaluated, which is distinct
// from Transparent.
type AnonymityLevel string

const (
	AnonymityTransparent AnonymityLevel = "transparent"
	AnonymityAnonymous   AnonymityLevel = "anonymous"
	AnonymityElite       AnonymityLevel = "elite"
)

// Hidden reports whether the level qualifies for the anonymous output
// categories.
func (a AnonymityLevel) Hidden() bool {
	return a == AnonymityAnonymous || a == AnonymityElite
}

// GeoInfo holds best-effort exit-node location data. A nil *GeoInfo means
// the lookup was skipped or failed; empty fields mean the service had no
// data for that field.
type GeoInfo struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// CheckedProxy is the terminal aggregate for one candidate: the protocols it
// works for plus optional enrichment. Assembled incrementally by the
// pipeline and written exactly once per qualifying output category.
type CheckedProxy struct {
	Candidate Candidate
	Protocols []Protocol
	Anonymity AnonymityLevel
	Geo       *GeoInfo
	LatencyMs int64 // best observed latency across working protocols
}

// Supports reports whether the proxy worked for the given protocol.
func (c *CheckedProxy) Supports(p Protocol) bool {
	for _, have := range c.Protocols {
		if have == p {
			return true
		}
	}
	return false
}

// Proxy is the snapshot/API view of a verified proxy.
type Proxy struct {
	Address   string    `json:"address"`
	Protocol  string    `json:"protocol"`
	Anonymity string    `json:"anonymity,omitempty"`
	Country   string    `json:"country,omitempty"`
	Region    string    `json:"region,omitempty"`
	City      string    `json:"city,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	LastCheck time.Time `json:"last_check"`
}

// ProtocolStats counts probe outcomes for one protocol within a run.
type ProtocolStats struct {
	Checked  int `json:"checked"`
	Working  int `json:"working"`
	Failed   int `json:"failed"`
	TimedOut int `json:"timed_out"`
}

// WorkingPercent is Working over Checked, 0 when nothing was checked.
func (s ProtocolStats) WorkingPercent() float64 {
	if s.Checked == 0 {
		return 0
	}
	return float64(s.Working) / float64(s.Checked) * 100.0
}

// SourceStat records the result of fetching one source.
type SourceStat struct {
	URL        string `json:"url"`
	Protocol   string `json:"protocol"`
	Candidates int    `json:"candidates"`
	Error      string `json:"error,omitempty"`
}

// Stats summarizes a completed pipeline run.
type Stats struct {
	SourcesTotal  int                      `json:"sources_total"`
	SourcesFailed int                      `json:"sources_failed"`
	Candidates    int                      `json:"candidates"`
	Protocols     map[string]ProtocolStats `json:"protocols"`
	TotalWorking  int                      `json:"total_working"`
	GeoResolved   int                      `json:"geo_resolved"`
	DurationMs    int64                    `json:"duration_ms"`
	LastRunTime   time.Time                `json:"last_run_time"`
	Sources       []SourceStat             `json:"sources,omitempty"`
}

// Snapshot is a point-in-time view of verified proxies plus the stats of
// the run that produced them.
type Snapshot struct {
	Proxies []Proxy   `json:"proxies"`
	Stats   Stats     `json:"stats"`
	Updated time.Time `json:"updated"`
}
