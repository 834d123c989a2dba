package netutil

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ReservedRanges returns the IPv4 ranges that can never host a public
// proxy: private, loopback, link-local, documentation, multicast and
// reserved space.
func ReservedRanges() []string {
	return []string{
		"0.0.0.0/8",          // "This" Network (RFC 1122)
		"10.0.0.0/8",         // Private-Use Networks (RFC 1918)
		"100.64.0.0/10",      // Shared Address Space (RFC 6598)
		"127.0.0.0/8",        // Loopback (RFC 1122)
		"169.254.0.0/16",     // Link Local (RFC 3927)
		"172.16.0.0/12",      // Private-Use Networks (RFC 1918)
		"192.0.0.0/24",       // IETF Protocol Assignments (RFC 6890)
		"192.0.2.0/24",       // Documentation (TEST-NET-1) (RFC 5737)
		"192.168.0.0/16",     // Private-Use Networks (RFC 1918)
		"198.18.0.0/15",      // Benchmarking (RFC 2544)
		"198.51.100.0/24",    // Documentation (TEST-NET-2) (RFC 5737)
		"203.0.113.0/24",     // Documentation (TEST-NET-3) (RFC 5737)
		"224.0.0.0/4",        // Multicast (RFC 3171)
		"240.0.0.0/4",        // Reserved for Future Use (RFC 1112)
		"255.255.255.255/32", // Limited Broadcast (RFC 0919)
	}
}

// Matcher answers membership queries against a fixed set of CIDR ranges.
type Matcher struct {
	nets []*net.IPNet
}

// NewMatcher parses the given CIDR strings into a Matcher.
func NewMatcher(cidrs []string) (*Matcher, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse CIDR %q: %w", cidr, err)
		}
		nets = append(nets, ipNet)
	}
	return &Matcher{nets: nets}, nil
}

// Contains reports whether ip falls inside any of the matcher's ranges.
func (m *Matcher) Contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range m.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ContainsAddr parses a textual IP and reports membership. Unparseable
// input is never a match.
func (m *Matcher) ContainsAddr(addr string) bool {
	return m.Contains(net.ParseIP(addr))
}

// LoadCIDRFile reads CIDR ranges from a file, one per line. Empty lines and
// lines starting with # are skipped; invalid entries are logged and
// skipped.
func LoadCIDRFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blacklist file: %w", err)
	}
	defer file.Close()

	ranges := make([]string, 0)
	scanner := bufio.NewScanner(file)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if _, _, err := net.ParseCIDR(line); err != nil {
			log.Warnf("Invalid CIDR at line %d: %s", lineNum, line)
			continue
		}

		ranges = append(ranges, line)
	}

	if err := scanner.Err(); err != nil {
		return ranges, fmt.Errorf("scan blacklist file: %w", err)
	}

	return ranges, nil
}
