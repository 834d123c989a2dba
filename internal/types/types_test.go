package types

import "testing"

func TestNewCandidate(t *testing.T) {
	cand := NewCandidate("203.0.113.7:8080")
	if cand.Address != "203.0.113.7:8080" {
		t.Errorf("Expected address to be kept, got %q", cand.Address)
	}
	if cand.IP != "203.0.113.7" {
		t.Errorf("Expected IP '203.0.113.7', got %q", cand.IP)
	}
}

func TestNewCandidateWithoutPort(t *testing.T) {
	cand := NewCandidate("203.0.113.7")
	if cand.IP != "203.0.113.7" {
		t.Errorf("Expected IP to fall back to the address, got %q", cand.IP)
	}
}

func TestProtocolValid(t *testing.T) {
	for _, proto := range AllProtocols {
		if !proto.Valid() {
			t.Errorf("Expected %q to be valid", proto)
		}
	}
	if Protocol("https").Valid() {
		t.Error("Expected 'https' to be invalid")
	}
	if Protocol("").Valid() {
		t.Error("Expected empty protocol to be invalid")
	}
}

func TestAnonymityHidden(t *testing.T) {
	cases := []struct {
		level  AnonymityLevel
		hidden bool
	}{
		{AnonymityTransparent, false},
		{AnonymityAnonymous, true},
		{AnonymityElite, true},
		{AnonymityLevel(""), false},
	}

	for _, tc := range cases {
		if got := tc.level.Hidden(); got != tc.hidden {
			t.Errorf("Hidden() for %q = %v, want %v", tc.level, got, tc.hidden)
		}
	}
}

func TestCheckedProxySupports(t *testing.T) {
	cp := &CheckedProxy{
		Candidate: NewCandidate("203.0.113.7:8080"),
		Protocols: []Protocol{ProtocolHTTP, ProtocolSOCKS5},
	}

	if !cp.Supports(ProtocolHTTP) {
		t.Error("Expected HTTP to be supported")
	}
	if !cp.Supports(ProtocolSOCKS5) {
		t.Error("Expected SOCKS5 to be supported")
	}
	if cp.Supports(ProtocolSOCKS4) {
		t.Error("Expected SOCKS4 to be unsupported")
	}
}

func TestWorkingPercent(t *testing.T) {
	s := ProtocolStats{Checked: 200, Working: 50}
	if got := s.WorkingPercent(); got != 25.0 {
		t.Errorf("WorkingPercent() = %v, want 25.0", got)
	}

	var empty ProtocolStats
	if got := empty.WorkingPercent(); got != 0 {
		t.Errorf("WorkingPercent() on empty stats = %v, want 0", got)
	}
}
