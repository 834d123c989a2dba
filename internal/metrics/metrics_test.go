package metrics

import "testing"

// A nil collector must be a no-op so packages under test can skip metrics
// wiring entirely.
func TestNilCollectorIsNoOp(t *testing.T) {
	var c *Collector

	c.RecordCheck("http", "working")
	c.RecordCheckDuration(0.5)
	c.RecordCandidatesScraped("http://example.com/list.txt", 42)
	c.SetCandidates(42)
	c.SetWorkingProxies("socks5", 7)
	c.RecordAnonymity("elite")
	c.RecordGeoLookup("success")
	c.RecordLinesWritten("proxies", 12)
	c.RecordRun("ok")
	c.RecordRunDuration(30)
	c.RecordAPIRequest("GET", "/get-proxy", "200")
	c.RecordAPIDuration("GET", "/get-proxy", 0.01)
}

// promauto registers against the default registry, so the real collector is
// constructed once and exercised end to end.
func TestCollectorRecords(t *testing.T) {
	c := NewCollector("testns")

	c.RecordCheck("http", "working")
	c.RecordCheck("socks4", "failed")
	c.RecordCheckDuration(1.2)
	c.RecordCandidatesScraped("http://example.com/list.txt", 10)
	c.SetCandidates(10)
	c.SetWorkingProxies("http", 3)
	c.RecordAnonymity("transparent")
	c.RecordGeoLookup("error")
	c.RecordLinesWritten("proxies_anonymous", 5)
	c.RecordRun("ok")
	c.RecordRunDuration(42)
	c.RecordAPIRequest("POST", "/reload", "202")
	c.RecordAPIDuration("POST", "/reload", 0.002)
}
