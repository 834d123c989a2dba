package checker

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// FastConnectFilter performs a TCP-only connect sweep over candidate
// addresses so obviously dead hosts are dropped before the full protocol
// probes. Returns the set of addresses that accepted a connection.
func FastConnectFilter(ctx context.Context, addresses []string, timeoutMs int, concurrency int) []string {
	if len(addresses) == 0 {
		return addresses
	}

	log.Infof("Starting fast TCP filter: %d addresses, concurrency=%d, timeout=%dms",
		len(addresses), concurrency, timeoutMs)

	startTime := time.Now()
	timeout := time.Duration(timeoutMs) * time.Millisecond

	connectable := make([]string, 0, len(addresses)/5)
	var mu sync.Mutex

	sem := make(chan struct{}, concurrency)

	var completed atomic.Int64
	var successful atomic.Int64

	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-progressDone:
				return
			case <-ticker.C:
				current := completed.Load()
				percent := float64(current) / float64(len(addresses)) * 100.0
				log.Infof("Fast filter progress: %d/%d (%.1f%%), connectable=%d",
					current, len(addresses), percent, successful.Load())
			}
		}
	}()

	var wg sync.WaitGroup

	for _, address := range addresses {
		if ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			if testTCPConnection(addr, timeout) {
				mu.Lock()
				connectable = append(connectable, addr)
				mu.Unlock()
				successful.Add(1)
			}

			completed.Add(1)
		}(address)
	}

	wg.Wait()
	close(progressDone)

	duration := time.Since(startTime)
	filteredOut := len(addresses) - len(connectable)
	filterRate := float64(filteredOut) / float64(len(addresses)) * 100.0

	log.Infof("Fast filter complete: %d/%d connectable (%.1f%% filtered out) in %v",
		len(connectable), len(addresses), filterRate, duration)

	return connectable
}

func testTCPConnection(address string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
