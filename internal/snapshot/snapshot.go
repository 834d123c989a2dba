package snapshot

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proxy-scraper-checker/internal/storage"
	"github.com/proxy-scraper-checker/internal/types"
	log "github.com/sirupsen/logrus"
)

// staleAfter is how long a persisted proxy stays usable across restarts.
const staleAfter = time.Hour

// Manager holds the latest snapshot behind an atomic pointer so API reads
// never block a running check cycle, and persists it to storage in the
// background.
type Manager struct {
	current   atomic.Value // stores *types.Snapshot
	storage   storage.Storage
	persistMu sync.Mutex
	rrIndex   atomic.Uint64

	persistInterval time.Duration
	stopPersist     chan struct{}
}

func NewManager(store storage.Storage, persistIntervalSeconds int) *Manager {
	m := &Manager{
		storage:         store,
		persistInterval: time.Duration(persistIntervalSeconds) * time.Second,
		stopPersist:     make(chan struct{}),
	}

	m.current.Store(&types.Snapshot{
		Proxies: []types.Proxy{},
		Updated: time.Now(),
	})

	if persistIntervalSeconds > 0 {
		go m.periodicPersist()
	}

	return m
}

// Update atomically swaps the current snapshot and persists it.
func (m *Manager) Update(snap *types.Snapshot) {
	m.current.Store(snap)
	log.Infof("Snapshot updated: %d proxy entries", len(snap.Proxies))

	go m.persist(snap)
}

// Get returns the current snapshot (atomic read).
func (m *Manager) Get() *types.Snapshot {
	return m.current.Load().(*types.Snapshot)
}

// Select returns up to n proxies matching the protocol and anonymity
// filters; empty filter strings match everything and n <= 0 returns every
// match. Small selections rotate round-robin so repeated single-proxy
// requests spread across the pool, larger ones are randomly sampled.
func (m *Manager) Select(protocol, anonymity string, n int) []types.Proxy {
	matched := m.filter(protocol, anonymity)
	total := len(matched)

	if total == 0 {
		return []types.Proxy{}
	}
	if n <= 0 || n > total {
		n = total
	}

	result := make([]types.Proxy, n)

	if n <= 10 {
		startIdx := int(m.rrIndex.Add(uint64(n)) % uint64(total))
		for i := 0; i < n; i++ {
			result[i] = matched[(startIdx+i)%total]
		}
		return result
	}

	indices := rand.Perm(total)
	for i := 0; i < n; i++ {
		result[i] = matched[indices[i]]
	}

	return result
}

func (m *Manager) filter(protocol, anonymity string) []types.Proxy {
	snap := m.Get()
	matched := make([]types.Proxy, 0, len(snap.Proxies))
	for _, p := range snap.Proxies {
		if protocol != "" && p.Protocol != protocol {
			continue
		}
		if anonymity != "" && p.Anonymity != anonymity {
			continue
		}
		matched = append(matched, p)
	}
	return matched
}

// GetStats returns the statistics of the run that produced the current
// snapshot.
func (m *Manager) GetStats() types.Stats {
	return m.Get().Stats
}

// persist saves the snapshot to storage, serialized so overlapping triggers
// cannot interleave writes.
func (m *Manager) persist(snap *types.Snapshot) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if err := m.storage.Save(snap); err != nil {
		log.Errorf("Failed to persist snapshot: %v", err)
	} else {
		log.Debugf("Snapshot persisted: %d proxy entries", len(snap.Proxies))
	}
}

func (m *Manager) periodicPersist() {
	ticker := time.NewTicker(m.persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.persist(m.Get())
		case <-m.stopPersist:
			return
		}
	}
}

// LoadFromStorage restores the last saved snapshot, dropping entries whose
// last check is older than staleAfter.
func (m *Manager) LoadFromStorage() error {
	snap, err := m.storage.Load()
	if err != nil {
		return err
	}

	if snap != nil {
		fresh := make([]types.Proxy, 0, len(snap.Proxies))
		cutoff := time.Now().Add(-staleAfter)

		for _, p := range snap.Proxies {
			if p.LastCheck.After(cutoff) {
				fresh = append(fresh, p)
			}
		}

		if len(fresh) > 0 {
			addrs := make(map[string]struct{}, len(fresh))
			for _, p := range fresh {
				addrs[p.Address] = struct{}{}
			}
			snap.Proxies = fresh
			snap.Stats.TotalWorking = len(addrs)
			m.current.Store(snap)
			log.Infof("Loaded %d fresh proxy entries from storage", len(fresh))
			return nil
		}
	}

	log.Info("No fresh proxies in storage")
	return nil
}

// Close stops background persistence and saves one final snapshot.
func (m *Manager) Close() {
	close(m.stopPersist)
	m.persist(m.Get())
}
