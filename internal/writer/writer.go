package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/proxy-scraper-checker/internal/config"
	"github.com/proxy-scraper-checker/internal/types"
)

// Output categories. Each is a directory under the output root holding one
// {protocol}.txt per protocol.
const (
	CategoryProxies              = "proxies"
	CategoryAnonymous            = "proxies_anonymous"
	CategoryGeolocation          = "proxies_geolocation"
	CategoryGeolocationAnonymous = "proxies_geolocation_anonymous"
)

// Writer appends verified proxies to their output categories. Appends are
// serialized and each line is written in a single call, so an interrupted
// run never leaves a torn line behind. A write error is fatal to the run:
// losing results silently is worse than stopping.
type Writer struct {
	mu      sync.Mutex
	root    string
	enabled map[string]bool
	files   map[string]*os.File
	written map[string]int
}

func New(cfg config.OutputConfig) (*Writer, error) {
	w := &Writer{
		root: cfg.Path,
		enabled: map[string]bool{
			CategoryProxies:              cfg.Proxies,
			CategoryAnonymous:            cfg.ProxiesAnonymous,
			CategoryGeolocation:          cfg.ProxiesGeolocation,
			CategoryGeolocationAnonymous: cfg.ProxiesGeolocationAnonymous,
		},
		files:   make(map[string]*os.File),
		written: make(map[string]int),
	}

	for category, on := range w.enabled {
		if !on {
			continue
		}
		dir := filepath.Join(w.root, category)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}

	return w, nil
}

// Write appends the proxy to every enabled category it qualifies for, once
// per working protocol. Qualification never fabricates enrichment: no geo
// data means no geolocation line, unevaluated anonymity means no anonymous
// line.
func (w *Writer) Write(p *types.CheckedProxy) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, protocol := range p.Protocols {
		for _, category := range w.qualifying(p) {
			line := formatLine(p, category)
			if err := w.appendLine(category, protocol, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) qualifying(p *types.CheckedProxy) []string {
	categories := make([]string, 0, 4)
	if w.enabled[CategoryProxies] {
		categories = append(categories, CategoryProxies)
	}
	if w.enabled[CategoryAnonymous] && p.Anonymity.Hidden() {
		categories = append(categories, CategoryAnonymous)
	}
	if w.enabled[CategoryGeolocation] && p.Geo != nil {
		categories = append(categories, CategoryGeolocation)
	}
	if w.enabled[CategoryGeolocationAnonymous] && p.Anonymity.Hidden() && p.Geo != nil {
		categories = append(categories, CategoryGeolocationAnonymous)
	}
	return categories
}

func formatLine(p *types.CheckedProxy, category string) string {
	if category == CategoryGeolocation || category == CategoryGeolocationAnonymous {
		return p.Candidate.Address + geoSuffix(p.Geo)
	}
	return p.Candidate.Address
}

// geoSuffix renders "|Country|Region|City" with "?" for fields the lookup
// service had no data for.
func geoSuffix(g *types.GeoInfo) string {
	return "|" + orUnknown(g.Country) + "|" + orUnknown(g.Region) + "|" + orUnknown(g.City)
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func (w *Writer) appendLine(category string, protocol types.Protocol, line string) error {
	key := category + "/" + string(protocol)

	file, ok := w.files[key]
	if !ok {
		path := filepath.Join(w.root, category, string(protocol)+".txt")
		var err error
		file, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		w.files[key] = file
	}

	if _, err := file.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("append to %s: %w", key, err)
	}
	w.written[category]++
	return nil
}

// Counts returns how many lines were appended per category so far.
func (w *Writer) Counts() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]int, len(w.written))
	for category, n := range w.written {
		out[category] = n
	}
	return out
}

// Close flushes and closes every open category file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for key, file := range w.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", key, err)
		}
		delete(w.files, key)
	}
	return firstErr
}
