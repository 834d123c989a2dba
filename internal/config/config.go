package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	Aggregator AggregatorConfig `json:"aggregator"`
	Checker    CheckerConfig    `json:"checker"`
	Geo        GeoConfig        `json:"geo"`
	Output     OutputConfig     `json:"output"`
	Run        RunConfig        `json:"run"`
	API        APIConfig        `json:"api"`
	Storage    StorageConfig    `json:"storage"`
	Metrics    MetricsConfig    `json:"metrics"`
	Logging    LoggingConfig    `json:"logging"`

	mu       sync.RWMutex
	filePath string
}

type AggregatorConfig struct {
	Concurrency     int             `json:"concurrency"`
	TimeoutMs       int             `json:"timeout_ms"`
	UserAgent       string          `json:"user_agent"`
	ExcludeReserved bool            `json:"exclude_reserved"`
	BlacklistFile   string          `json:"blacklist_file"`
	Sources         ProtocolSources `json:"sources"`
}

// ProtocolSources groups source lists by the protocol their proxies are
// checked for.
type ProtocolSources struct {
	HTTP   SourceList `json:"http"`
	SOCKS4 SourceList `json:"socks4"`
	SOCKS5 SourceList `json:"socks5"`
}

type SourceList struct {
	Enabled bool     `json:"enabled"`
	URLs    []string `json:"urls"`
}

func (p ProtocolSources) empty() bool {
	return len(p.HTTP.URLs) == 0 && len(p.SOCKS4.URLs) == 0 && len(p.SOCKS5.URLs) == 0
}

type CheckerConfig struct {
	TimeoutMs             int    `json:"timeout_ms"`
	Concurrency           int    `json:"concurrency"`
	JudgeURL              string `json:"judge_url"`
	CrossProtocol         bool   `json:"cross_protocol"`
	EnableFastFilter      bool   `json:"enable_fast_filter"`
	FastFilterTimeoutMs   int    `json:"fast_filter_timeout_ms"`
	FastFilterConcurrency int    `json:"fast_filter_concurrency"`
}

type GeoConfig struct {
	Enabled            bool   `json:"enabled"`
	APIURL             string `json:"api_url"`
	TimeoutMs          int    `json:"timeout_ms"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
}

// OutputConfig selects the output directory and which of the four result
// categories are written. Leaving every category false enables them all,
// matching the defaults of the original config format.
type OutputConfig struct {
	Path                        string `json:"path"`
	Proxies                     bool   `json:"proxies"`
	ProxiesAnonymous            bool   `json:"proxies_anonymous"`
	ProxiesGeolocation          bool   `json:"proxies_geolocation"`
	ProxiesGeolocationAnonymous bool   `json:"proxies_geolocation_anonymous"`
}

type RunConfig struct {
	IntervalSeconds int `json:"interval_seconds"` // 0 = single run, then exit
	DeadlineSeconds int `json:"deadline_seconds"` // negative disables the global deadline
}

type APIConfig struct {
	Addr               string `json:"addr"`
	APIKeyEnv          string `json:"api_key_env"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	EnableAPIKeyAuth   bool   `json:"enable_api_key_auth"`
	EnableIPRateLimit  bool   `json:"enable_ip_rate_limit"`
}

type StorageConfig struct {
	Type                   string `json:"type"` // "file", "sqlite", "redis"
	Path                   string `json:"path"`
	PersistIntervalSeconds int    `json:"persist_interval_seconds"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	Namespace string `json:"namespace"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// DefaultSources returns the built-in source lists used when the config
// file provides none.
func DefaultSources() ProtocolSources {
	return ProtocolSources{
		HTTP: SourceList{
			Enabled: true,
			URLs: []string{
				"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt",
				"https://raw.githubusercontent.com/jetkai/proxy-list/main/online-proxies/txt/proxies-http.txt",
				"https://raw.githubusercontent.com/ShiftyTR/Proxy-List/master/http.txt",
				"https://api.proxyscrape.com/v2/?request=getproxies&protocol=http&timeout=10000&country=all",
				"https://raw.githubusercontent.com/monosans/proxy-list/main/proxies/http.txt",
			},
		},
		SOCKS4: SourceList{
			Enabled: true,
			URLs: []string{
				"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/socks4.txt",
				"https://raw.githubusercontent.com/ShiftyTR/Proxy-List/master/socks4.txt",
				"https://api.proxyscrape.com/v2/?request=getproxies&protocol=socks4&timeout=10000&country=all",
				"https://raw.githubusercontent.com/monosans/proxy-list/main/proxies/socks4.txt",
			},
		},
		SOCKS5: SourceList{
			Enabled: true,
			URLs: []string{
				"https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/socks5.txt",
				"https://raw.githubusercontent.com/hookzof/socks5_list/master/proxy.txt",
				"https://api.proxyscrape.com/v2/?request=getproxies&protocol=socks5&timeout=10000&country=all",
				"https://raw.githubusercontent.com/monosans/proxy-list/main/proxies/socks5.txt",
			},
		},
	}
}

// Load reads configuration from a JSON file. A missing file is not an
// error: defaults apply, so the binary runs without any config at all.
func Load(filePath string) (*Config, error) {
	var cfg Config
	cfg.filePath = filePath

	data, err := os.ReadFile(filePath)
	switch {
	case os.IsNotExist(err):
		log.Warnf("Config file %s not found, using defaults", filePath)
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	globalConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Aggregator.Concurrency == 0 {
		c.Aggregator.Concurrency = 16
	}
	if c.Aggregator.TimeoutMs == 0 {
		c.Aggregator.TimeoutMs = 15000
	}
	if c.Aggregator.UserAgent == "" {
		c.Aggregator.UserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:102.0) Gecko/20100101 Firefox/102.0"
	}
	if c.Aggregator.Sources.empty() {
		c.Aggregator.Sources = DefaultSources()
	}

	if c.Checker.TimeoutMs == 0 {
		c.Checker.TimeoutMs = 10000
	}
	if c.Checker.Concurrency == 0 {
		c.Checker.Concurrency = 512
	}
	if c.Checker.JudgeURL == "" {
		c.Checker.JudgeURL = "http://httpbin.org/get"
	}
	if c.Checker.FastFilterTimeoutMs == 0 {
		c.Checker.FastFilterTimeoutMs = 1500
	}
	if c.Checker.FastFilterConcurrency == 0 {
		c.Checker.FastFilterConcurrency = 1024
	}

	if c.Geo.APIURL == "" {
		c.Geo.APIURL = "http://ip-api.com/json"
	}
	if c.Geo.TimeoutMs == 0 {
		c.Geo.TimeoutMs = 5000
	}
	if c.Geo.RateLimitPerMinute == 0 {
		c.Geo.RateLimitPerMinute = 45
	}

	if c.Output.Path == "" {
		c.Output.Path = "out"
	}
	// All categories off means the section was omitted: enable everything,
	// the original default.
	if !c.Output.Proxies && !c.Output.ProxiesAnonymous &&
		!c.Output.ProxiesGeolocation && !c.Output.ProxiesGeolocationAnonymous {
		c.Output.Proxies = true
		c.Output.ProxiesAnonymous = true
		c.Output.ProxiesGeolocation = true
		c.Output.ProxiesGeolocationAnonymous = true
	}

	if c.Run.DeadlineSeconds == 0 {
		c.Run.DeadlineSeconds = 600
	}

	if c.API.Addr == "" {
		c.API.Addr = ":8083"
	}
	if c.API.RateLimitPerMinute == 0 {
		c.API.RateLimitPerMinute = 1200
	}

	if c.Storage.Type == "" {
		c.Storage.Type = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/snapshot.json"
	}
	if c.Storage.PersistIntervalSeconds == 0 {
		c.Storage.PersistIntervalSeconds = 300
	}

	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "proxyscraper"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Reload reloads configuration from file.
func (c *Config) Reload() error {
	newCfg, err := Load(c.filePath)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.Aggregator = newCfg.Aggregator
	c.Checker = newCfg.Checker
	c.Geo = newCfg.Geo
	c.Output = newCfg.Output
	c.Run = newCfg.Run
	c.API = newCfg.API
	c.Storage = newCfg.Storage
	c.Metrics = newCfg.Metrics
	c.Logging = newCfg.Logging
	return nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Aggregator.Concurrency < 1 || c.Aggregator.Concurrency > 1024 {
		return fmt.Errorf("aggregator concurrency must be between 1 and 1024")
	}
	if !c.Aggregator.Sources.HTTP.Enabled && !c.Aggregator.Sources.SOCKS4.Enabled &&
		!c.Aggregator.Sources.SOCKS5.Enabled {
		return fmt.Errorf("all source protocols are disabled")
	}
	if c.Checker.Concurrency < 1 || c.Checker.Concurrency > 100000 {
		return fmt.Errorf("checker concurrency must be between 1 and 100000")
	}
	if c.Checker.TimeoutMs < 100 || c.Checker.TimeoutMs > 300000 {
		return fmt.Errorf("checker timeout_ms must be between 100 and 300000")
	}
	if c.Run.IntervalSeconds < 0 {
		return fmt.Errorf("run interval_seconds must not be negative")
	}
	if c.Storage.Type != "file" && c.Storage.Type != "sqlite" && c.Storage.Type != "redis" {
		return fmt.Errorf("storage type must be 'file', 'sqlite', or 'redis'")
	}
	return nil
}

// EnabledSources returns the enabled source lists keyed by protocol name.
func (c *AggregatorConfig) EnabledSources() map[string][]string {
	out := make(map[string][]string, 3)
	if c.Sources.HTTP.Enabled && len(c.Sources.HTTP.URLs) > 0 {
		out["http"] = c.Sources.HTTP.URLs
	}
	if c.Sources.SOCKS4.Enabled && len(c.Sources.SOCKS4.URLs) > 0 {
		out["socks4"] = c.Sources.SOCKS4.URLs
	}
	if c.Sources.SOCKS5.Enabled && len(c.Sources.SOCKS5.URLs) > 0 {
		out["socks5"] = c.Sources.SOCKS5.URLs
	}
	return out
}

// GetGlobal returns the global config instance.
func GetGlobal() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
