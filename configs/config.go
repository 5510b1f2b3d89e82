// Package configs loads and validates qenus's on-disk and environment
// configuration: a base YAML document, an ENVIRONMENT-selected overlay
// merged over it via mapstructure, provider API keys loaded from .env via
// godotenv, and an fsnotify watch that reloads and re-validates the base
// config file whenever it or a watched strategy-config path changes. The
// watch reloads through Load alone; the overlay is not re-applied.
package configs

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"qenus"
)

// Mode is the operating mode selected by --mode / ENVIRONMENT.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeTesting     Mode = "testing"
	ModeProduction  Mode = "production"
	ModeDryRun      Mode = "dry_run"
)

// GlobalConfig carries the process-wide settings of spec §6. Durations are
// stored as plain seconds in YAML, the teacher's own convention
// (StrategyYAMLData.MonitoringInterval int `yaml:"monitoringIntervalSec"`,
// converted to time.Duration in ToStrategyConfig) rather than duration
// strings, which gopkg.in/yaml.v3 does not parse into time.Duration.
type GlobalConfig struct {
	Mode                Mode   `yaml:"mode"`
	LogLevel            string `yaml:"log_level"`
	WorkerThreads       int    `yaml:"worker_threads"`
	MaxMemoryMB         int    `yaml:"max_memory_mb"`
	ShutdownTimeoutSecs int    `yaml:"shutdown_timeout_secs"`
}

// ShutdownTimeout converts ShutdownTimeoutSecs to a time.Duration.
func (g GlobalConfig) ShutdownTimeout() time.Duration {
	return time.Duration(g.ShutdownTimeoutSecs) * time.Second
}

// ProviderYAML is the on-disk shape of a ProviderDescriptor (§3). APIKeyEnv
// names the environment variable (conventionally `{PROVIDER}_{CHAIN}_KEY`)
// that supplies the credential; the value itself never lives in YAML.
type ProviderYAML struct {
	Kind         string  `yaml:"kind"`
	Name         string  `yaml:"name"`
	HTTPEndpoint string  `yaml:"http_endpoint"`
	WSEndpoint   string  `yaml:"ws_endpoint"`
	APIKeyEnv    string  `yaml:"api_key_env"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	TimeoutMS    int     `yaml:"timeout_ms"`
	MaxRetries   int     `yaml:"max_retries"`
	Weight       float64 `yaml:"weight"`
	Enabled      bool    `yaml:"enabled"`
}

// Timeout converts TimeoutMS to a time.Duration.
func (p ProviderYAML) Timeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// ChainOptimization is the per-chain slice of the optimization config.
type ChainOptimization struct {
	CacheTTLSecs       int  `yaml:"cache_ttl_secs"`
	BatchSize          int  `yaml:"batch_size"`
	Parallelism        int  `yaml:"parallelism"`
	PredictivePrefetch bool `yaml:"predictive_prefetch"`
}

// CacheTTL converts CacheTTLSecs to a time.Duration.
func (c ChainOptimization) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// ChainConfig is the per-chain configuration block of spec §6.
type ChainConfig struct {
	Enabled       bool              `yaml:"enabled"`
	Confirmations int               `yaml:"confirmations"`
	MaxBlockLag   int               `yaml:"max_block_lag"`
	Contracts     map[string]string `yaml:"contracts"`
	Features      map[string]bool   `yaml:"features"`
	Optimization  ChainOptimization `yaml:"optimization"`
}

// ExtractionKindConfig is the per-feature-kind extraction policy.
type ExtractionKindConfig struct {
	Enabled             bool               `yaml:"enabled"`
	UpdateFrequencySecs int                `yaml:"update_frequency_secs"`
	Thresholds          map[string]float64 `yaml:"thresholds"`
}

// StreamSinkConfig configures the streaming-bus sink.
type StreamSinkConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	TopicPrefix string   `yaml:"topic_prefix"`
	BatchSize   int      `yaml:"batch_size"`
	BatchMS     int      `yaml:"batch_timeout_ms"`
}

// RPCSinkConfig configures the request/stream RPC sink.
type RPCSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

// ArchiveSinkConfig configures the columnar archive sink.
type ArchiveSinkConfig struct {
	Enabled             bool   `yaml:"enabled"`
	OutputDir           string `yaml:"output_dir"`
	RotationIntervalHrs int    `yaml:"rotation_interval_hours"`
	Compression         string `yaml:"compression"`
	BatchSize           int    `yaml:"batch_size"`
}

// CacheSinkConfig configures the key-value cache backing store.
type CacheSinkConfig struct {
	URL            string `yaml:"url"`
	PoolSize       int    `yaml:"pool_size"`
	DefaultTTLSecs int    `yaml:"default_ttl_secs"`
}

// DefaultTTL converts DefaultTTLSecs to a time.Duration.
func (c CacheSinkConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSecs) * time.Second
}

// SinksConfig groups every sink's configuration block.
type SinksConfig struct {
	Stream  StreamSinkConfig  `yaml:"stream"`
	RPC     RPCSinkConfig     `yaml:"rpc"`
	Archive ArchiveSinkConfig `yaml:"archive"`
	Cache   CacheSinkConfig   `yaml:"cache"`
}

// CacheOptimizationConfig tunes the feature cache.
type CacheOptimizationConfig struct {
	Enabled        bool    `yaml:"enabled"`
	CacheSizeMB    int     `yaml:"cache_size_mb"`
	TTLSecs        int     `yaml:"ttl_secs"`
	TargetHitRatio float64 `yaml:"target_hit_ratio"`
}

// TTL converts TTLSecs to a time.Duration.
func (c CacheOptimizationConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// BatchingOptimizationConfig tunes the request batcher.
type BatchingOptimizationConfig struct {
	BatchSize      int `yaml:"batch_size"`
	BatchTimeoutMS int `yaml:"batch_timeout_ms"`
}

// BatchTimeout converts BatchTimeoutMS to a time.Duration.
func (b BatchingOptimizationConfig) BatchTimeout() time.Duration {
	return time.Duration(b.BatchTimeoutMS) * time.Millisecond
}

// PredictivePrefetchConfig tunes the cache's predictive prefetch.
type PredictivePrefetchConfig struct {
	Enabled             bool    `yaml:"enabled"`
	WindowSecs          int     `yaml:"window_secs"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// Window converts WindowSecs to a time.Duration.
func (p PredictivePrefetchConfig) Window() time.Duration {
	return time.Duration(p.WindowSecs) * time.Second
}

// OptimizationConfig groups the optimization knobs of spec §6.
type OptimizationConfig struct {
	Cache              CacheOptimizationConfig    `yaml:"cache"`
	Batching           BatchingOptimizationConfig `yaml:"batching"`
	PredictivePrefetch PredictivePrefetchConfig   `yaml:"predictive_prefetch"`
}

// MonitoringConfig configures the health/metrics/alerting sidecar.
type MonitoringConfig struct {
	HealthCheckIntervalSecs  int `yaml:"health_check_interval_secs"`
	MetricsFlushIntervalSecs int `yaml:"metrics_flush_interval_secs"`
	AlertEvalIntervalSecs    int `yaml:"alert_eval_interval_secs"`
}

// HealthCheckInterval converts HealthCheckIntervalSecs to a time.Duration.
func (m MonitoringConfig) HealthCheckInterval() time.Duration {
	return time.Duration(m.HealthCheckIntervalSecs) * time.Second
}

// MetricsFlushInterval converts MetricsFlushIntervalSecs to a time.Duration.
func (m MonitoringConfig) MetricsFlushInterval() time.Duration {
	return time.Duration(m.MetricsFlushIntervalSecs) * time.Second
}

// AlertEvalInterval converts AlertEvalIntervalSecs to a time.Duration.
func (m MonitoringConfig) AlertEvalInterval() time.Duration {
	return time.Duration(m.AlertEvalIntervalSecs) * time.Second
}

// Config is the full on-disk schema of spec §6.
type Config struct {
	Global      GlobalConfig                    `yaml:"global"`
	Providers   map[qenus.Chain][]ProviderYAML  `yaml:"providers"`
	Chains      map[qenus.Chain]ChainConfig      `yaml:"chains"`
	Extraction  map[string]ExtractionKindConfig  `yaml:"extraction"`
	Sinks       SinksConfig                      `yaml:"sinks"`
	Optimization OptimizationConfig              `yaml:"optimization"`
	Monitoring  MonitoringConfig                 `yaml:"monitoring"`
}

// Load reads and parses the base config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configs: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("configs: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyOverlay decodes a loosely-typed ENVIRONMENT-selected overlay
// (typically itself parsed from a smaller YAML/JSON document by the
// caller) onto cfg using mapstructure, so the overlay only needs to name
// the fields it actually overrides.
func ApplyOverlay(cfg *Config, overlay map[string]any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ZeroFields:       false,
	})
	if err != nil {
		return fmt.Errorf("configs: build overlay decoder: %w", err)
	}
	if err := decoder.Decode(overlay); err != nil {
		return fmt.Errorf("configs: apply overlay: %w", err)
	}
	return nil
}

// LoadProviderKeys loads a .env file (if present) and resolves every
// provider's APIKeyEnv against the environment, per §6's
// `{PROVIDER}_{CHAIN}_KEY` convention. Missing keys are left blank rather
// than erroring: an unauthenticated provider can still be reached if its
// rate limit and terms allow it.
func LoadProviderKeys(cfg *Config, envFile string) map[string]string {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	keys := make(map[string]string)
	for chain, providers := range cfg.Providers {
		for _, p := range providers {
			envName := p.APIKeyEnv
			if envName == "" {
				envName = fmt.Sprintf("%s_%s_KEY", strings.ToUpper(p.Name), strings.ToUpper(string(chain)))
			}
			if v := os.Getenv(envName); v != "" {
				keys[p.Name] = v
			}
		}
	}
	return keys
}

// KeyRotation is a read-only view of one provider's key rotation, surfaced
// through --setup-keys.
type KeyRotation struct {
	EnvVar      string
	LastRotated time.Time
}

type keyRegistryEntry struct {
	envVar      string
	valueHash   string
	lastRotated time.Time
}

// KeyRegistry tracks, per provider, which environment variable last
// supplied its API key and when that key's value was last observed to
// change. It never stores the key value itself, only a hash of it.
type KeyRegistry struct {
	mu      sync.Mutex
	entries map[string]keyRegistryEntry
}

// NewKeyRegistry creates an empty key rotation registry.
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{entries: make(map[string]keyRegistryEntry)}
}

// Resolve behaves like LoadProviderKeys, additionally recording a fresh
// LastRotated timestamp for any provider whose resolved key value differs
// from what this registry last observed.
func (r *KeyRegistry) Resolve(cfg *Config, envFile string) map[string]string {
	keys := LoadProviderKeys(cfg, envFile)

	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for chain, providers := range cfg.Providers {
		for _, p := range providers {
			v, ok := keys[p.Name]
			if !ok {
				continue
			}
			envName := p.APIKeyEnv
			if envName == "" {
				envName = fmt.Sprintf("%s_%s_KEY", strings.ToUpper(p.Name), strings.ToUpper(string(chain)))
			}
			hash := fmt.Sprintf("%x", sha256.Sum256([]byte(v)))
			prev, seen := r.entries[p.Name]
			if !seen || prev.valueHash != hash {
				r.entries[p.Name] = keyRegistryEntry{envVar: envName, valueHash: hash, lastRotated: now}
			}
		}
	}
	return keys
}

// Rotations returns a snapshot of every provider's tracked key rotation.
func (r *KeyRegistry) Rotations() map[string]KeyRotation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]KeyRotation, len(r.entries))
	for name, e := range r.entries {
		out[name] = KeyRotation{EnvVar: e.envVar, LastRotated: e.lastRotated}
	}
	return out
}

// Validate rejects the malformed configurations named in spec §6: a
// provider with no URL or a zero rate limit, an enabled chain with no
// provider list, an invalid key-value cache URL, or zero worker threads.
func (c *Config) Validate() error {
	if c.Global.WorkerThreads == 0 {
		return qenus.NewError(qenus.ErrConfig, "worker_threads must be > 0", nil)
	}

	for chain, chainCfg := range c.Chains {
		if !chainCfg.Enabled {
			continue
		}
		providers := c.Providers[chain]
		if len(providers) == 0 {
			return qenus.NewError(qenus.ErrConfig, fmt.Sprintf("chain %s is enabled but has no providers", chain), nil)
		}

		anyEnabled := false
		for _, p := range providers {
			if !p.Enabled {
				continue
			}
			anyEnabled = true
			if p.HTTPEndpoint == "" {
				return qenus.NewError(qenus.ErrConfig, fmt.Sprintf("provider %s on chain %s has no http_endpoint", p.Name, chain), nil)
			}
			if _, err := url.ParseRequestURI(p.HTTPEndpoint); err != nil {
				return qenus.NewError(qenus.ErrConfig, fmt.Sprintf("provider %s on chain %s has an invalid http_endpoint: %v", p.Name, chain, err), err)
			}
			if p.WSEndpoint != "" {
				if _, err := url.ParseRequestURI(p.WSEndpoint); err != nil {
					return qenus.NewError(qenus.ErrConfig, fmt.Sprintf("provider %s on chain %s has an invalid ws_endpoint: %v", p.Name, chain, err), err)
				}
			}
			if p.RateLimitRPS <= 0 {
				return qenus.NewError(qenus.ErrConfig, fmt.Sprintf("provider %s on chain %s has rate_limit_rps <= 0", p.Name, chain), nil)
			}
		}
		if !anyEnabled {
			return qenus.NewError(qenus.ErrConfig, fmt.Sprintf("chain %s is enabled but has no enabled providers", chain), nil)
		}
	}

	if c.Sinks.Cache.URL != "" {
		if _, err := url.ParseRequestURI(c.Sinks.Cache.URL); err != nil {
			return qenus.NewError(qenus.ErrConfig, fmt.Sprintf("invalid key-value cache url: %v", err), err)
		}
	}

	return nil
}

// Watch watches path (and, if non-empty, strategyPath) for changes and
// sends the reloaded, validated config on the returned channel. The
// watcher is closed when ctx-equivalent stop is invoked via Close.
type Watcher struct {
	fsw     *fsnotify.Watcher
	Reload  chan *Config
	Errors  chan error
}

// Watch starts an fsnotify watch over the config file and an optional
// strategy-config path (INTELLIGENCE_CONFIG_PATH / BUSINESS_MODULE_PATH),
// reloading and re-validating the config on every write event.
func Watch(path string, extraPaths ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("configs: create watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("configs: watch %s: %w", path, err)
	}
	for _, p := range extraPaths {
		if p == "" {
			continue
		}
		if err := fsw.Add(p); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("configs: watch %s: %w", p, err)
		}
	}

	w := &Watcher{fsw: fsw, Reload: make(chan *Config, 1), Errors: make(chan error, 1)}
	go w.run(path)
	return w, nil
}

func (w *Watcher) run(path string) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				w.emitError(err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				w.emitError(err)
				continue
			}
			select {
			case w.Reload <- cfg:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) emitError(err error) {
	select {
	case w.Errors <- err:
	default:
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error { return w.fsw.Close() }
