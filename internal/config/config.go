// Package config provides a typed accessor over the hot-reloadable
// configuration document (core/storage/transform/cache modules). It
// loads, defaults, saves and watches the document; it does not compute
// derived lookups such as compiled path matchers, which the consuming
// packages build themselves.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 9050
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultHost           = "127.0.0.1"

	SchemaVersion = 1
)

// ParamType names the parameter registry's coercion kinds.
type ParamType string

const (
	ParamNumber       ParamType = "number"
	ParamAutoOrNumber ParamType = "auto-or-number"
	ParamBoolean      ParamType = "boolean"
	ParamEnum         ParamType = "enum"
	ParamString       ParamType = "string"
	ParamCoordinate   ParamType = "coordinate"
	ParamSizeCode     ParamType = "size-code"
)

// ParamDef is one entry of the parameter registry.
type ParamDef struct {
	Type         ParamType `json:"type" yaml:"type"`
	Priority     int       `json:"priority" yaml:"priority"`
	DefaultValue any       `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	EnumValues   []string  `json:"enumValues,omitempty" yaml:"enumValues,omitempty"`
}

// Meta is the configuration document's metadata block.
type Meta struct {
	Version       int       `json:"version" yaml:"version"`
	ActiveModules []string  `json:"activeModules" yaml:"activeModules"`
	LastUpdated   time.Time `json:"lastUpdated" yaml:"lastUpdated"`
}

// RetryPolicy backs the Storage Service's per-source retry loop.
type RetryPolicy struct {
	MaxAttempts    int `json:"maxAttempts" yaml:"maxAttempts"`
	InitialDelayMs int `json:"initialDelayMs" yaml:"initialDelayMs"`
	MaxDelayMs     int `json:"maxDelayMs" yaml:"maxDelayMs"`
}

// CircuitBreakerPolicy configures one resilience scope's breaker.
type CircuitBreakerPolicy struct {
	FailureThreshold int `json:"failureThreshold" yaml:"failureThreshold"`
	SuccessThreshold int `json:"successThreshold" yaml:"successThreshold"`
	ResetTimeoutMs   int `json:"resetTimeoutMs" yaml:"resetTimeoutMs"`
}

// FailureWindowPolicy drives adaptive source priority reordering.
type FailureWindowPolicy struct {
	WindowSize           int     `json:"windowSize" yaml:"windowSize"`
	FailureRateThreshold float64 `json:"failureRateThreshold" yaml:"failureRateThreshold"`
}

// PathTransformRule is one top-segment prefix/removePrefix rule.
type PathTransformRule struct {
	Segment      string `json:"segment" yaml:"segment"`
	Prefix       string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	RemovePrefix string `json:"removePrefix,omitempty" yaml:"removePrefix,omitempty"`
}

// R2Config describes the object-store source.
type R2Config struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	Region          string `json:"region" yaml:"region"`
	AccessKeyID     string `json:"accessKeyId,omitempty" yaml:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty" yaml:"secretAccessKey,omitempty"`
}

// RemoteConfig describes the signed remote-origin source.
type RemoteConfig struct {
	BaseURL        string            `json:"baseUrl" yaml:"baseUrl"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	AuthHeaderName string            `json:"authHeaderName,omitempty" yaml:"authHeaderName,omitempty"`
}

// FallbackConfig describes the unauthenticated fallback-origin source.
type FallbackConfig struct {
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`
}

// StorageConfig is the `storage` module.
type StorageConfig struct {
	Priority        []string             `json:"priority" yaml:"priority"`
	R2              R2Config             `json:"r2" yaml:"r2"`
	Remote          RemoteConfig         `json:"remote" yaml:"remote"`
	Fallback        FallbackConfig       `json:"fallback" yaml:"fallback"`
	Retry           RetryPolicy          `json:"retry" yaml:"retry"`
	CircuitBreaker  CircuitBreakerPolicy `json:"circuitBreaker" yaml:"circuitBreaker"`
	FailureWindow   FailureWindowPolicy  `json:"failureWindow" yaml:"failureWindow"`
	RateLimitPerSec float64              `json:"rateLimitPerSec" yaml:"rateLimitPerSec"`
	PathTransforms  []PathTransformRule  `json:"pathTransforms,omitempty" yaml:"pathTransforms,omitempty"`
}

// QualityRange clamps quality for a network quality bucket.
type QualityRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// PerformanceBudget drives client-aware optimization.
type PerformanceBudget struct {
	PreferredFormats map[string][]string     `json:"preferredFormats" yaml:"preferredFormats"`
	Quality          map[string]QualityRange `json:"quality" yaml:"quality"`
	MaxDimensions    map[string]int          `json:"maxDimensions" yaml:"maxDimensions"`
}

// ClientDetectionConfig configures the bounded per-request cache.
type ClientDetectionConfig struct {
	CacheSize   int      `json:"cacheSize" yaml:"cacheSize"`
	ClientHints []string `json:"clientHints" yaml:"clientHints"`
}

// TransformConfig is the `transform` module.
type TransformConfig struct {
	Registry          map[string]ParamDef       `json:"registry" yaml:"registry"`
	Derivatives       map[string]map[string]any `json:"derivatives" yaml:"derivatives"`
	ClientDetection   ClientDetectionConfig     `json:"clientDetection" yaml:"clientDetection"`
	PerformanceBudget PerformanceBudget         `json:"performanceBudget" yaml:"performanceBudget"`
}

// PathPatternConfig is one TTL path pattern.
type PathPatternConfig struct {
	Name        string         `json:"name" yaml:"name"`
	Pattern     string         `json:"pattern" yaml:"pattern"`
	Priority    int            `json:"priority" yaml:"priority"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	TTL         StatusClassTTL `json:"ttl" yaml:"ttl"`
}

// StatusClassTTL is the TTL-by-status-class record.
type StatusClassTTL struct {
	OK          int `json:"ok" yaml:"ok"`
	Redirects   int `json:"redirects" yaml:"redirects"`
	ClientError int `json:"clientError" yaml:"clientError"`
	ServerError int `json:"serverError" yaml:"serverError"`
}

// ImmutableContentConfig forces the maximum TTL for matching content.
type ImmutableContentConfig struct {
	Paths        []string `json:"paths,omitempty" yaml:"paths,omitempty"`
	ContentTypes []string `json:"contentTypes,omitempty" yaml:"contentTypes,omitempty"`
	Derivatives  []string `json:"derivatives,omitempty" yaml:"derivatives,omitempty"`
}

// TTLConfig is the TTL Calculator's configuration.
type TTLConfig struct {
	MinTTL              int                    `json:"minTtl" yaml:"minTtl"`
	MaxTTL              int                    `json:"maxTtl" yaml:"maxTtl"`
	Defaults            StatusClassTTL         `json:"defaults" yaml:"defaults"`
	Patterns            []PathPatternConfig    `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	DerivativeOverrides map[string]int         `json:"derivativeOverrides,omitempty" yaml:"derivativeOverrides,omitempty"`
	ContentTypeBonus    map[string]float64     `json:"contentTypeBonus,omitempty" yaml:"contentTypeBonus,omitempty"`
	ImmutableContent    ImmutableContentConfig `json:"immutableContent" yaml:"immutableContent"`
}

// ConditionalTagRule adds a tag when its predicate matches the request.
type ConditionalTagRule struct {
	Tag         string `json:"tag" yaml:"tag"`
	PathPrefix  string `json:"pathPrefix,omitempty" yaml:"pathPrefix,omitempty"`
	Format      string `json:"format,omitempty" yaml:"format,omitempty"`
	ContentType string `json:"contentType,omitempty" yaml:"contentType,omitempty"`
	Host        string `json:"host,omitempty" yaml:"host,omitempty"`
	QueryParam  string `json:"queryParam,omitempty" yaml:"queryParam,omitempty"`
}

// CacheTagsConfig is the Cache Tags Manager's configuration.
type CacheTagsConfig struct {
	Prefix       string                `json:"prefix" yaml:"prefix"`
	PathSegments bool                  `json:"pathSegments" yaml:"pathSegments"`
	Directory    bool                  `json:"directory" yaml:"directory"`
	FullPath     bool                  `json:"fullPath" yaml:"fullPath"`
	ContentType  bool                  `json:"contentType" yaml:"contentType"`
	Origin       bool                  `json:"origin" yaml:"origin"`
	Host         bool                  `json:"host" yaml:"host"`
	SizeBucket   bool                  `json:"sizeBucket" yaml:"sizeBucket"`
	WidthBucket  bool                  `json:"widthBucket" yaml:"widthBucket"`
	Dimensions   bool                  `json:"dimensions" yaml:"dimensions"`
	Derivative   bool                  `json:"derivative" yaml:"derivative"`
	Conditional  []ConditionalTagRule  `json:"conditional,omitempty" yaml:"conditional,omitempty"`
}

// BypassConfig is the HTTP Cache Orchestrator's `shouldBypass` ruleset.
type BypassConfig struct {
	Params              []string `json:"params" yaml:"params"`
	Paths               []string `json:"paths,omitempty" yaml:"paths,omitempty"`
	BypassInDevelopment bool     `json:"bypassInDevelopment" yaml:"bypassInDevelopment"`
	BypassForAdmin      bool     `json:"bypassForAdmin" yaml:"bypassForAdmin"`
	AdminIndicators     []string `json:"adminIndicators,omitempty" yaml:"adminIndicators,omitempty"`
	Formats             []string `json:"formats,omitempty" yaml:"formats,omitempty"`
}

// HTTPCacheConfig configures response header application.
type HTTPCacheConfig struct {
	VaryClientHints             []string `json:"varyClientHints" yaml:"varyClientHints"`
	LinkHeader                  bool     `json:"linkHeader" yaml:"linkHeader"`
	StaleWhileRevalidateSeconds int      `json:"staleWhileRevalidateSeconds" yaml:"staleWhileRevalidateSeconds"`
}

// VariantCacheConfig is the Transform Variant Cache's configuration.
type VariantCacheConfig struct {
	Enabled                     bool           `json:"enabled" yaml:"enabled"`
	Prefix                      string         `json:"prefix" yaml:"prefix"`
	MaxSize                     int64          `json:"maxSize" yaml:"maxSize"`
	DisallowedPaths             []string       `json:"disallowedPaths,omitempty" yaml:"disallowedPaths,omitempty"`
	SmallFileThreshold          int64          `json:"smallFileThreshold" yaml:"smallFileThreshold"`
	SkipIndicesForSmallFiles    bool           `json:"skipIndicesForSmallFiles" yaml:"skipIndicesForSmallFiles"`
	OptimizedIndexing           bool           `json:"optimizedIndexing" yaml:"optimizedIndexing"`
	SmallPurgeThreshold         int            `json:"smallPurgeThreshold" yaml:"smallPurgeThreshold"`
	EventualConsistencyWindowMs int            `json:"eventualConsistencyWindowMs" yaml:"eventualConsistencyWindowMs"`
	MaintenanceInterval         time.Duration  `json:"maintenanceIntervalMs" yaml:"maintenanceIntervalMs"`
	DefaultTTLByContentType     map[string]int `json:"defaultTtlByContentType,omitempty" yaml:"defaultTtlByContentType,omitempty"`
	StorePath                   string         `json:"storePath" yaml:"storePath"`
}

// CacheConfig is the `cache` module.
type CacheConfig struct {
	Variant   VariantCacheConfig `json:"variant" yaml:"variant"`
	TTL       TTLConfig          `json:"ttl" yaml:"ttl"`
	Tags      CacheTagsConfig    `json:"tags" yaml:"tags"`
	Bypass    BypassConfig       `json:"bypass" yaml:"bypass"`
	HTTPCache HTTPCacheConfig    `json:"httpCache" yaml:"httpCache"`
}

// DebugConfig gates debug headers and the HTML report hook.
type DebugConfig struct {
	Enabled             bool     `json:"enabled" yaml:"enabled"`
	AllowedEnvironments []string `json:"allowedEnvironments,omitempty" yaml:"allowedEnvironments,omitempty"`
}

// CoreConfig is the `core` module.
type CoreConfig struct {
	Environment string      `json:"environment" yaml:"environment"`
	Version     string      `json:"version" yaml:"version"`
	Debug       DebugConfig `json:"debug" yaml:"debug"`
}

// Config is the full configuration document.
type Config struct {
	Meta      Meta            `json:"_meta" yaml:"_meta"`
	Host      string          `json:"host" yaml:"host"`
	Port      int             `json:"port" yaml:"port"`
	AdminKey  string          `json:"adminKey,omitempty" yaml:"adminKey,omitempty"`
	Core      CoreConfig      `json:"core" yaml:"core"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Transform TransformConfig `json:"transform" yaml:"transform"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
}

// Manager loads, snapshots, and hot-reloads the configuration document.
type Manager struct {
	baseDir     string
	jsonPath    string
	yamlPath    string
	configValue atomic.Value
	onReload    []func(*Config)
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:  baseDir,
		jsonPath: filepath.Join(baseDir, DefaultConfigFilename),
		yamlPath: filepath.Join(baseDir, DefaultYAMLFilename),
	}
}

// OnReload registers a callback invoked after every successful reload.
func (m *Manager) OnReload(fn func(*Config)) {
	m.onReload = append(m.onReload, fn)
}

func (m *Manager) createDefaultConfig() Config {
	cfg := Config{
		Host: DefaultHost,
		Port: DefaultPort,
		Core: CoreConfig{
			Environment: "production",
			Version:     "1.0.0",
		},
		Storage: StorageConfig{
			Priority: []string{"r2", "remote", "fallback"},
			Retry:    RetryPolicy{MaxAttempts: 3, InitialDelayMs: 100, MaxDelayMs: 2000},
			CircuitBreaker: CircuitBreakerPolicy{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				ResetTimeoutMs:   30000,
			},
			FailureWindow: FailureWindowPolicy{WindowSize: 20, FailureRateThreshold: 0.5},
		},
		Transform: TransformConfig{
			ClientDetection: ClientDetectionConfig{
				CacheSize:   1000,
				ClientHints: []string{"DPR", "Viewport-Width", "Width", "Save-Data"},
			},
			PerformanceBudget: PerformanceBudget{
				PreferredFormats: map[string][]string{
					"slow":   {"avif", "webp", "jpeg"},
					"medium": {"webp", "avif", "jpeg"},
					"fast":   {"avif", "webp", "jpeg"},
				},
				Quality: map[string]QualityRange{
					"slow":   {Min: 40, Max: 60},
					"medium": {Min: 60, Max: 80},
					"fast":   {Min: 75, Max: 90},
				},
				MaxDimensions: map[string]int{"slow": 800, "medium": 1600, "fast": 2560},
			},
		},
		Cache: CacheConfig{
			Variant: VariantCacheConfig{
				Enabled:             true,
				Prefix:              "irv",
				MaxSize:             25 * 1024 * 1024,
				SmallFileThreshold:  10 * 1024,
				SmallPurgeThreshold: 1000,
				MaintenanceInterval: time.Hour,
				StorePath:           filepath.Join(m.baseDir, "variant-cache.db"),
			},
			TTL: TTLConfig{
				MinTTL:   60,
				MaxTTL:   31536000,
				Defaults: StatusClassTTL{OK: 86400, Redirects: 3600, ClientError: 60, ServerError: 10},
			},
			Tags: CacheTagsConfig{
				Prefix: "irv", PathSegments: true, Directory: true, FullPath: true,
				ContentType: true, Origin: true, Host: true, SizeBucket: true,
				WidthBucket: true, Dimensions: true, Derivative: true,
			},
			Bypass: BypassConfig{
				Params:              []string{"nocache", "refresh", "force-refresh"},
				BypassInDevelopment: true,
				BypassForAdmin:      true,
				AdminIndicators:     []string{"X-Admin-Bypass"},
			},
			HTTPCache: HTTPCacheConfig{
				VaryClientHints:             []string{"DPR", "Viewport-Width", "Width", "Save-Data"},
				LinkHeader:                  false,
				StaleWhileRevalidateSeconds: 86400,
			},
		},
	}
	cfg.Meta = Meta{Version: SchemaVersion, ActiveModules: []string{"core", "storage", "transform", "cache"}, LastUpdated: time.Now()}
	return cfg
}

// Load reads the configuration document, preferring YAML over JSON, and
// falling back to built-in defaults when neither file exists.
func (m *Manager) Load() (*Config, error) {
	var cfg Config
	var err error

	if _, yamlErr := os.Stat(m.yamlPath); yamlErr == nil {
		cfg, err = m.loadYAML()
		if err != nil {
			return nil, fmt.Errorf("load YAML config: %w", err)
		}
	} else if _, jsonErr := os.Stat(m.jsonPath); jsonErr == nil {
		cfg, err = m.loadJSON()
		if err != nil {
			return nil, fmt.Errorf("load JSON config: %w", err)
		}
	} else {
		cfg = m.createDefaultConfig()
	}

	m.applyDefaults(&cfg)
	m.configValue.Store(&cfg)

	for _, fn := range m.onReload {
		fn(&cfg)
	}

	return &cfg, nil
}

func (m *Manager) loadYAML() (Config, error) {
	var cfg Config
	data, err := os.ReadFile(m.yamlPath)
	if err != nil {
		return cfg, fmt.Errorf("read YAML config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal YAML config: %w", err)
	}
	return cfg, nil
}

func (m *Manager) loadJSON() (Config, error) {
	var cfg Config
	data, err := os.ReadFile(m.jsonPath)
	if err != nil {
		return cfg, fmt.Errorf("read JSON config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal JSON config: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued fields that must never be empty.
func (m *Manager) applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if len(cfg.Storage.Priority) == 0 {
		cfg.Storage.Priority = []string{"r2", "remote", "fallback"}
	}
	if cfg.Storage.Retry.MaxAttempts == 0 {
		cfg.Storage.Retry = RetryPolicy{MaxAttempts: 3, InitialDelayMs: 100, MaxDelayMs: 2000}
	}
	if cfg.Storage.CircuitBreaker.FailureThreshold == 0 {
		cfg.Storage.CircuitBreaker = CircuitBreakerPolicy{FailureThreshold: 5, SuccessThreshold: 2, ResetTimeoutMs: 30000}
	}
	if cfg.Storage.FailureWindow.WindowSize == 0 {
		cfg.Storage.FailureWindow = FailureWindowPolicy{WindowSize: 20, FailureRateThreshold: 0.5}
	}
	if cfg.Cache.Variant.Prefix == "" {
		cfg.Cache.Variant.Prefix = "irv"
	}
	if cfg.Cache.Variant.MaintenanceInterval == 0 {
		cfg.Cache.Variant.MaintenanceInterval = time.Hour
	}
	if cfg.Cache.Variant.StorePath == "" {
		cfg.Cache.Variant.StorePath = filepath.Join(m.baseDir, "variant-cache.db")
	}
	if cfg.Cache.TTL.MinTTL == 0 && cfg.Cache.TTL.MaxTTL == 0 {
		cfg.Cache.TTL.MinTTL = 60
		cfg.Cache.TTL.MaxTTL = 31536000
	}
	if cfg.Cache.Tags.Prefix == "" {
		cfg.Cache.Tags.Prefix = cfg.Cache.Variant.Prefix
	}
	if cfg.Meta.Version == 0 {
		cfg.Meta.Version = SchemaVersion
	}
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}
	cfg, err := m.Load()
	if err != nil {
		fallback := m.createDefaultConfig()
		return &fallback
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfg.Meta.LastUpdated = time.Now()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal YAML config: %w", err)
	}
	if err := os.WriteFile(m.yamlPath, data, 0o644); err != nil {
		return fmt.Errorf("write YAML config file: %w", err)
	}
	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	if _, err := os.Stat(m.yamlPath); err == nil {
		return m.yamlPath
	}
	return m.jsonPath
}

func (m *Manager) Exists() bool {
	_, yamlErr := os.Stat(m.yamlPath)
	_, jsonErr := os.Stat(m.jsonPath)
	return yamlErr == nil || jsonErr == nil
}

func (m *Manager) HasYAML() bool {
	_, err := os.Stat(m.yamlPath)
	return err == nil
}

func (m *Manager) HasJSON() bool {
	_, err := os.Stat(m.jsonPath)
	return err == nil
}

// Watch starts an fsnotify watcher on the config directory and reloads
// the document whenever the active file (YAML preferred) changes, so a
// bumped `_meta.version` takes effect without a process restart. It
// blocks until the provided context-like stop channel is closed.
func (m *Manager) Watch(logger *slog.Logger, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.baseDir); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != m.yamlPath && event.Name != m.jsonPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, err := m.Load(); err != nil {
				logger.Error("config reload failed", "error", err, "path", event.Name)
				continue
			}
			logger.Info("config reloaded", "path", event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}
