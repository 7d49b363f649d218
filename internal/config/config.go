package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// File names searched for in the project directory, in order.
const (
	ProjectConfigName    = ".kbsearch.yaml"
	ProjectConfigAltName = ".kbsearch.yml"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KBSEARCH_"

// Config is the complete kbsearch configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Data      DataConfig      `yaml:"data" json:"data"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Reranker  RerankerConfig  `yaml:"reranker" json:"reranker"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Feedback  FeedbackConfig  `yaml:"feedback" json:"feedback"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// DataConfig locates persistent state.
type DataConfig struct {
	// Dir holds the database, lock file and logs. Default: ~/.kbsearch
	Dir string `yaml:"dir" json:"dir"`
}

// SearchConfig holds the search engine defaults. Most of these can also be
// changed at runtime through persisted settings, which take precedence.
type SearchConfig struct {
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	FullTextWeight float64 `yaml:"fulltext_weight" json:"fulltext_weight"`

	MaxResults       int     `yaml:"max_results" json:"max_results"`
	MinScore         float64 `yaml:"min_score" json:"min_score"`
	ClusterThreshold float64 `yaml:"cluster_threshold" json:"cluster_threshold"`

	// ShortQueryRunes is the length below which exact-match tokens force full text.
	ShortQueryRunes    int   `yaml:"short_query_runes" json:"short_query_runes"`
	MinFeedbackSamples int64 `yaml:"min_feedback_samples" json:"min_feedback_samples"`

	AdaptiveMinResults      int     `yaml:"adaptive_min_results" json:"adaptive_min_results"`
	SupplementalScoreFactor float64 `yaml:"supplemental_score_factor" json:"supplemental_score_factor"`
	CandidateMultiplier     int     `yaml:"candidate_multiplier" json:"candidate_multiplier"`

	MaxParallelCollections int           `yaml:"max_parallel_collections" json:"max_parallel_collections"`
	BackendTimeout         time.Duration `yaml:"backend_timeout" json:"backend_timeout"`
	RequestTimeout         time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// CacheConfig configures the result cache. Capacity 0 disables it.
type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	Capacity int           `yaml:"capacity" json:"capacity"`
}

// RerankerConfig selects and configures the second-stage reranker.
type RerankerConfig struct {
	// Provider is one of "auto", "http", "embedding" or "none".
	// auto uses the HTTP cross-encoder when Endpoint is set and reachable,
	// the embedding reranker otherwise.
	Provider string `yaml:"provider" json:"provider"`

	TopK              int           `yaml:"top_k" json:"top_k"`
	Endpoint          string        `yaml:"endpoint" json:"endpoint"`
	Model             string        `yaml:"model" json:"model"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
}

// EmbeddingConfig configures the built-in hashing embedder.
type EmbeddingConfig struct {
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	CacheSize  int `yaml:"cache_size" json:"cache_size"`
}

// FeedbackConfig configures feedback aggregation.
type FeedbackConfig struct {
	// Workers bounds concurrent persistence of feedback events.
	Workers int `yaml:"workers" json:"workers"`
	// ProvenanceSize is how many emitted results stay attributable in memory.
	ProvenanceSize int `yaml:"provenance_size" json:"provenance_size"`
}

// TelemetryConfig configures query metrics.
type TelemetryConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	// MetricsAddr exposes Prometheus metrics from serve when set, e.g. ":9464".
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	// WatchConfig reloads search settings when a config file changes.
	WatchConfig bool `yaml:"watch_config" json:"watch_config"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Data:    DataConfig{Dir: defaultDataDir()},
		Search: SearchConfig{
			SemanticWeight:          0.7,
			FullTextWeight:          0.3,
			MaxResults:              10,
			MinScore:                0,
			ClusterThreshold:        0.8,
			ShortQueryRunes:         40,
			MinFeedbackSamples:      20,
			AdaptiveMinResults:      3,
			SupplementalScoreFactor: 0.5,
			CandidateMultiplier:     2,
			MaxParallelCollections:  5,
			BackendTimeout:          2 * time.Second,
			RequestTimeout:          10 * time.Second,
		},
		Cache: CacheConfig{
			TTL:      time.Hour,
			Capacity: 1000,
		},
		Reranker: RerankerConfig{
			Provider:          "auto",
			TopK:              20,
			Timeout:           10 * time.Second,
			RequestsPerSecond: 10,
		},
		Embedding: EmbeddingConfig{
			Dimensions: 256,
			CacheSize:  4096,
		},
		Feedback: FeedbackConfig{
			Workers:        4,
			ProvenanceSize: 10000,
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			FlushInterval: time.Minute,
		},
		Server: ServerConfig{
			Transport:   "stdio",
			LogLevel:    "info",
			WatchConfig: true,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".kbsearch")
	}
	return filepath.Join(home, ".kbsearch")
}

// DBPath is the SQLite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.Data.Dir, "kbsearch.db")
}

// LockPath is the single-writer lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Data.Dir, "kbsearch.lock")
}

// LogDir is where log files are written.
func (c *Config) LogDir() string {
	return filepath.Join(c.Data.Dir, "logs")
}

// GetUserConfigPath returns the user configuration file path:
//   - $XDG_CONFIG_HOME/kbsearch/config.yaml when XDG_CONFIG_HOME is set
//   - ~/.config/kbsearch/config.yaml otherwise
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kbsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "kbsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "kbsearch", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// ProjectConfigPath returns the project config file in dir, or "" if there is none.
// .kbsearch.yaml wins over .kbsearch.yml.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{ProjectConfigName, ProjectConfigAltName} {
		if p := filepath.Join(dir, name); fileExists(p) {
			return p
		}
	}
	return ""
}

// Load builds the configuration for dir, in order of increasing precedence:
//  1. Built-in defaults
//  2. User config (~/.config/kbsearch/config.yaml)
//  3. Project config (.kbsearch.yaml in dir)
//  4. Environment variables (KBSEARCH_*)
//
// Persisted runtime settings are applied later, by the engine owner.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if p := GetUserConfigPath(); fileExists(p) {
		if err := cfg.loadYAML(p); err != nil {
			return nil, err
		}
	}
	if dir != "" {
		if p := ProjectConfigPath(dir); p != "" {
			if err := cfg.loadYAML(p); err != nil {
				return nil, err
			}
		}
	}
	if err := cfg.applyEnvOverrides(os.Getenv); err != nil {
		return nil, err
	}
	cfg.Data.Dir = expandHome(cfg.Data.Dir)
	if err := cfg.Validate(); err != nil {
		return nil, kberrors.ConfigError("invalid configuration", err)
	}
	return cfg, nil
}

// loadYAML decodes path over c. Keys absent from the file keep their current
// values, so explicit zeros are honoured. Unknown keys are rejected.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return kberrors.ConfigError("read config file "+path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return kberrors.ConfigError("parse config file "+path, err)
	}
	return nil
}

type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func envFloat(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			*dst(c) = f
		}
		return err
	}
}

func envInt(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			*dst(c) = n
		}
		return err
	}
}

func envDuration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err == nil {
			*dst(c) = d
		}
		return err
	}
}

func envString(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func envBool(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err == nil {
			*dst(c) = b
		}
		return err
	}
}

var envBindings = []envBinding{
	{"SEMANTIC_WEIGHT", envFloat(func(c *Config) *float64 { return &c.Search.SemanticWeight })},
	{"FULLTEXT_WEIGHT", envFloat(func(c *Config) *float64 { return &c.Search.FullTextWeight })},
	{"MAX_RESULTS", envInt(func(c *Config) *int { return &c.Search.MaxResults })},
	{"MIN_SCORE", envFloat(func(c *Config) *float64 { return &c.Search.MinScore })},
	{"CLUSTER_THRESHOLD", envFloat(func(c *Config) *float64 { return &c.Search.ClusterThreshold })},
	{"REQUEST_TIMEOUT", envDuration(func(c *Config) *time.Duration { return &c.Search.RequestTimeout })},
	{"BACKEND_TIMEOUT", envDuration(func(c *Config) *time.Duration { return &c.Search.BackendTimeout })},
	{"CACHE_TTL", envDuration(func(c *Config) *time.Duration { return &c.Cache.TTL })},
	{"CACHE_CAPACITY", envInt(func(c *Config) *int { return &c.Cache.Capacity })},
	{"RERANKER", envString(func(c *Config) *string { return &c.Reranker.Provider })},
	{"RERANKER_ENDPOINT", envString(func(c *Config) *string { return &c.Reranker.Endpoint })},
	{"RERANKER_MODEL", envString(func(c *Config) *string { return &c.Reranker.Model })},
	{"DATA_DIR", envString(func(c *Config) *string { return &c.Data.Dir })},
	{"LOG_LEVEL", envString(func(c *Config) *string { return &c.Server.LogLevel })},
	{"METRICS_ADDR", envString(func(c *Config) *string { return &c.Telemetry.MetricsAddr })},
	{"TELEMETRY", envBool(func(c *Config) *bool { return &c.Telemetry.Enabled })},
}

// EnvNames lists every recognised environment variable.
func EnvNames() []string {
	out := make([]string, len(envBindings))
	for i, b := range envBindings {
		out[i] = EnvPrefix + b.name
	}
	return out
}

// applyEnvOverrides applies KBSEARCH_* variables. A malformed value is an
// error rather than being silently ignored.
func (c *Config) applyEnvOverrides(getenv func(string) string) error {
	for _, b := range envBindings {
		name := EnvPrefix + b.name
		v := getenv(name)
		if v == "" {
			continue
		}
		if err := b.apply(c, v); err != nil {
			return kberrors.ConfigError(fmt.Sprintf("environment variable %s=%q", name, v), err)
		}
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	s := c.Search
	unit := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("search.%s must be between 0 and 1, got %g", name, v)
		}
		return nil
	}
	for _, check := range []error{
		unit("semantic_weight", s.SemanticWeight),
		unit("fulltext_weight", s.FullTextWeight),
		unit("min_score", s.MinScore),
		unit("cluster_threshold", s.ClusterThreshold),
		unit("supplemental_score_factor", s.SupplementalScoreFactor),
	} {
		if check != nil {
			return check
		}
	}
	if s.SemanticWeight+s.FullTextWeight == 0 {
		return fmt.Errorf("search.semantic_weight and search.fulltext_weight cannot both be 0")
	}
	if s.MaxResults < 1 || s.MaxResults > 100 {
		return fmt.Errorf("search.max_results must be between 1 and 100, got %d", s.MaxResults)
	}
	if s.ShortQueryRunes < 0 || s.MinFeedbackSamples < 0 || s.AdaptiveMinResults < 0 {
		return fmt.Errorf("search thresholds must be non-negative")
	}
	if s.CandidateMultiplier < 1 {
		return fmt.Errorf("search.candidate_multiplier must be at least 1, got %d", s.CandidateMultiplier)
	}
	if s.MaxParallelCollections < 1 {
		return fmt.Errorf("search.max_parallel_collections must be at least 1, got %d", s.MaxParallelCollections)
	}
	if s.BackendTimeout <= 0 || s.RequestTimeout <= 0 {
		return fmt.Errorf("search.backend_timeout and search.request_timeout must be positive")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity must be non-negative, got %d", c.Cache.Capacity)
	}

	switch strings.ToLower(c.Reranker.Provider) {
	case "auto", "http", "embedding", "none":
	default:
		return fmt.Errorf("reranker.provider must be 'auto', 'http', 'embedding' or 'none', got %s", c.Reranker.Provider)
	}
	if strings.EqualFold(c.Reranker.Provider, "http") && c.Reranker.Endpoint == "" {
		return fmt.Errorf("reranker.endpoint is required when reranker.provider is 'http'")
	}
	if c.Reranker.TopK < 1 {
		return fmt.Errorf("reranker.top_k must be at least 1, got %d", c.Reranker.TopK)
	}

	if c.Embedding.Dimensions < 8 {
		return fmt.Errorf("embedding.dimensions must be at least 8, got %d", c.Embedding.Dimensions)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir must be set")
	}

	if !strings.EqualFold(c.Server.Transport, "stdio") {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn' or 'error', got %s", c.Server.LogLevel)
	}
	return nil
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindProjectRoot walks up from startDir to the first directory holding a
// .git directory or a kbsearch project config. It returns the absolute
// startDir when neither is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	dir := absDir
	for {
		if dirExists(filepath.Join(dir, ".git")) || ProjectConfigPath(dir) != "" {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
