package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/evidex/internal/domain"
	"github.com/kailas-cloud/evidex/internal/imaging"
	"github.com/kailas-cloud/evidex/internal/usecase/models"
)

// Config holds the evidex service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Models   ModelsConfig   `yaml:"models"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Search   SearchConfig   `yaml:"search"`
	Cache    CacheConfig    `yaml:"cache"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"`
	ShutdownSec     int   `yaml:"shutdown_timeout_sec"`
	MaxUploadBytes  int64 `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds Redis/Valkey connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// ModelsConfig locates the ONNX models and controls background loading.
type ModelsConfig struct {
	Dir               string   `yaml:"dir"`
	RuntimeLibrary    string   `yaml:"runtime_library"` // path to libonnxruntime; empty = platform default
	Segmentation      string   `yaml:"segmentation"`
	Brand             string   `yaml:"brand"`
	Narcotic          string   `yaml:"narcotic"`
	BrandModelPattern string   `yaml:"brand_model_pattern"` // {brand} is replaced with the brand name
	Brands            []string `yaml:"brands"`
	LoadConcurrency   int      `yaml:"load_concurrency"`
	WaitTimeoutSec    int      `yaml:"wait_timeout_sec"`
	WarmupOnStart     *bool    `yaml:"warmup_on_start"`
}

// PipelineConfig holds vectorization settings.
type PipelineConfig struct {
	InputSize    int   `yaml:"input_size"`    // square segmentation input; its sidecar must match
	MaxPixels    int   `yaml:"max_pixels"`    // uploads whose header declares more pixels are rejected
	TargetDim    int   `yaml:"target_dim"`
	L2           *bool `yaml:"l2"`            // nil = true
	AnalyzeCrops bool  `yaml:"analyze_crops"` // attach a JPEG of every instance to analysis reports
}

// SearchConfig holds reference search and index settings.
type SearchConfig struct {
	DefaultTopK      int      `yaml:"default_top_k"`
	MaxTopK          int      `yaml:"max_top_k"`
	DefaultThreshold *float64 `yaml:"default_threshold"` // nil = 0.6
	Algorithm        string   `yaml:"algorithm"`         // FLAT, HNSW
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
}

// CacheConfig holds vector cache settings.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	TTLSec  int  `yaml:"ttl_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		c.HTTP.MaxUploadBytes = 32 << 20
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "evidex:"
	}
	c.Models.applyDefaults()
	c.Pipeline.applyDefaults()
	c.Search.applyDefaults()
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 3600
	}
}

func (m *ModelsConfig) applyDefaults() {
	if m.Dir == "" {
		m.Dir = "models"
	}
	if m.Segmentation == "" {
		m.Segmentation = "segmentation.onnx"
	}
	if m.Brand == "" {
		m.Brand = "brand.onnx"
	}
	if m.Narcotic == "" {
		m.Narcotic = "narcotic.onnx"
	}
	if m.BrandModelPattern == "" {
		m.BrandModelPattern = "brand_models/{brand}.onnx"
	}
	if m.LoadConcurrency <= 0 {
		m.LoadConcurrency = 3
	}
	if m.WaitTimeoutSec <= 0 {
		m.WaitTimeoutSec = 120
	}
	if m.WarmupOnStart == nil {
		v := true
		m.WarmupOnStart = &v
	}
}

func (p *PipelineConfig) applyDefaults() {
	if p.InputSize <= 0 {
		p.InputSize = 640
	}
	if p.MaxPixels <= 0 {
		p.MaxPixels = imaging.DefaultMaxPixels
	}
	if p.TargetDim <= 0 {
		p.TargetDim = 16000
	}
	if p.L2 == nil {
		v := true
		p.L2 = &v
	}
}

func (s *SearchConfig) applyDefaults() {
	if s.DefaultTopK <= 0 {
		s.DefaultTopK = 5
	}
	if s.MaxTopK <= 0 {
		s.MaxTopK = 100
	}
	if s.DefaultThreshold == nil {
		v := 0.6
		s.DefaultThreshold = &v
	}
	if s.Algorithm == "" {
		s.Algorithm = "FLAT"
	}
	s.Algorithm = strings.ToUpper(s.Algorithm)
	if s.HNSWM <= 0 {
		s.HNSWM = 16
	}
	if s.HNSWEFConstruct <= 0 {
		s.HNSWEFConstruct = 200
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if !strings.Contains(c.Models.BrandModelPattern, "{brand}") && len(c.Models.Brands) > 0 {
		return fmt.Errorf("models.brand_model_pattern must contain {brand}, got %q", c.Models.BrandModelPattern)
	}
	for _, b := range c.Models.Brands {
		if b == "" || strings.ContainsAny(b, "/\\") {
			return fmt.Errorf("models.brands contains invalid brand %q", b)
		}
	}
	if c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("search.default_top_k (%d) exceeds search.max_top_k (%d)",
			c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	if t := c.Search.DefaultThreshold; t != nil && (*t < -1 || *t > 1) {
		return fmt.Errorf("search.default_threshold must be in [-1, 1], got %v", *t)
	}
	switch c.Search.Algorithm {
	case "FLAT", "HNSW":
		// ok
	default:
		return fmt.Errorf("search.algorithm must be \"FLAT\" or \"HNSW\", got %q", c.Search.Algorithm)
	}
	return nil
}

// PipelineDefaults converts the pipeline and search sections into domain settings.
func (c *Config) PipelineDefaults() domain.PipelineConfig {
	threshold := 0.6
	if c.Search.DefaultThreshold != nil {
		threshold = *c.Search.DefaultThreshold
	}
	return domain.PipelineConfig{
		InputSize: c.Pipeline.InputSize,
		MaxPixels: c.Pipeline.MaxPixels,
		TargetDim: c.Pipeline.TargetDim,
		L2:        c.Pipeline.L2 == nil || *c.Pipeline.L2,
		TopK:      c.Search.DefaultTopK,
		MaxTopK:   c.Search.MaxTopK,
		Threshold: threshold,
	}
}

// ModelFiles converts the models section into registry file locations.
func (c *Config) ModelFiles() models.Files {
	return models.Files{
		Dir:               c.Models.Dir,
		Segmentation:      c.Models.Segmentation,
		Brand:             c.Models.Brand,
		Narcotic:          c.Models.Narcotic,
		BrandModelPattern: c.Models.BrandModelPattern,
		Brands:            c.Models.Brands,
	}
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
