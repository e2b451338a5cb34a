package ecp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/ecp/codec"
	"github.com/hupe1980/ecp/distance"
	"github.com/hupe1980/ecp/internal/arraystore"
	"github.com/hupe1980/ecp/internal/compress"
	"gopkg.in/yaml.v3"
)

// Config holds a complete build and storage configuration, usually loaded
// from a YAML file with LoadConfig.
type Config struct {
	Build   BuildConfig   `yaml:"build"`
	Assign  AssignConfig  `yaml:"assign"`
	Search  SearchConfig  `yaml:"search"`
	Storage StorageConfig `yaml:"storage"`
}

// BuildConfig holds tree shape and encoding settings.
type BuildConfig struct {
	Levels            int    `yaml:"levels"`
	TargetClusterSize int    `yaml:"target_cluster_size"`
	Metric            string `yaml:"metric"`
	Selection         string `yaml:"selection"`
	Seed              int64  `yaml:"seed"`
	DType             string `yaml:"dtype"`
	Compression       string `yaml:"compression"`
}

// AssignConfig holds the settings of concurrent item assignment.
type AssignConfig struct {
	ChunkSize int           `yaml:"chunk_size"`
	Workers   int           `yaml:"workers"`
	Timeout   time.Duration `yaml:"timeout"`
	// IOLimit caps flush throughput in bytes per second. 0 is unlimited.
	IOLimit int64 `yaml:"io_limit"`
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	Budget int `yaml:"budget"`
	K      int `yaml:"k"`
}

// Storage backends.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendS3     = "s3"
	BackendMinIO  = "minio"
)

// StorageConfig selects the blob store holding the index.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	// Path is the index directory of the local backend.
	Path   string `yaml:"path"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
	// DynamoDBTable enables conditional commits of CURRENT on S3.
	DynamoDBTable string `yaml:"dynamodb_table"`

	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`

	LeafCacheBytes int64 `yaml:"leaf_cache_bytes"`
	// Codec names the manifest codec ("json" or "go-json").
	Codec string `yaml:"codec"`
}

// DefaultConfig returns the configuration used for unset fields.
func DefaultConfig() Config {
	return Config{
		Build: BuildConfig{
			Levels:            2,
			TargetClusterSize: 100,
			Metric:            distance.MetricL2.String(),
			Selection:         SelectOffset.String(),
			DType:             Float32.String(),
			Compression:       CompressionNone.String(),
		},
		Assign: AssignConfig{
			ChunkSize: DefaultChunkSize,
		},
		Search: SearchConfig{
			Budget: 10,
			K:      10,
		},
		Storage: StorageConfig{
			Backend:        BackendLocal,
			Path:           "./index",
			LeafCacheBytes: DefaultLeafCacheBytes,
		},
	}
}

// LoadConfig reads the YAML file at path on top of DefaultConfig and
// validates the result. A relative local storage path is resolved against
// the directory of the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Storage.Backend == BackendLocal && cfg.Storage.Path != "" && !filepath.IsAbs(cfg.Storage.Path) {
		cfg.Storage.Path = filepath.Join(filepath.Dir(path), cfg.Storage.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field without touching storage.
func (c *Config) Validate() error {
	if c.Build.Levels < 1 {
		return fmt.Errorf("%w: levels must be at least 1, got %d", ErrInvalidArgument, c.Build.Levels)
	}
	if c.Build.TargetClusterSize < 1 {
		return fmt.Errorf("%w: target_cluster_size must be at least 1, got %d", ErrInvalidArgument, c.Build.TargetClusterSize)
	}
	if _, err := distance.Parse(c.Build.Metric); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if _, err := ParseSelectionMode(c.Build.Selection); err != nil {
		return err
	}
	if _, err := arraystore.ParseDType(c.Build.DType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if _, err := compress.Parse(c.Build.Compression); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if c.Assign.ChunkSize < 0 || c.Assign.Timeout < 0 || c.Assign.IOLimit < 0 {
		return fmt.Errorf("%w: assign settings must not be negative", ErrInvalidArgument)
	}
	if c.Search.Budget < 0 {
		return fmt.Errorf("%w: search budget must not be negative", ErrInvalidArgument)
	}
	if c.Search.K < 1 {
		return fmt.Errorf("%w: search k must be at least 1", ErrInvalidK)
	}
	return c.Storage.validate()
}

func (s *StorageConfig) validate() error {
	switch strings.ToLower(s.Backend) {
	case BackendLocal:
		if s.Path == "" {
			return fmt.Errorf("%w: local storage requires a path", ErrInvalidArgument)
		}
	case BackendMemory:
	case BackendS3:
		if s.Bucket == "" {
			return fmt.Errorf("%w: s3 storage requires a bucket", ErrInvalidArgument)
		}
	case BackendMinIO:
		if s.Bucket == "" || s.Endpoint == "" {
			return fmt.Errorf("%w: minio storage requires an endpoint and a bucket", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidArgument, s.Backend)
	}
	if s.LeafCacheBytes < 0 {
		return fmt.Errorf("%w: leaf_cache_bytes must not be negative", ErrInvalidArgument)
	}
	if s.Codec != "" {
		if _, err := codec.ByName(s.Codec); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}
	return nil
}

// BuildParams converts the build section. The config must be valid.
func (c *Config) BuildParams() (BuildParams, error) {
	metric, err := distance.Parse(c.Build.Metric)
	if err != nil {
		return BuildParams{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	mode, err := ParseSelectionMode(c.Build.Selection)
	if err != nil {
		return BuildParams{}, err
	}
	return BuildParams{
		Levels:            c.Build.Levels,
		TargetClusterSize: c.Build.TargetClusterSize,
		Metric:            metric,
		Selection:         mode,
		Seed:              c.Build.Seed,
	}, nil
}

// AssignOptions converts the assign section.
func (c *Config) AssignOptions() AssignOptions {
	return AssignOptions{
		ChunkSize: c.Assign.ChunkSize,
		Workers:   c.Assign.Workers,
		Timeout:   c.Assign.Timeout,
	}
}

// Options converts the encoding, resource and cache settings.
func (c *Config) Options() ([]Option, error) {
	dt, err := arraystore.ParseDType(c.Build.DType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	ct, err := compress.Parse(c.Build.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	opts := []Option{
		WithDType(dt),
		WithCompression(ct),
		WithLeafCacheBytes(c.Storage.LeafCacheBytes),
	}
	if c.Storage.Codec != "" {
		mc, err := codec.ByName(c.Storage.Codec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		opts = append(opts, WithCodec(mc))
	}
	if c.Assign.IOLimit > 0 || c.Assign.Workers > 0 {
		opts = append(opts, WithResourceLimits(ResourceConfig{
			MaxWorkers:         int64(max(c.Assign.Workers, 1)),
			IOLimitBytesPerSec: c.Assign.IOLimit,
		}))
	}
	return opts, nil
}
