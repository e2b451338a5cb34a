package ecp

import (
	"log/slog"

	"github.com/hupe1980/ecp/codec"
	"github.com/hupe1980/ecp/internal/resource"
)

// DefaultLeafCacheBytes is the default size of the block cache used by Open.
const DefaultLeafCacheBytes = 64 << 20

type options struct {
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	compression      Compression
	dtype            DType
	resources        *resource.Controller
	leafCacheBytes   int64
}

// Option configures Builder and Open behavior.
type Option func(*options)

// WithCodec configures the codec used for the manifest.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &ecp.BasicMetricsCollector{}
//	idx, _ := ecp.Open(ctx, store, ecp.WithMetricsCollector(metrics))
//	// ... search ...
//	stats := metrics.GetStats()
//	fmt.Printf("Searches: %d, Avg latency: %dns\n", stats.SearchCount, stats.SearchAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithCompression sets the block compression of written arrays.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithDType sets the storage type of written embeddings.
// Distances are always stored as float32.
func WithDType(dt DType) Option {
	return func(o *options) {
		o.dtype = dt
	}
}

// WithResourceLimits bounds assignment workers, flush throughput and cached
// bytes.
func WithResourceLimits(cfg ResourceConfig) Option {
	return func(o *options) {
		o.resources = resource.NewController(cfg)
	}
}

// WithLeafCacheBytes sets the block cache capacity used by Open.
// Zero disables caching.
func WithLeafCacheBytes(n int64) Option {
	return func(o *options) {
		o.leafCacheBytes = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		compression:      CompressionNone,
		dtype:            Float32,
		leafCacheBytes:   DefaultLeafCacheBytes,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
