package mediasvc

import "time"

// MediaConfig holds configuration parameters for the media cache.
type MediaConfig struct {
	// MaxCacheSize is the ceiling for the summed payload size in bytes.
	// Default is 100MB.
	MaxCacheSize int64 `env:"MAX_CACHE_SIZE" default:"104857600"`

	// MaxEntries is the ceiling for the number of cached records.
	MaxEntries int `env:"MAX_ENTRIES" default:"500"`

	// HysteresisRatio is the fraction of both ceilings eviction brings the cache
	// down to once either ceiling is exceeded.
	HysteresisRatio float64 `env:"HYSTERESIS_RATIO" default:"0.8"`

	// EvictPending allows eviction of records that have not been uploaded yet.
	// When disabled the cache may stay above its ceilings while offline.
	EvictPending bool `env:"EVICT_PENDING" default:"true"`

	// OpenTimeout bounds the lazy opening of the store on first use.
	OpenTimeout time.Duration `env:"OPEN_TIMEOUT" default:"30s"`
}

// DefaultMediaConfig returns the configuration used when no environment is available.
func DefaultMediaConfig() MediaConfig {
	return MediaConfig{
		MaxCacheSize:    100 * 1024 * 1024,
		MaxEntries:      500,
		HysteresisRatio: 0.8,
		EvictPending:    true,
		OpenTimeout:     30 * time.Second,
	}
}

func (cfg MediaConfig) targetSize() int64 {
	return int64(float64(cfg.MaxCacheSize) * cfg.HysteresisRatio)
}

func (cfg MediaConfig) targetEntries() int {
	return int(float64(cfg.MaxEntries) * cfg.HysteresisRatio)
}

func (cfg MediaConfig) exceeded(totalSize int64, entryCount int) bool {
	return totalSize > cfg.MaxCacheSize || entryCount > cfg.MaxEntries
}
