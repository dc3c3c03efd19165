// ABOUTME: Engine configuration with defaulted fields
// ABOUTME: Constructed in Go, or loaded from YAML by the cmd/tismet CLI

package engine

import (
	"time"

	"github.com/nainya/tismet/pkg/page"
	"github.com/nainya/tismet/pkg/pagecache"
	"github.com/nainya/tismet/pkg/pagestore"
	"github.com/nainya/tismet/pkg/wal"
)

// Config mirrors the teacher's KV{Path: ...} constant-defaults style,
// generalized to the handful of tunables spec.md §4 names explicitly
// (page size, segment size, WAL buffer count, checkpoint interval,
// cache age/scan interval).
type Config struct {
	DataPath string `yaml:"data_path"`
	WALPath  string `yaml:"wal_path"`

	PageSize    int `yaml:"page_size"`
	SegmentSize int `yaml:"segment_size"`

	WALBufferCount int           `yaml:"wal_buffer_count"`
	WALIdleTimeout time.Duration `yaml:"wal_idle_timeout"`

	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`

	CacheScanInterval time.Duration `yaml:"cache_scan_interval"`
	CacheMaxAge       time.Duration `yaml:"cache_max_age"`

	MaxMetrics uint32 `yaml:"max_metrics"`
}

// DefaultConfig returns a Config with every tunable set to the default
// its owning package already declares, so engine defaults can never
// drift from the package that actually enforces them.
func DefaultConfig(dataPath, walPath string) Config {
	return Config{
		DataPath:           dataPath,
		WALPath:            walPath,
		PageSize:           page.DefaultSize,
		SegmentSize:        pagestore.DefaultSegmentSize,
		WALBufferCount:     wal.DefaultBufferCount,
		WALIdleTimeout:     wal.DefaultIdleTimeout,
		CheckpointInterval: wal.DefaultCheckpointInterval,
		CacheScanInterval:  pagecache.DefaultScanInterval,
		CacheMaxAge:        pagecache.DefaultMaxAge,
		MaxMetrics:         1 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.DataPath, c.WALPath)
	if c.PageSize != 0 {
		d.PageSize = c.PageSize
	}
	if c.SegmentSize != 0 {
		d.SegmentSize = c.SegmentSize
	}
	if c.WALBufferCount != 0 {
		d.WALBufferCount = c.WALBufferCount
	}
	if c.WALIdleTimeout != 0 {
		d.WALIdleTimeout = c.WALIdleTimeout
	}
	if c.CheckpointInterval != 0 {
		d.CheckpointInterval = c.CheckpointInterval
	}
	if c.CacheScanInterval != 0 {
		d.CacheScanInterval = c.CacheScanInterval
	}
	if c.CacheMaxAge != 0 {
		d.CacheMaxAge = c.CacheMaxAge
	}
	if c.MaxMetrics != 0 {
		d.MaxMetrics = c.MaxMetrics
	}
	return d
}
