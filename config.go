package cadence

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for a scheduling Node.
type Config struct {
	// NodeID identifies this node in the cluster. Empty means generate one.
	NodeID string `yaml:"node_id"`

	// BucketCount is the number of keyspace partitions. It must be identical
	// on every node of a cluster.
	BucketCount int `yaml:"bucket_count"`

	// LeaseTTL is how long a bucket lease lives without renewal.
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// RenewInterval is how often held leases are renewed. Must be below
	// LeaseTTL.
	RenewInterval time.Duration `yaml:"renew_interval"`

	// RenewRetries is how many jittered retries a failing renewal gets
	// before the bucket is treated as voluntarily released.
	RenewRetries int `yaml:"renew_retries"`

	// RenewRetryDelay is the base delay between renewal retries.
	RenewRetryDelay time.Duration `yaml:"renew_retry_delay"`

	// HeartbeatInterval is how often the node refreshes its registration.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// NodeAliveWithin is the heartbeat age after which a node no longer
	// counts towards the fair share of buckets.
	NodeAliveWithin time.Duration `yaml:"node_alive_within"`

	// TickInterval is the scheduling actor's timer resolution.
	TickInterval time.Duration `yaml:"tick_interval"`

	// CatchUpInterval is how often the actor loads runs created since its
	// watermark. Zero disables catch-up.
	CatchUpInterval time.Duration `yaml:"catch_up_interval"`

	// CatchUpBatch caps the number of runs loaded per catch-up.
	CatchUpBatch int `yaml:"catch_up_batch"`

	// DedupTTL is how long applied broadcast event ids are remembered.
	DedupTTL time.Duration `yaml:"dedup_ttl"`

	// IOConcurrency bounds concurrent catalog and executor calls issued on
	// behalf of the actor.
	IOConcurrency int `yaml:"io_concurrency"`

	// InboxSize is the actor's message buffer.
	InboxSize int `yaml:"inbox_size"`

	// LoadRetryInitial and LoadRetryMax bound the backoff applied when a
	// bucket reload from the catalog fails.
	LoadRetryInitial time.Duration `yaml:"load_retry_initial"`
	LoadRetryMax     time.Duration `yaml:"load_retry_max"`

	// DispatchTimeout bounds a single executor dispatch call.
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BucketCount:       64,
		LeaseTTL:          15 * time.Second,
		RenewInterval:     5 * time.Second,
		RenewRetries:      3,
		RenewRetryDelay:   200 * time.Millisecond,
		HeartbeatInterval: 5 * time.Second,
		NodeAliveWithin:   20 * time.Second,
		TickInterval:      1 * time.Second,
		CatchUpInterval:   30 * time.Second,
		CatchUpBatch:      500,
		DedupTTL:          1 * time.Hour,
		IOConcurrency:     16,
		InboxSize:         1024,
		LoadRetryInitial:  1 * time.Second,
		LoadRetryMax:      1 * time.Minute,
		DispatchTimeout:   10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.BucketCount <= 0:
		return fmt.Errorf("%w: bucket_count must be positive", ErrInvalidConfig)
	case c.LeaseTTL <= 0:
		return fmt.Errorf("%w: lease_ttl must be positive", ErrInvalidConfig)
	case c.RenewInterval <= 0 || c.RenewInterval >= c.LeaseTTL:
		return fmt.Errorf("%w: renew_interval must be in (0, lease_ttl)", ErrInvalidConfig)
	case c.RenewRetries < 0:
		return fmt.Errorf("%w: renew_retries must not be negative", ErrInvalidConfig)
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: tick_interval must be positive", ErrInvalidConfig)
	case c.IOConcurrency <= 0:
		return fmt.Errorf("%w: io_concurrency must be positive", ErrInvalidConfig)
	case c.InboxSize <= 0:
		return fmt.Errorf("%w: inbox_size must be positive", ErrInvalidConfig)
	case c.DedupTTL <= 0:
		return fmt.Errorf("%w: dedup_ttl must be positive", ErrInvalidConfig)
	}
	return nil
}

// ParseConfig decodes YAML on top of DefaultConfig. Durations use Go
// duration strings ("15s", "1m").
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("cadence: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cadence: read config %s: %w", path, err)
	}
	return ParseConfig(data)
}
