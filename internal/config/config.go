// Package config loads incidentd settings from defaults, an optional YAML
// file and INCIDENTD_ environment variables, in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INCIDENTD_"

// Config is the full incidentd configuration.
type Config struct {
	Partitions int              `koanf:"partitions" validate:"min=1,max=64"`
	DataDir    string           `koanf:"data_dir" validate:"required"`
	Log        LogConfig        `koanf:"log"`
	Processing ProcessingConfig `koanf:"processing"`
	Client     ClientConfig     `koanf:"client"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Models     ModelsConfig     `koanf:"models"`
}

// LogConfig tunes partition log appends. A zero backpressure rate disables
// the limiter. With a rate set, the burst must hold the largest batch.
type LogConfig struct {
	BackpressureRate  float64       `koanf:"backpressure_rate" validate:"gte=0"`
	BackpressureBurst int           `koanf:"backpressure_burst" validate:"gte=0"`
	RetryInterval     time.Duration `koanf:"retry_interval" validate:"gt=0"`
	MaxBatchSize      int           `koanf:"max_batch_size" validate:"min=1"`
}

// ProcessingConfig tunes the stream processor.
type ProcessingConfig struct {
	MaxMessageSize   int `koanf:"max_message_size" validate:"min=1"`
	SnapshotInterval int `koanf:"snapshot_interval" validate:"gte=0"`
}

// ClientConfig tunes the embedded client.
type ClientConfig struct {
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// MetricsConfig configures the metrics and health endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Listen  string `koanf:"listen" validate:"required,hostname_port"`
}

// ModelsConfig points at the CUE process models deployed on start.
type ModelsConfig struct {
	Dir   string `koanf:"dir" validate:"required_if=Watch true"`
	Watch bool   `koanf:"watch"`
}

var defaults = map[string]any{
	"partitions":                   1,
	"data_dir":                     "data",
	"log.backpressure_rate":        0.0,
	"log.backpressure_burst":       1024,
	"log.retry_interval":           10 * time.Millisecond,
	"log.max_batch_size":           1024,
	"processing.max_message_size":  4 * 1024 * 1024,
	"processing.snapshot_interval": 1000,
	"client.request_timeout":       15 * time.Second,
	"metrics.enabled":              true,
	"metrics.listen":               ":9464",
	"models.dir":                   "",
	"models.watch":                 false,
}

// sections are the nested config blocks. Environment names are split after
// the section, so INCIDENTD_LOG_MAX_BATCH_SIZE maps to log.max_batch_size.
var sections = []string{"log", "processing", "client", "metrics", "models"}

// Load reads the configuration. path may be empty to skip the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Log.BackpressureRate > 0 && c.Log.BackpressureBurst < c.Log.MaxBatchSize {
		return fmt.Errorf("invalid config: Log.BackpressureBurst (%d) must be at least Log.MaxBatchSize (%d) when a backpressure rate is set",
			c.Log.BackpressureBurst, c.Log.MaxBatchSize)
	}
	return nil
}

func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	for _, section := range sections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	return key
}
