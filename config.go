package loam

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from yaml strings like
// "150ms" or "5s". Plain integers decode as nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// Config holds file-based client settings. All fields are optional;
// zero values fall back to the defaults documented on Client.
type Config struct {
	// Database is the engine DSN, e.g. "file:app.db" or ":memory:".
	Database string `yaml:"database"`

	// BusyTimeout is appended to the DSN as the engine's lock wait.
	BusyTimeout Duration `yaml:"busy_timeout"`

	// BatchSize chunks bulk inserts.
	BatchSize int `yaml:"batch_size"`

	// SlowThreshold marks statements slower than this for logging.
	SlowThreshold Duration `yaml:"slow_threshold"`

	// CacheTTL enables the read cache when positive.
	CacheTTL Duration `yaml:"cache_ttl"`

	// Retry is the default retry policy for handles derived with it.
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig mirrors RetryOptions in file form.
type RetryConfig struct {
	Attempts int      `yaml:"attempts"`
	Backoff  string   `yaml:"backoff"` // "fixed" or "exponential"
	Delay    Duration `yaml:"delay"`
	Ignore   bool     `yaml:"ignore"`
}

// Options converts the file form into RetryOptions. An unknown backoff
// name falls back to fixed.
func (rc RetryConfig) Options() RetryOptions {
	backoff := BackoffFixed
	if rc.Backoff == "exponential" {
		backoff = BackoffExponential
	}
	return RetryOptions{
		Attempts: rc.Attempts,
		Backoff:  backoff,
		Delay:    rc.Delay.Std(),
		Ignore:   rc.Ignore,
	}
}

// DSN returns the engine connection string with the busy timeout
// applied as a pragma parameter.
func (c *Config) DSN() string {
	dsn := c.Database
	if dsn == "" {
		dsn = ":memory:"
	}
	if c.BusyTimeout > 0 {
		sep := "?"
		for _, r := range dsn {
			if r == '?' {
				sep = "&"
				break
			}
		}
		dsn += fmt.Sprintf("%s_pragma=busy_timeout(%d)", sep, c.BusyTimeout.Std().Milliseconds())
	}
	return dsn
}

// LoadConfig parses a yaml configuration file.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loam: reading config: %w", err)
	}
	return ParseConfig(buf)
}

// ParseConfig parses yaml configuration bytes.
func ParseConfig(buf []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("loam: parsing config: %w", err)
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("loam: config: batch_size must not be negative")
	}
	return cfg, nil
}
