package httpclient

import (
	"fmt"
	"time"

	"github.com/kbukum/fanout/resilience"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 4 << 20
	defaultUserAgent    = "fanoutd/1.0"
)

// Config configures the resilient client.
type Config struct {
	// Timeout bounds each attempt. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// MaxBodyBytes caps how much of a response body is read. Defaults to 4 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`

	// UserAgent is sent when a request sets none.
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`

	// Headers are default headers applied to all requests.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// TLS configures TLS settings for the default transport.
	TLS *TLSConfig `yaml:"tls" mapstructure:"tls"`

	// Retry configures attempts, backoff and retryable statuses.
	Retry resilience.RetryPolicy `yaml:"retry" mapstructure:"retry"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	c.Retry.ApplyDefaults()
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("httpclient: timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("httpclient: retry.max_attempts must be at least 1")
	}
	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return err
		}
	}
	return nil
}
