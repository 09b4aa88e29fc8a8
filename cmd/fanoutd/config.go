package main

import (
	"fmt"

	"github.com/kbukum/fanout/config"
	"github.com/kbukum/fanout/database"
	"github.com/kbukum/fanout/httpclient"
	"github.com/kbukum/fanout/kafka"
	"github.com/kbukum/fanout/observability"
	"github.com/kbukum/fanout/orchestrator"
	"github.com/kbukum/fanout/redis"
	"github.com/kbukum/fanout/resilience"
	"github.com/kbukum/fanout/server"
	"github.com/kbukum/fanout/source"
	"github.com/kbukum/fanout/validation"
	"github.com/kbukum/fanout/version"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreDatabase = "database"
	StoreRedis    = "redis"
)

const defaultCacheSize = 1024

// Config is the fanoutd configuration file layout.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Resilience    ResilienceConfig     `yaml:"resilience" mapstructure:"resilience"`
	Orchestrator  orchestrator.Config  `yaml:"orchestrator" mapstructure:"orchestrator"`
	HTTPClient    httpclient.Config    `yaml:"http_client" mapstructure:"http_client"`
	Store         StoreConfig          `yaml:"store" mapstructure:"store"`
	Database      database.Config      `yaml:"database" mapstructure:"database"`
	Redis         redis.Config         `yaml:"redis" mapstructure:"redis"`
	Kafka         kafka.Config         `yaml:"kafka" mapstructure:"kafka"`
	Server        server.Config        `yaml:"server" mapstructure:"server"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
	Sources       []source.Config      `yaml:"sources" mapstructure:"sources"`
}

// ResilienceConfig holds the process-wide breaker and outbound call budget.
type ResilienceConfig struct {
	CircuitBreaker resilience.CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
	// MaxConcurrentCalls caps in-flight outbound HTTP calls.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls" mapstructure:"max_concurrent_calls"`
}

// StoreConfig selects the run store.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	// CacheSize is the number of terminal runs kept in the LRU. Negative disables it.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size"`
}

// ApplyDefaults fills unset fields in every section.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "fanoutd"
	}
	if c.Version == "" {
		c.Version = version.Version
	}
	c.ServiceConfig.ApplyDefaults()

	c.Resilience.CircuitBreaker.ApplyDefaults()
	if c.Resilience.MaxConcurrentCalls <= 0 {
		c.Resilience.MaxConcurrentCalls = resilience.DefaultLimiterCapacity
	}
	c.Orchestrator.ApplyDefaults()
	c.HTTPClient.ApplyDefaults()

	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Store.CacheSize == 0 {
		c.Store.CacheSize = defaultCacheSize
	}
	switch c.Store.Driver {
	case StoreDatabase:
		c.Database.Enabled = true
	case StoreRedis:
		c.Redis.Enabled = true
	}
	c.Database.ApplyDefaults()
	c.Redis.ApplyDefaults()
	c.Kafka.ApplyDefaults()
	c.Server.ApplyDefaults()

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = c.Name
	}
	if c.Observability.ServiceVersion == "" {
		c.Observability.ServiceVersion = c.Version
	}
	if c.Observability.Environment == "" {
		c.Observability.Environment = c.Environment
	}
	c.Observability.ApplyDefaults()

	for i := range c.Sources {
		if c.Sources[i].Method == "" {
			c.Sources[i].Method = "GET"
		}
	}
}

type section struct {
	name string
	fn   func() error
}

// Validate checks every section and the configured sources.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}

	v := validation.New()
	v.OneOf("store.driver", c.Store.Driver, []string{StoreMemory, StoreDatabase, StoreRedis})
	v.Min("resilience.max_concurrent_calls", c.Resilience.MaxConcurrentCalls, 1)
	v.Min("resilience.circuit_breaker.failure_threshold", c.Resilience.CircuitBreaker.FailureThreshold, 1)
	if err := v.Err(); err != nil {
		return err
	}

	sections := []section{
		{"orchestrator", c.Orchestrator.Validate},
		{"http_client", c.HTTPClient.Validate},
		{"server", c.Server.Validate},
		{"observability", c.Observability.Validate},
		{"kafka", c.Kafka.Validate},
	}
	if c.Database.Enabled {
		sections = append(sections, section{"database", c.Database.Validate})
	}
	if c.Redis.Enabled {
		sections = append(sections, section{"redis", c.Redis.Validate})
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}

	for i := range c.Sources {
		if err := validation.Validate(&c.Sources[i]); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
	}
	return nil
}
