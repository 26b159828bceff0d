// Package config provides configuration loading and management for safefetch.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	newslettercollector "github.com/c360studio/safefetch/processor/newsletter-collector"
	"github.com/c360studio/safefetch/source/safefetch"
)

// Config represents the complete safefetch configuration
type Config struct {
	Fetch     safefetch.Config           `yaml:"fetch"`
	Collector newslettercollector.Config `yaml:"collector"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Fetch:     safefetch.DefaultConfig(),
		Collector: newslettercollector.DefaultConfig(),
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if err := c.Collector.Validate(); err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := readInto(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

// readInto decodes the YAML file at path into config.
func readInto(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Fetch
	f, of := &c.Fetch, other.Fetch
	setString(&f.Timeout, of.Timeout)
	setString(&f.TotalTimeout, of.TotalTimeout)
	setInt(&f.MaxRedirects, of.MaxRedirects)
	if of.MaxBodyBytes != 0 {
		f.MaxBodyBytes = of.MaxBodyBytes
	}
	setString(&f.UserAgent, of.UserAgent)
	// An explicit empty list disables the default patterns.
	if of.BlockedHosts != nil {
		f.BlockedHosts = of.BlockedHosts
	}
	setString(&f.Resolver.Server, of.Resolver.Server)
	setString(&f.Resolver.Timeout, of.Resolver.Timeout)

	// Collector
	col, oc := &c.Collector, other.Collector
	setInt(&col.MaxNewsletters, oc.MaxNewsletters)
	setInt(&col.MaxPostsPerNewsletter, oc.MaxPostsPerNewsletter)
	setInt(&col.DefaultPostsPerNewsletter, oc.DefaultPostsPerNewsletter)
	setInt(&col.MaxContentChars, oc.MaxContentChars)
	if oc.MaxPostBytes != 0 {
		col.MaxPostBytes = oc.MaxPostBytes
	}
	setInt(&col.Concurrency, oc.Concurrency)
	setString(&col.FeedPath, oc.FeedPath)
	setString(&col.RequestDelay, oc.RequestDelay)
	setInt(&col.FeedRetries, oc.FeedRetries)
	setString(&col.RetryInterval, oc.RetryInterval)
	setString(&col.UserAgent, oc.UserAgent)
	if len(oc.DefaultNewsletters) > 0 {
		col.DefaultNewsletters = oc.DefaultNewsletters
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// NewFetcher builds the safe fetcher described by the configuration.
// Metrics are registered on reg when it is non-nil.
func (c *Config) NewFetcher(logger *slog.Logger, reg prometheus.Registerer) *safefetch.Fetcher {
	opts := []safefetch.Option{safefetch.WithLogger(logger)}
	if reg != nil {
		opts = append(opts, safefetch.WithMetrics(safefetch.NewMetrics(reg)))
	}
	return safefetch.NewFetcher(c.Fetch, opts...)
}

// NewCollector builds a newsletter collector on top of fetcher, sharing its
// URL classifier.
func (c *Config) NewCollector(fetcher *safefetch.Fetcher, logger *slog.Logger) *newslettercollector.Collector {
	return newslettercollector.NewCollector(c.Collector, fetcher, fetcher.Classifier(), logger)
}
