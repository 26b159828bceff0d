package safefetch

import (
	"fmt"
	"time"

	"github.com/c360studio/safefetch/source/weburl"
)

// Defaults applied when the configuration leaves a field empty.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultTotalTimeout = 60 * time.Second
	DefaultMaxRedirects = 5
	DefaultMaxBodyBytes = 2 * 1024 * 1024
	DefaultUserAgent    = "Mozilla/5.0 (compatible; safefetch/1.0)"
)

// Config holds fetch-layer limits. Durations are strings in time.ParseDuration
// format so the struct can be loaded from YAML or JSON unchanged.
type Config struct {
	// Timeout bounds each hop: DNS lookup, connect, headers and body read.
	Timeout string `json:"timeout" yaml:"timeout"`

	// TotalTimeout bounds the whole call across all redirect hops.
	TotalTimeout string `json:"total_timeout" yaml:"total_timeout"`

	// MaxRedirects is the number of redirects followed before failing.
	// Zero selects the default; -1 (NoRedirects) follows none.
	MaxRedirects int `json:"max_redirects" yaml:"max_redirects"`

	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`

	// UserAgent is sent when the caller does not set one.
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// BlockedHosts are host glob patterns rejected without resolution.
	// Nil selects weburl.DefaultBlockedHosts; an empty list disables them.
	BlockedHosts []string `json:"blocked_hosts,omitempty" yaml:"blocked_hosts,omitempty"`

	// Resolver selects the DNS resolver used for classification and dialing.
	Resolver ResolverConfig `json:"resolver" yaml:"resolver"`
}

// ResolverConfig selects a DNS resolver.
type ResolverConfig struct {
	// Server is an upstream nameserver (host or host:port). Empty uses the
	// system resolver.
	Server string `json:"server" yaml:"server"`

	// Timeout bounds a single DNS exchange with Server.
	Timeout string `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns the default fetch configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:      "10s",
		TotalTimeout: "60s",
		MaxRedirects: DefaultMaxRedirects,
		MaxBodyBytes: DefaultMaxBodyBytes,
		UserAgent:    DefaultUserAgent,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"timeout":          c.Timeout,
		"total_timeout":    c.TotalTimeout,
		"resolver.timeout": c.Resolver.Timeout,
	} {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.GetTotalTimeout() < c.GetTimeout() {
		return fmt.Errorf("total_timeout (%s) must not be shorter than timeout (%s)",
			c.GetTotalTimeout(), c.GetTimeout())
	}
	if c.MaxRedirects < NoRedirects {
		return fmt.Errorf("max_redirects must be -1 or greater, got %d", c.MaxRedirects)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must be non-negative")
	}
	if err := weburl.ValidatePatterns(c.BlockedHosts); err != nil {
		return fmt.Errorf("blocked_hosts: %w", err)
	}
	return nil
}

// parseDurationOrDefault parses a duration string and returns the default if empty or invalid.
func parseDurationOrDefault(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// GetTimeout returns the per-hop timeout.
func (c *Config) GetTimeout() time.Duration {
	return parseDurationOrDefault(c.Timeout, DefaultTimeout)
}

// GetTotalTimeout returns the whole-call time budget.
func (c *Config) GetTotalTimeout() time.Duration {
	return parseDurationOrDefault(c.TotalTimeout, DefaultTotalTimeout)
}

// GetMaxRedirects returns the redirect limit with default.
func (c *Config) GetMaxRedirects() int {
	switch {
	case c.MaxRedirects == NoRedirects:
		return 0
	case c.MaxRedirects <= 0:
		return DefaultMaxRedirects
	}
	return c.MaxRedirects
}

// GetMaxBodyBytes returns the body cap with default.
func (c *Config) GetMaxBodyBytes() int64 {
	if c.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return c.MaxBodyBytes
}

// GetUserAgent returns the user agent with default.
func (c *Config) GetUserAgent() string {
	if c.UserAgent == "" {
		return DefaultUserAgent
	}
	return c.UserAgent
}

// GetBlockedHosts returns the host deny patterns with default.
func (c *Config) GetBlockedHosts() []string {
	if c.BlockedHosts == nil {
		return weburl.DefaultBlockedHosts
	}
	return c.BlockedHosts
}

// NewResolver builds the resolver selected by the configuration.
func (c *Config) NewResolver() weburl.Resolver {
	if c.Resolver.Server == "" {
		return weburl.SystemResolver()
	}
	return weburl.NewDNSResolver(c.Resolver.Server, parseDurationOrDefault(c.Resolver.Timeout, 5*time.Second))
}
