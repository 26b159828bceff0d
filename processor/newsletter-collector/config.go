package newslettercollector

import (
	"fmt"
	"time"

	"github.com/c360studio/safefetch/source/safefetch"
)

// Defaults applied when the configuration leaves a field empty.
const (
	DefaultMaxNewsletters        = 10
	DefaultMaxPostsPerNewsletter = 5
	DefaultPostsPerNewsletter    = 3
	DefaultMaxContentChars       = 5000
	DefaultConcurrency           = 4
	DefaultFeedPath              = "/feed"
	DefaultRequestDelay          = time.Second
	DefaultFeedRetries           = 2
	DefaultRetryInterval         = 500 * time.Millisecond
	DefaultMaxPostBytes          = 2 * 1024 * 1024
	DefaultUserAgent             = "Mozilla/5.0 (compatible; AI Research Bot/1.0)"
)

// Config holds configuration for the newsletter collector.
type Config struct {
	// MaxNewsletters bounds how many newsletters one request may scan.
	// Longer lists are truncated.
	MaxNewsletters int `json:"max_newsletters" yaml:"max_newsletters"`

	// MaxPostsPerNewsletter caps the requested posts per newsletter.
	MaxPostsPerNewsletter int `json:"max_posts_per_newsletter" yaml:"max_posts_per_newsletter"`

	// DefaultPostsPerNewsletter is used when a request does not say.
	DefaultPostsPerNewsletter int `json:"default_posts_per_newsletter" yaml:"default_posts_per_newsletter"`

	// MaxContentChars caps the extracted text of each post, in characters.
	MaxContentChars int `json:"max_content_chars" yaml:"max_content_chars"`

	// MaxPostBytes caps how much of each post page is downloaded.
	MaxPostBytes int64 `json:"max_post_bytes" yaml:"max_post_bytes"`

	// Concurrency is how many newsletters are processed at once.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// FeedPath is appended to a newsletter URL to locate its feed.
	FeedPath string `json:"feed_path" yaml:"feed_path"`

	// RequestDelay is the pause between post fetches of one newsletter.
	// "0s" disables it.
	RequestDelay string `json:"request_delay" yaml:"request_delay"`

	// FeedRetries is how many times a feed fetch is retried after a
	// network failure. Zero disables retries.
	FeedRetries int `json:"feed_retries" yaml:"feed_retries"`

	// RetryInterval is the initial backoff between feed retries.
	RetryInterval string `json:"retry_interval" yaml:"retry_interval"`

	// UserAgent is sent with feed and post requests.
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// DefaultNewsletters are scanned when a request lists none.
	DefaultNewsletters []string `json:"default_newsletters" yaml:"default_newsletters"`
}

// DefaultConfig returns default configuration for the newsletter collector.
func DefaultConfig() Config {
	return Config{
		MaxNewsletters:            DefaultMaxNewsletters,
		MaxPostsPerNewsletter:     DefaultMaxPostsPerNewsletter,
		DefaultPostsPerNewsletter: DefaultPostsPerNewsletter,
		MaxContentChars:           DefaultMaxContentChars,
		MaxPostBytes:              DefaultMaxPostBytes,
		Concurrency:               DefaultConcurrency,
		FeedPath:                  DefaultFeedPath,
		RequestDelay:              "1s",
		FeedRetries:               DefaultFeedRetries,
		RetryInterval:             "500ms",
		UserAgent:                 DefaultUserAgent,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.MaxNewsletters < 0 {
		return fmt.Errorf("max_newsletters must be non-negative")
	}
	if c.MaxPostsPerNewsletter < 0 {
		return fmt.Errorf("max_posts_per_newsletter must be non-negative")
	}
	if c.DefaultPostsPerNewsletter < 0 {
		return fmt.Errorf("default_posts_per_newsletter must be non-negative")
	}
	if c.DefaultPostsPerNewsletter > c.GetMaxPostsPerNewsletter() {
		return fmt.Errorf("default_posts_per_newsletter (%d) must not exceed max_posts_per_newsletter (%d)",
			c.DefaultPostsPerNewsletter, c.GetMaxPostsPerNewsletter())
	}
	if c.MaxContentChars < 0 {
		return fmt.Errorf("max_content_chars must be non-negative")
	}
	if c.MaxPostBytes < 0 {
		return fmt.Errorf("max_post_bytes must be non-negative")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative")
	}
	if c.FeedRetries < 0 {
		return fmt.Errorf("feed_retries must be non-negative")
	}
	if c.RequestDelay != "" {
		d, err := time.ParseDuration(c.RequestDelay)
		if err != nil {
			return fmt.Errorf("invalid request_delay format: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("request_delay must be non-negative")
		}
	}
	if c.RetryInterval != "" {
		if _, err := time.ParseDuration(c.RetryInterval); err != nil {
			return fmt.Errorf("invalid retry_interval format: %w", err)
		}
	}
	return nil
}

// GetMaxNewsletters returns the newsletter limit with default.
func (c *Config) GetMaxNewsletters() int {
	if c.MaxNewsletters <= 0 {
		return DefaultMaxNewsletters
	}
	return c.MaxNewsletters
}

// GetMaxPostsPerNewsletter returns the per-newsletter post cap with default.
func (c *Config) GetMaxPostsPerNewsletter() int {
	if c.MaxPostsPerNewsletter <= 0 {
		return DefaultMaxPostsPerNewsletter
	}
	return c.MaxPostsPerNewsletter
}

// GetDefaultPostsPerNewsletter returns the post count used when a request
// does not set one.
func (c *Config) GetDefaultPostsPerNewsletter() int {
	if c.DefaultPostsPerNewsletter <= 0 {
		return DefaultPostsPerNewsletter
	}
	return c.DefaultPostsPerNewsletter
}

// GetMaxContentChars returns the content cap with default.
func (c *Config) GetMaxContentChars() int {
	if c.MaxContentChars <= 0 {
		return DefaultMaxContentChars
	}
	return c.MaxContentChars
}

// GetMaxPostBytes returns the download cap for post pages.
func (c *Config) GetMaxPostBytes() int64 {
	if c.MaxPostBytes <= 0 {
		return DefaultMaxPostBytes
	}
	return c.MaxPostBytes
}

// GetConcurrency returns the newsletter fan-out with default.
func (c *Config) GetConcurrency() int {
	if c.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return c.Concurrency
}

// GetFeedPath returns the feed suffix with default.
func (c *Config) GetFeedPath() string {
	if c.FeedPath == "" {
		return DefaultFeedPath
	}
	return c.FeedPath
}

// GetRequestDelay returns the pause between post fetches. Zero is allowed.
func (c *Config) GetRequestDelay() time.Duration {
	if c.RequestDelay == "" {
		return DefaultRequestDelay
	}
	d, err := time.ParseDuration(c.RequestDelay)
	if err != nil || d < 0 {
		return DefaultRequestDelay
	}
	return d
}

// GetRetryInterval returns the initial feed retry backoff.
func (c *Config) GetRetryInterval() time.Duration {
	if c.RetryInterval == "" {
		return DefaultRetryInterval
	}
	d, err := time.ParseDuration(c.RetryInterval)
	if err != nil || d <= 0 {
		return DefaultRetryInterval
	}
	return d
}

// GetUserAgent returns the user agent with default.
func (c *Config) GetUserAgent() string {
	if c.UserAgent == "" {
		return DefaultUserAgent
	}
	return c.UserAgent
}

// postOptions are the fetch options for a post page.
func (c *Config) postOptions() safefetch.Options {
	return safefetch.Options{
		Headers:      map[string]string{"User-Agent": c.GetUserAgent()},
		MaxBodyBytes: c.GetMaxPostBytes(),
		Stream:       true,
	}
}

// feedOptions are the fetch options for a newsletter feed.
func (c *Config) feedOptions() safefetch.Options {
	return safefetch.Options{
		Headers: map[string]string{
			"User-Agent": c.GetUserAgent(),
			"Accept":     "application/rss+xml, application/atom+xml, application/xml, text/xml, */*",
		},
	}
}
