package newslettercollector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"

	"github.com/c360studio/safefetch/source/safefetch"
)

// StatusError reports a response with an unexpected HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP %d from %q", e.StatusCode, e.URL)
}

// feedEntry is a feed item with a usable post link.
type feedEntry struct {
	Title     string
	Link      string
	Published string
	Summary   string
}

// feedURL derives the feed location of a newsletter.
func feedURL(newsletter, feedPath string) string {
	return strings.TrimRight(newsletter, "/") + "/" + strings.TrimLeft(feedPath, "/")
}

// fetchFeed downloads the feed, retrying network failures with exponential
// backoff. Other failures are returned at once.
func (c *Collector) fetchFeed(ctx context.Context, rawURL string) (*safefetch.Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.GetRetryInterval()
	policy.MaxElapsedTime = 0

	var resp *safefetch.Response
	attempt := 0
	operation := func() error {
		attempt++
		r, err := c.fetcher.Fetch(ctx, rawURL, c.cfg.feedOptions())
		if err != nil {
			if safefetch.IsRetryable(err) && ctx.Err() == nil {
				c.logger.Debug("Feed fetch failed, will retry",
					"url", rawURL,
					"attempt", attempt,
					"error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.FeedRetries)), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: resp.FinalURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// parseFeed returns the feed title and up to limit entries that carry a
// link. Relative links are resolved against the feed's final URL.
func parseFeed(body []byte, base string, limit int) (string, []feedEntry, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("parse feed: %w", err)
	}

	baseURL, _ := url.Parse(base)
	entries := make([]feedEntry, 0, limit)
	for _, item := range feed.Items {
		if len(entries) >= limit {
			break
		}
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		if baseURL != nil {
			if ref, err := url.Parse(link); err == nil {
				link = baseURL.ResolveReference(ref).String()
			}
		}
		entries = append(entries, feedEntry{
			Title:     strings.TrimSpace(item.Title),
			Link:      link,
			Published: item.Published,
			Summary:   item.Description,
		})
	}
	return strings.TrimSpace(feed.Title), entries, nil
}
