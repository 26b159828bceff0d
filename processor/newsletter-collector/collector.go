package newslettercollector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/safefetch/source/safefetch"
	"github.com/c360studio/safefetch/source/weburl"
)

// Failure stages.
const (
	StageNewsletter = "newsletter"
	StageFeed       = "feed"
	StageParse      = "parse"
	StagePost       = "post"
)

// Fetcher is the retrieval layer the collector goes through.
// *safefetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts safefetch.Options) (*safefetch.Response, error)
}

// Request selects what to collect.
type Request struct {
	// Newsletters are newsletter base URLs. Empty selects the configured
	// default list.
	Newsletters []string `json:"newsletters,omitempty" yaml:"newsletters,omitempty"`

	// PostsPerNewsletter is how many recent posts to take from each feed.
	// Zero selects the configured default; values above the maximum are capped.
	PostsPerNewsletter int `json:"posts_per_newsletter,omitempty" yaml:"posts_per_newsletter,omitempty"`
}

// Post is one collected newsletter post.
type Post struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Published   string    `json:"published"`
	Summary     string    `json:"summary"`
	FullContent string    `json:"full_content"`
	Source      string    `json:"source"`
	Author      string    `json:"author"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// Failure records a URL that could not be processed. Failures never abort
// the batch.
type Failure struct {
	URL   string `json:"url"`
	Stage string `json:"stage"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Result is the outcome of one collection job. Posts and failures follow
// the order of the requested newsletters.
type Result struct {
	JobID              string    `json:"job_id"`
	NewslettersScanned int       `json:"newsletters_scanned"`
	PostsCollected     int       `json:"posts_collected"`
	Posts              []Post    `json:"posts"`
	Failures           []Failure `json:"failures,omitempty"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// Collector gathers recent posts from newsletter feeds through the safe
// fetch layer.
type Collector struct {
	cfg        Config
	fetcher    Fetcher
	classifier safefetch.URLClassifier
	extractor  *Extractor
	logger     *slog.Logger

	// sleep waits between post fetches; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCollector creates a collector. A nil classifier uses a default
// weburl.Classifier; a nil logger uses slog.Default().
func NewCollector(cfg Config, fetcher Fetcher, classifier safefetch.URLClassifier, logger *slog.Logger) *Collector {
	if classifier == nil {
		classifier = weburl.NewClassifier(weburl.WithLogger(logger))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:        cfg,
		fetcher:    fetcher,
		classifier: classifier,
		extractor:  NewExtractor(cfg.GetMaxContentChars()),
		logger:     logger,
		sleep:      sleepContext,
	}
}

// newsletterOutcome is what one newsletter task produced.
type newsletterOutcome struct {
	posts    []Post
	failures []Failure
}

// Collect scans the requested newsletters concurrently. Per-URL problems
// are reported in Result.Failures; an error is returned only for an invalid
// request or when ctx ends.
func (c *Collector) Collect(ctx context.Context, req Request) (*Result, error) {
	newsletters, postsPer, err := c.normalize(req)
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	logger := c.logger.With("job_id", jobID)
	logger.Info("Starting collection",
		"newsletters", len(newsletters),
		"posts_per_newsletter", postsPer)

	outcomes := make([]newsletterOutcome, len(newsletters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.GetConcurrency())
	for i, newsletter := range newsletters {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = c.collectNewsletter(gctx, logger, newsletter, postsPer)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	result := &Result{
		JobID:              jobID,
		NewslettersScanned: len(newsletters),
		Posts:              []Post{},
		GeneratedAt:        time.Now().UTC(),
	}
	for _, o := range outcomes {
		result.Posts = append(result.Posts, o.posts...)
		result.Failures = append(result.Failures, o.failures...)
	}
	result.PostsCollected = len(result.Posts)

	logger.Info("Collection finished",
		"posts", result.PostsCollected,
		"failures", len(result.Failures))
	return result, nil
}

// normalize applies defaults and limits to a request.
func (c *Collector) normalize(req Request) ([]string, int, error) {
	if req.PostsPerNewsletter < 0 {
		return nil, 0, fmt.Errorf("posts_per_newsletter must be non-negative, got %d", req.PostsPerNewsletter)
	}

	newsletters := req.Newsletters
	if len(newsletters) == 0 {
		newsletters = c.cfg.DefaultNewsletters
	}
	if len(newsletters) == 0 {
		return nil, 0, errors.New("no newsletters requested and none configured")
	}
	if limit := c.cfg.GetMaxNewsletters(); len(newsletters) > limit {
		c.logger.Warn("Truncating newsletter list",
			"requested", len(newsletters),
			"max", limit)
		newsletters = newsletters[:limit]
	}

	postsPer := req.PostsPerNewsletter
	if postsPer == 0 {
		postsPer = c.cfg.GetDefaultPostsPerNewsletter()
	}
	if limit := c.cfg.GetMaxPostsPerNewsletter(); postsPer > limit {
		c.logger.Warn("Capping posts per newsletter",
			"requested", postsPer,
			"max", limit)
		postsPer = limit
	}
	return newsletters, postsPer, nil
}

func (c *Collector) collectNewsletter(ctx context.Context, logger *slog.Logger, newsletter string, limit int) newsletterOutcome {
	var out newsletterOutcome
	fail := func(rawURL, stage string, err error) {
		logger.Warn("Collection step failed",
			"url", rawURL,
			"stage", stage,
			"error", err)
		out.failures = append(out.failures, Failure{
			URL:   rawURL,
			Stage: stage,
			Kind:  failureKind(err),
			Error: err.Error(),
		})
	}

	if verdict := c.classifier.Classify(ctx, newsletter); !verdict.Safe() {
		fail(newsletter, StageNewsletter, &safefetch.UnsafeURLError{URL: newsletter, Reason: verdict.Reason})
		return out
	}

	feed := feedURL(newsletter, c.cfg.GetFeedPath())
	resp, err := c.fetchFeed(ctx, feed)
	if err != nil {
		fail(feed, StageFeed, err)
		return out
	}

	author, entries, err := parseFeed(resp.Body, resp.FinalURL, limit)
	if err != nil {
		fail(feed, StageParse, err)
		return out
	}
	logger.Debug("Parsed feed",
		"newsletter", newsletter,
		"entries", len(entries))

	for i, entry := range entries {
		if i > 0 {
			if err := c.sleep(ctx, c.cfg.GetRequestDelay()); err != nil {
				return out
			}
		}

		post := Post{
			Title:     entry.Title,
			URL:       entry.Link,
			Published: entry.Published,
			Summary:   entry.Summary,
			Source:    newsletter,
			Author:    author,
		}
		extraction, err := c.scrapePost(ctx, entry.Link)
		if err != nil {
			fail(entry.Link, StagePost, err)
		} else {
			post.FullContent = extraction.Markdown
			if post.Title == "" {
				post.Title = extraction.Title
			}
		}
		post.ScrapedAt = time.Now().UTC()
		out.posts = append(out.posts, post)
	}
	return out
}

// scrapePost downloads a post page as a capped stream and extracts its
// title and text.
func (c *Collector) scrapePost(ctx context.Context, rawURL string) (*Extraction, error) {
	resp, err := c.fetcher.Fetch(ctx, rawURL, c.cfg.postOptions())
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: resp.FinalURL, StatusCode: resp.StatusCode}
	}

	body := resp.Body
	if resp.Stream != nil {
		body, err = io.ReadAll(resp.Stream)
		if err != nil {
			return nil, &safefetch.NetworkError{URL: resp.FinalURL, Err: fmt.Errorf("read body: %w", err)}
		}
	}

	pageURL, err := url.Parse(resp.FinalURL)
	if err != nil {
		return nil, err
	}
	extraction, err := c.extractor.Extract(body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	return extraction, nil
}

// failureKind names the failure class for reporting.
func failureKind(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return "http_status"
	}
	return safefetch.KindOf(err).String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
