// Package newslettercollector gathers recent posts from newsletter feeds.
//
// For each newsletter URL the collector reads <newsletter>/feed, takes the
// first N entries that carry a link and downloads each post page. Every
// request goes through safefetch, so newsletter URLs, feed redirects and post
// links supplied by a feed are all classified before any connection is made.
//
// Post pages are read as capped streams and reduced to markdown: known
// newsletter content containers are preferred, then readability's main
// content, then the page body with navigation removed. The text is cut to
// Config.MaxContentChars characters.
//
// A failing newsletter, feed or post is recorded in Result.Failures and the
// batch continues. Feed fetches that fail with a network error are retried
// with exponential backoff; unsafe URLs and redirect errors are not.
//
// Usage:
//
//	fetcher := safefetch.NewFetcher(safefetch.DefaultConfig())
//	collector := newslettercollector.NewCollector(newslettercollector.DefaultConfig(), fetcher, nil, logger)
//	result, err := collector.Collect(ctx, newslettercollector.Request{
//	    Newsletters:        []string{"https://example.substack.com"},
//	    PostsPerNewsletter: 3,
//	})
package newslettercollector
