// Package fetch gathers articles from a job's configured sources: syndication
// feeds, monitored hub pages, and community forums.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"newscast/internal/cache"
	"newscast/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	userAgent   = "NewscastBot/1.0"
	maxBodySize = 5 * 1024 * 1024
)

// Fetcher downloads articles from all supported source kinds.
type Fetcher struct {
	client    HTTPClient
	log       *slog.Logger
	timeout   time.Duration
	pageCache *cache.TTL[string]

	minInlineContent int
	maxPageLinks     int
	maxForumPosts    int
	maxComments      int
	commentMaxLen    int
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, log *slog.Logger) *Fetcher {
	return &Fetcher{
		client:           client,
		log:              log,
		timeout:          30 * time.Second,
		pageCache:        cache.NewTTL[string](6 * time.Hour),
		minInlineContent: 300,
		maxPageLinks:     10,
		maxForumPosts:    15,
		maxComments:      5,
		commentMaxLen:    500,
	}
}

// SweepCache drops expired page-content cache entries.
func (f *Fetcher) SweepCache() int {
	return f.pageCache.Sweep()
}

// FetchAll fetches every source concurrently and returns the merged article
// list, deduplicated by URL (first occurrence wins) and sorted by publish
// time descending with undated articles last. A failing source logs and
// contributes nothing; it never fails the whole fetch.
func (f *Fetcher) FetchAll(ctx context.Context, sources []model.Source) []model.Article {
	results := make([][]model.Article, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			articles, err := f.fetchOne(ctx, src)
			if err != nil {
				f.log.Error("fetch source", "kind", src.Kind, "url", src.URL, "community", src.Community, "error", err)
				return nil
			}
			results[i] = articles
			return nil
		})
	}
	_ = g.Wait()

	var merged []model.Article
	seen := make(map[string]bool)
	for _, batch := range results {
		for _, a := range batch {
			if seen[a.URL] {
				continue
			}
			seen[a.URL] = true
			merged = append(merged, a)
		}
	}

	slices.SortStableFunc(merged, func(a, b model.Article) int {
		switch {
		case a.PublishedAt == nil && b.PublishedAt == nil:
			return 0
		case a.PublishedAt == nil:
			return 1
		case b.PublishedAt == nil:
			return -1
		default:
			return b.PublishedAt.Compare(*a.PublishedAt)
		}
	})
	return merged
}

func (f *Fetcher) fetchOne(ctx context.Context, src model.Source) ([]model.Article, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	switch src.Kind {
	case model.SourceFeed:
		return f.fetchFeed(ctx, src.URL)
	case model.SourcePage:
		return f.fetchPage(ctx, src.URL)
	case model.SourceForum:
		return f.fetchForum(ctx, src)
	}
	return nil, fmt.Errorf("unknown source kind %q", src.Kind)
}

// get performs a GET with the per-call timeout and returns the body, capped
// at maxBodySize.
func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// NormalizeURL canonicalizes an article URL for deduplication: lowercased
// host, no fragment, no tracking query parameters, no trailing slash.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(key, "utm_") || key == "ref" || key == "fbclid" {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}
