package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"newscast/internal/model"
)

var (
	urlDatePattern  = regexp.MustCompile(`/(\d{4})/(\d{1,2})(?:/(\d{1,2}))?/`)
	skippedPrefixes = []string{
		"/tag/", "/tags/", "/category/", "/categories/", "/page/",
		"/author/", "/search", "/archive",
		"/privacy", "/terms", "/legal", "/imprint", "/cookie",
		"/about", "/contact", "/login", "/signup", "/subscribe",
	}
	skippedExtensions = []string{
		".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp",
		".pdf", ".zip", ".gz", ".tar",
		".css", ".js", ".json", ".xml", ".rss", ".atom",
		".mp3", ".mp4", ".woff", ".woff2",
	}
)

// fetchPage scans a hub page for same-domain article links and extracts each
// linked page's content and metadata.
func (f *Fetcher) fetchPage(ctx context.Context, hubURL string) ([]model.Article, error) {
	hub, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}

	body, err := f.get(ctx, hubURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse hub page: %w", err)
	}

	links := f.discoverArticleLinks(doc, hub)

	var articles []model.Article
	for _, link := range links {
		article, err := f.fetchLinkedArticle(ctx, link)
		if err != nil {
			f.log.Debug("fetch linked article", "url", link, "error", err)
			continue
		}
		articles = append(articles, article)
	}
	return articles, nil
}

// discoverArticleLinks returns same-domain links that look like articles,
// capped at maxPageLinks. Navigation, footer, and sidebar regions are
// excluded before scanning.
func (f *Fetcher) discoverArticleLinks(doc *goquery.Document, hub *url.URL) []string {
	doc.Find("nav, header, footer, aside, .sidebar, .menu").Remove()

	var links []string
	seen := make(map[string]bool)

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		resolved, err := hub.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		resolved.Fragment = ""

		if !strings.EqualFold(resolved.Host, hub.Host) {
			return true
		}
		if !looksLikeArticlePath(resolved) {
			return true
		}

		u := resolved.String()
		if u == hub.String() || seen[u] {
			return true
		}
		seen[u] = true
		links = append(links, u)
		return len(links) < f.maxPageLinks
	})
	return links
}

// looksLikeArticlePath applies the link heuristics: a date segment in the
// path, or a sufficiently deep slug; boilerplate paths, pagination, and
// non-document extensions are rejected.
func looksLikeArticlePath(u *url.URL) bool {
	p := strings.ToLower(u.Path)
	if p == "" || p == "/" {
		return false
	}

	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(p, prefix) {
			return false
		}
	}
	ext := path.Ext(p)
	for _, skipped := range skippedExtensions {
		if ext == skipped {
			return false
		}
	}
	if u.Query().Has("page") {
		return false
	}

	if urlDatePattern.MatchString(p) {
		return true
	}

	// Deep slug: at least two path segments with a wordy final segment.
	segments := strings.Split(strings.Trim(p, "/"), "/")
	if len(segments) >= 2 {
		last := segments[len(segments)-1]
		if strings.Count(last, "-") >= 2 {
			return true
		}
	}
	return false
}

// fetchLinkedArticle extracts content and best-effort metadata for one link.
func (f *Fetcher) fetchLinkedArticle(ctx context.Context, link string) (model.Article, error) {
	body, err := f.get(ctx, link)
	if err != nil {
		return model.Article{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.Article{}, fmt.Errorf("parse article page: %w", err)
	}

	content := ExtractMain(doc)
	if content == "" {
		return model.Article{}, fmt.Errorf("no content extracted")
	}
	f.pageCache.Set(link, content)

	md := ExtractMetadata(doc)
	title := md.Title
	if title == "" {
		title = link
	}

	return model.Article{
		Title:       title,
		URL:         NormalizeURL(link),
		Content:     content,
		PublishedAt: parsePublished(md.Published, link),
	}, nil
}

// parsePublished tries meta-tag timestamps first, then a date pattern in the
// URL. Returns nil when neither yields a date.
func parsePublished(metaValue, link string) *time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, metaValue); err == nil {
			return &t
		}
	}

	if m := urlDatePattern.FindStringSubmatch(link); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day := 1
		if m[3] != "" {
			day, _ = strconv.Atoi(m[3])
		}
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
			return &t
		}
	}
	return nil
}
