package fetch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"newscast/internal/model"
)

// routeTransport serves canned responses by URL substring match.
type routeTransport struct {
	routes map[string]string // substring -> body
}

func (m *routeTransport) Do(req *http.Request) (*http.Response, error) {
	for substr, body := range m.routes {
		if strings.Contains(req.URL.String(), substr) {
			return &http.Response{
				StatusCode: 200,
				Body:       io.NopCloser(bytes.NewBufferString(body)),
			}, nil
		}
	}
	return &http.Response{
		StatusCode: 404,
		Body:       io.NopCloser(bytes.NewBufferString("not found")),
	}, nil
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchFeed(t *testing.T) {
	transport := &routeTransport{routes: map[string]string{
		"/rss":                       loadFixture(t, "testdata/feed.xml"),
		"/2025/03/08/kernel-release": loadFixture(t, "testdata/article.html"),
	}}
	f := New(transport, testLogger())

	articles, err := f.fetchFeed(context.Background(), "https://technews.example.com/rss")
	if err != nil {
		t.Fatalf("fetch feed: %v", err)
	}

	if len(articles) != 3 {
		t.Fatalf("got %d articles, want 3", len(articles))
	}

	// Long inline content is used directly.
	if !strings.Contains(articles[0].Content, "protein structure prediction") {
		t.Errorf("inline content not used: %q", articles[0].Content[:min(60, len(articles[0].Content))])
	}
	if strings.Contains(articles[0].Content, "<p>") {
		t.Error("HTML tags not stripped from inline content")
	}

	// Short inline content triggers linked-page extraction.
	var kernel *model.Article
	for i := range articles {
		if articles[i].Title == "Kernel 6.19 Released" {
			kernel = &articles[i]
		}
	}
	if kernel == nil {
		t.Fatal("kernel article missing")
	}
	if !strings.Contains(kernel.Content, "partitioned consumers") {
		t.Errorf("linked page content not extracted, got %q", kernel.Content[:min(60, len(kernel.Content))])
	}
}

func TestFetchPage(t *testing.T) {
	transport := &routeTransport{routes: map[string]string{
		"blog.example.com/latest": loadFixture(t, "testdata/hub.html"),
		"/2025/03/09/scaling":     loadFixture(t, "testdata/article.html"),
		"/posts/how-we-ship":      loadFixture(t, "testdata/article.html"),
	}}
	f := New(transport, testLogger())

	articles, err := f.fetchPage(context.Background(), "https://blog.example.com/latest")
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}

	var urls []string
	for _, a := range articles {
		urls = append(urls, a.URL)
	}
	want := []string{
		"https://blog.example.com/2025/03/09/scaling-our-queue",
		"https://blog.example.com/posts/how-we-ship-faster",
	}
	if diff := cmp.Diff(want, urls); diff != "" {
		t.Errorf("discovered articles mismatch (-want +got):\n%s", diff)
	}

	if articles[0].PublishedAt == nil {
		t.Error("expected published date from meta tag")
	}
	if got := articles[0].Title; got != "Scaling our queue" {
		t.Errorf("title = %q, want %q", got, "Scaling our queue")
	}
	if strings.Contains(articles[0].Content, "newsletter") {
		t.Error("sidebar content leaked into extraction")
	}
}

func TestDiscoverLinksExcludesChromeAndBoilerplate(t *testing.T) {
	transport := &routeTransport{routes: map[string]string{
		"blog.example.com/latest": loadFixture(t, "testdata/hub.html"),
	}}
	f := New(transport, testLogger())
	articles, err := f.fetchPage(context.Background(), "https://blog.example.com/latest")
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	for _, a := range articles {
		for _, banned := range []string{"nav-trap", "footer-post", "/tag/", "/category/", "/page/", "privacy", ".png", "elsewhere.example.org"} {
			if strings.Contains(a.URL, banned) {
				t.Errorf("excluded link %q was discovered", a.URL)
			}
		}
	}
}

func TestFetchForum(t *testing.T) {
	transport := &routeTransport{routes: map[string]string{
		"/r/golang/hot.json": loadFixture(t, "testdata/forum_listing.json"),
		"/comments/bbb/":     loadFixture(t, "testdata/forum_comments.json"),
	}}
	f := New(transport, testLogger())

	articles, err := f.fetchForum(context.Background(), model.Source{
		Kind:            model.SourceForum,
		Community:       "r/golang",
		Sort:            model.ForumHot,
		IncludeComments: true,
	})
	if err != nil {
		t.Fatalf("fetch forum: %v", err)
	}

	// Stickied post is skipped.
	if len(articles) != 2 {
		t.Fatalf("got %d articles, want 2", len(articles))
	}
	if got := articles[0].Title; got != "Go 1.25 performance notes" {
		t.Errorf("title = %q", got)
	}
	if !strings.Contains(articles[0].Content, "allocator changes") {
		t.Error("top comments not appended")
	}
	// Post without an external URL falls back to its permalink.
	if !strings.Contains(articles[1].URL, "/r/golang/comments/ccc") {
		t.Errorf("self post URL = %q, want permalink", articles[1].URL)
	}
}

func TestResolveCommunity(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "golang", want: "golang"},
		{in: "r/golang", want: "golang"},
		{in: "/r/golang/", want: "golang"},
		{in: "https://www.reddit.com/r/golang/", want: "golang"},
		{in: "https://www.reddit.com/r/golang/hot", want: "golang"},
		{in: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := resolveCommunity(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("community mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchAllMergesAndSorts(t *testing.T) {
	transport := &routeTransport{routes: map[string]string{
		"/rss":                       loadFixture(t, "testdata/feed.xml"),
		"/2025/03/08/kernel-release": loadFixture(t, "testdata/article.html"),
		"/r/golang/hot.json":         loadFixture(t, "testdata/forum_listing.json"),
	}}
	f := New(transport, testLogger())

	sources := []model.Source{
		{Kind: model.SourceFeed, URL: "https://technews.example.com/rss"},
		{Kind: model.SourceForum, Community: "golang", Sort: model.ForumHot},
		{Kind: model.SourceFeed, URL: "https://broken.example.com/rss"}, // fails soft
	}
	articles := f.FetchAll(context.Background(), sources)

	if len(articles) != 5 {
		t.Fatalf("got %d articles, want 5", len(articles))
	}

	// Newest first.
	for i := 1; i < len(articles); i++ {
		prev, cur := articles[i-1].PublishedAt, articles[i].PublishedAt
		if prev == nil && cur != nil {
			t.Errorf("undated article sorted before dated at index %d", i)
		}
		if prev != nil && cur != nil && prev.Before(*cur) {
			t.Errorf("articles out of order at index %d: %v before %v", i, prev, cur)
		}
	}
}

func TestFetchAllDeduplicatesByURL(t *testing.T) {
	transport := &routeTransport{routes: map[string]string{
		"/rss": loadFixture(t, "testdata/feed.xml"),
	}}
	f := New(transport, testLogger())

	sources := []model.Source{
		{Kind: model.SourceFeed, URL: "https://technews.example.com/rss"},
		{Kind: model.SourceFeed, URL: "https://mirror.example.com/rss"},
	}
	articles := f.FetchAll(context.Background(), sources)

	seen := make(map[string]int)
	for _, a := range articles {
		seen[a.URL]++
	}
	for u, n := range seen {
		if n > 1 {
			t.Errorf("url %q appears %d times", u, n)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.com/Post/", "https://example.com/Post"},
		{"https://example.com/a?utm_source=x&id=1", "https://example.com/a?id=1"},
		{"https://example.com/a#section", "https://example.com/a"},
		{"https://example.com/a?fbclid=abc", "https://example.com/a"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, NormalizeURL(tt.in)); diff != "" {
				t.Errorf("normalize mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	in := `<article><script>var x = 1;</script><p>Hello <b>world</b></p><style>p{}</style> again</article>`
	got := StripHTML(in)
	if diff := cmp.Diff("Hello world again", got); diff != "" {
		t.Errorf("stripped text mismatch (-want +got):\n%s", diff)
	}
}
