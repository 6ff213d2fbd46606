package fetch

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// mainContentSelectors are tried in order; the first non-trivial match wins.
var mainContentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	".article-body",
	".article-content",
	".post-content",
	".entry-content",
	"#content",
}

// chromeSelectors are removed before any content scan.
var chromeSelectors = []string{
	"script", "style", "noscript", "template",
	"nav", "header", "footer", "aside",
	".sidebar", ".advertisement", ".ads", ".related", ".comments",
}

// extractPageContent fetches a page and extracts its main text, caching the
// result so repeated runs over the same hub don't refetch unchanged pages.
func (f *Fetcher) extractPageContent(ctx context.Context, pageURL string) (string, error) {
	if cached, ok := f.pageCache.Get(pageURL); ok {
		return cached, nil
	}

	body, err := f.get(ctx, pageURL)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		// Unparseable markup still has text worth keeping.
		return normalizeWhitespace(StripHTML(string(body))), nil
	}

	content := ExtractMain(doc)
	f.pageCache.Set(pageURL, content)
	return content, nil
}

// ExtractMain returns the main readable text of a document. It prefers
// semantic containers, then falls back to the largest text block, then the
// whole stripped body.
func ExtractMain(doc *goquery.Document) string {
	doc.Find(strings.Join(chromeSelectors, ", ")).Remove()

	for _, sel := range mainContentSelectors {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if text := normalizeWhitespace(node.Text()); len(text) >= 100 {
				return text
			}
		}
	}

	// Largest text block fallback.
	best := ""
	doc.Find("div, section").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Filter("div, section").Length() > 0 {
			return
		}
		if text := normalizeWhitespace(s.Text()); len(text) > len(best) {
			best = text
		}
	})
	if len(best) >= 100 {
		return best
	}

	return normalizeWhitespace(doc.Find("body").Text())
}

// PageMetadata is the best-effort metadata of an extracted page.
type PageMetadata struct {
	Title     string
	Published string // raw value from meta tags, may be empty
}

// ExtractMetadata pulls the page title and published date from meta tags.
func ExtractMetadata(doc *goquery.Document) PageMetadata {
	var md PageMetadata

	if v, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && v != "" {
		md.Title = strings.TrimSpace(v)
	} else {
		md.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	for _, sel := range []string{
		`meta[property="article:published_time"]`,
		`meta[name="date"]`,
		`meta[name="publish-date"]`,
		`meta[itemprop="datePublished"]`,
	} {
		if v, ok := doc.Find(sel).Attr("content"); ok && v != "" {
			md.Published = strings.TrimSpace(v)
			break
		}
	}
	return md
}

// StripHTML removes all markup from raw and returns the plain text.
// script and style blocks are skipped entirely.
func StripHTML(raw string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(raw))

	skipDepth := 0
	for {
		switch tt := z.Next(); tt {
		case html.ErrorToken:
			return normalizeWhitespace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if skipTag(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skipTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func skipTag(name string) bool {
	return name == "script" || name == "style"
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
