package fetch

import (
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"

	"newscast/internal/model"
)

// fetchFeed parses a syndication feed. Entries with enough inline content use
// it directly (tags stripped); short entries get their linked page fetched
// and its main content extracted.
func (f *Fetcher) fetchFeed(ctx context.Context, feedURL string) ([]model.Article, error) {
	body, err := f.get(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var articles []model.Article
	for _, item := range feed.Items {
		if item.Link == "" {
			continue
		}

		inline := item.Content
		if inline == "" {
			inline = item.Description
		}
		content := StripHTML(inline)

		if len(content) < f.minInlineContent {
			extracted, err := f.extractPageContent(ctx, item.Link)
			if err != nil {
				f.log.Debug("extract linked page", "url", item.Link, "error", err)
			} else if len(extracted) > len(content) {
				content = extracted
			}
		}
		if content == "" {
			continue
		}

		articles = append(articles, model.Article{
			Title:       item.Title,
			URL:         NormalizeURL(item.Link),
			Content:     content,
			PublishedAt: item.PublishedParsed,
		})
	}
	return articles, nil
}
